package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/pantrykit/entitled/pkg/entitled"
)

// WebhookCallback is invoked after an event has been fully reconciled and
// persisted. Use it to notify external collaborators (e.g. the
// credit-ledger reset mechanism or a cache invalidator).
type WebhookCallback func(ctx context.Context, event WebhookEvent) error

// Config defines the standard configuration all providers accept.
type Config struct {
	// Store is the persistence backend for profiles and canonical
	// subscription records (required).
	Store entitled.Store

	// Catalog is the static tier configuration (required).
	Catalog *entitled.Catalog

	// Prices maps provider price references to tiers (required on the
	// web path).
	Prices *entitled.PriceMap

	// Reconciler computes new state from events (required).
	Reconciler *entitled.Reconciler

	// Writer persists reconciliation results (required).
	Writer *entitled.Writer

	// Ledger deduplicates replayed events by id (optional). When nil,
	// replays are handled by the reconciler's replay-stable transitions
	// only.
	Ledger entitled.EventLedger

	// LedgerTTL bounds how long event ids are remembered (default: 24h).
	LedgerTTL time.Duration

	// WebhookSecret verifies inbound webhook authenticity.
	WebhookSecret string

	// APIKey is used for outbound calls to the provider's API (e.g. the
	// entitlement verification service).
	APIKey string

	// HTTPClient is an optional HTTP client for API calls. If nil, a
	// default client with a 10s timeout is used.
	HTTPClient *http.Client

	// OnEvent is called after successful processing (optional).
	OnEvent WebhookCallback

	// Logger defaults to a no-op logger.
	Logger entitled.Logger

	// Metrics defaults to NoopMetrics.
	Metrics Metrics
}

const defaultLedgerTTL = 24 * time.Hour

// LedgerWindow returns the configured event ledger TTL or its default.
func (c *Config) LedgerWindow() time.Duration {
	if c.LedgerTTL > 0 {
		return c.LedgerTTL
	}
	return defaultLedgerTTL
}
