package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/pantrykit/entitled/pkg/billing"
	"github.com/pantrykit/entitled/pkg/billing/internal"
	"github.com/pantrykit/entitled/pkg/entitled"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024
)

// Config extends billing.Config with Stripe-specific options.
type Config struct {
	billing.Config

	// StripeAPIKey authenticates outbound Stripe API calls (subscription
	// lookups, metadata patching).
	StripeAPIKey string

	// StripeWebhookSecret is the endpoint signing secret used to verify
	// the Stripe-Signature header.
	StripeWebhookSecret string
}

// Provider handles Stripe webhooks and on-demand subscription refreshes for
// the web purchase path. Stripe is the source of truth for checkout and
// recurring billing; every accepted event flows through the reconciler and
// is committed to both the entitlement profile and the subscription record.
type Provider struct {
	cfg           Config
	store         entitled.Store
	catalog       *entitled.Catalog
	prices        *entitled.PriceMap
	reconciler    *entitled.Reconciler
	writer        *entitled.Writer
	ledger        entitled.EventLedger
	client        *stripe.Client
	webhookSecret string
	rateLimiter   *internal.RateLimiter
	logger        entitled.Logger
	metrics       billing.Metrics
	onEvent       billing.WebhookCallback
}

// NewProvider creates a Stripe billing provider.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Store == nil || cfg.Catalog == nil || cfg.Prices == nil ||
		cfg.Reconciler == nil || cfg.Writer == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(cfg.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	secret := strings.TrimSpace(cfg.StripeWebhookSecret)
	if secret == "" {
		secret = strings.TrimSpace(cfg.WebhookSecret)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = &entitled.NoopLogger{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = billing.NoopMetrics{}
	}

	return &Provider{
		cfg:           cfg,
		store:         cfg.Store,
		catalog:       cfg.Catalog,
		prices:        cfg.Prices,
		reconciler:    cfg.Reconciler,
		writer:        cfg.Writer,
		ledger:        cfg.Ledger,
		client:        stripe.NewClient(apiKey),
		webhookSecret: secret,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		logger:        logger,
		metrics:       metrics,
		onEvent:       cfg.OnEvent,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// Handler returns the rate-limited HTTP handler for Stripe webhooks.
func (p *Provider) Handler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// SyncUser refreshes a user's entitlement from the live Stripe subscription
// referenced by their profile. Returns the resulting tier.
func (p *Provider) SyncUser(ctx context.Context, userID string) (string, error) {
	start := time.Now()
	tier, err := p.syncFromAPI(ctx, userID)
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordUserSync(providerName, status)
	p.metrics.RecordUserSyncDuration(providerName, time.Since(start))
	return tier, err
}
