package billing

import (
	"context"
	"net/http"
)

// Provider is the generic interface both payment surfaces implement: the
// web checkout/webhook flow and the mobile in-app-purchase flow. Each
// provider owns its inbound endpoint and drives verification, identity
// resolution, reconciliation and persistence internally.
type Provider interface {
	// Name returns the provider name (e.g. "stripe", "revenuecat").
	Name() string

	// Handler returns the HTTP handler for this provider's inbound
	// endpoint: the webhook receiver on the web path, the authenticated
	// native sync endpoint on the mobile path.
	Handler() http.Handler

	// SyncUser re-derives the user's entitlement from the provider's
	// authoritative state. Used for restore-purchases and nightly
	// reconciliation jobs. Returns the resulting tier. Providers without
	// an authoritative pull surface return ErrNotSupported.
	SyncUser(ctx context.Context, userID string) (string, error)
}
