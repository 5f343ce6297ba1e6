package entitled

import "time"

// EventType is a normalized subscription lifecycle event.
type EventType string

const (
	// EventCheckoutCompleted is a completed checkout or a verified native
	// purchase: a new paid-tier activation.
	EventCheckoutCompleted EventType = "checkout_completed"
	// EventSubscriptionUpdated is any provider-side subscription change
	// (cancellation scheduling, reactivation, plan change, hard cancel).
	EventSubscriptionUpdated EventType = "subscription_updated"
	// EventSubscriptionDeleted is a terminal subscription removal.
	EventSubscriptionDeleted EventType = "subscription_deleted"
	// EventInvoicePaid is a successful renewal payment.
	EventInvoicePaid EventType = "invoice_paid"
	// EventInvoiceFailed is a failed payment (soft signal).
	EventInvoiceFailed EventType = "invoice_failed"
)

// Event is a provider-agnostic, already-verified subscription event. The
// provider adapters normalize raw webhook payloads and native-sync calls
// into this shape before handing it to the Reconciler. Events are
// ephemeral: processed once, never persisted.
type Event struct {
	ID       string
	Type     EventType
	Provider Provider
	UserID   string

	// Tier is the resolved target tier for events that carry a price or a
	// verified entitlement. Empty means "keep the current tier".
	Tier string

	PriceRef        string
	SubscriptionRef string
	CustomerRef     string

	// ProviderStatus is the provider's raw subscription status
	// ("active", "canceled", "past_due", ...).
	ProviderStatus string

	// CancelAtPeriodEnd with a non-nil CancelledAt schedules a lapse at
	// CancelAt without changing the tier yet.
	CancelAtPeriodEnd bool
	CancelledAt       *time.Time
	CancelAt          *time.Time

	CurrentPeriodEnd *time.Time

	// ExpiresAt is the entitlement expiration on the native path.
	ExpiresAt *time.Time

	OccurredAt time.Time
}
