package entitled

import (
	"time"
)

// Provider identifies the payment surface a subscription originated from.
type Provider string

const (
	// ProviderWeb is the web checkout / webhook flow (Stripe).
	ProviderWeb Provider = "web"
	// ProviderApple is the Apple in-app-purchase flow.
	ProviderApple Provider = "apple"
	// ProviderGoogle is the Google Play in-app-purchase flow.
	ProviderGoogle Provider = "google"
)

// Status is the canonical subscription status.
type Status string

const (
	// StatusActive means the subscription is in good standing.
	StatusActive Status = "active"
	// StatusPendingCancel means the subscription remains active until a
	// known future instant, after which it lapses to the free tier.
	StatusPendingCancel Status = "pending_cancel"
	// StatusExpired means the subscription has ended.
	StatusExpired Status = "expired"
	// StatusPastDue flags a failed payment. It does not change the tier.
	StatusPastDue Status = "past_due"
)

// TierFree is the terminal tier users are downgraded to. It must always be
// present in the tier catalog; records are never deleted, only downgraded.
const TierFree = "free"

// CancelReasonPendingCancel marks a profile whose subscription is scheduled
// to lapse at a known future instant.
const CancelReasonPendingCancel = "pending_cancel"

// SubscriptionRecord is the canonical per-provider subscription state.
// Exactly one record exists per user; writes from any provider overwrite
// the prior record (see MergeSubscriptionState).
type SubscriptionRecord struct {
	UserID                  string
	Provider                Provider
	Status                  Status
	Tier                    string
	ExternalSubscriptionRef string
	PriceRef                string
	CurrentPeriodEnd        *time.Time
	CancelledAt             *time.Time
	UpdatedAt               time.Time
}

// Profile is the read-hot entitlement cache for a single user. Tier is
// always a key present in the tier catalog. CreditsUsedThisMonth resets to
// zero only on a new paid-tier activation, never on renewal or status-only
// changes.
type Profile struct {
	UserID                  string
	Tier                    string
	MonthlyCreditsTotal     int
	CreditsUsedThisMonth    int
	CreditsResetDate        time.Time
	ProviderCustomerRef     string
	ProviderSubscriptionRef string
	ProviderStatus          string
	SubscriptionStartDate   time.Time
	SubscriptionEndDate     *time.Time
	CancelReason            string
	LastPaymentDate         *time.Time
	UpdatedAt               time.Time
}

// TierConfig defines the entitlements granted by a tier.
type TierConfig struct {
	Name string

	// MonthlyCredits is the consumable allowance granted each month.
	MonthlyCredits int

	// Feature limits gated by the tier.
	MaxLists        int
	MaxItemsPerList int
	MaxRecipes      int

	// AdFree disables ads for the tier.
	AdFree bool
}

// State bundles the two dependent records the reconciler operates on.
// Nil fields mean the record does not exist yet.
type State struct {
	Profile      *Profile
	Subscription *SubscriptionRecord
}

// Result is the outcome of a reconciliation: the new state plus change
// markers callers use for metrics and the credit-ledger reset hook.
type Result struct {
	State        State
	PreviousTier string
	TierChanged  bool
	CreditsReset bool
	Event        Event
}
