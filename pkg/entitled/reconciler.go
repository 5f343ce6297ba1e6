package entitled

import (
	"fmt"
	"time"
)

const providerStatusCanceled = "canceled"

// Reconciler computes the new canonical entitlement state from an incoming
// event plus prior state. Reconcile is a pure function of its inputs (and
// the injected clock); it performs no I/O and has no side effects. Ordering
// is last-writer-wins: the most recently processed event always wins, even
// if it is logically older. Exact replays are handled by the EventLedger,
// not here.
type Reconciler struct {
	catalog *Catalog
	now     func() time.Time
	metrics Metrics
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock overrides the reconciler's clock. Used in tests.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// WithMetrics records each reconciliation run by event type and outcome.
func WithMetrics(metrics Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// NewReconciler creates a Reconciler over the given tier catalog.
func NewReconciler(catalog *Catalog, opts ...ReconcilerOption) (*Reconciler, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	r := &Reconciler{catalog: catalog, now: time.Now, metrics: &NoopMetrics{}}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reconcile applies ev to prior and returns the new state. Nil prior
// records mean the user has no entitlement yet; the free tier is assumed.
func (r *Reconciler) Reconcile(prior State, ev Event) (Result, error) {
	res, err := r.reconcile(prior, ev)
	eventType := string(ev.Type)
	if eventType == "" {
		eventType = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordReconcile(eventType, status)
	return res, err
}

func (r *Reconciler) reconcile(prior State, ev Event) (Result, error) {
	if ev.UserID == "" {
		return Result{}, ErrMissingUserID
	}
	if ev.Tier != "" && !r.catalog.Has(ev.Tier) {
		return Result{}, fmt.Errorf("tier %q: %w", ev.Tier, ErrInvalidTier)
	}

	now := r.now().UTC()
	profile := r.baseProfile(prior.Profile, ev.UserID)
	record := r.baseRecord(prior.Subscription, ev.UserID)
	res := Result{PreviousTier: profile.Tier, Event: ev}

	switch ev.Type {
	case EventCheckoutCompleted:
		if err := r.applyCheckout(profile, record, ev, now, &res); err != nil {
			return Result{}, err
		}
	case EventSubscriptionUpdated:
		r.applyUpdate(profile, record, ev, now)
	case EventSubscriptionDeleted:
		r.applyDelete(profile, record, ev, now)
	case EventInvoicePaid:
		paidAt := ev.OccurredAt
		if paidAt.IsZero() {
			paidAt = now
		}
		profile.LastPaymentDate = &paidAt
	case EventInvoiceFailed:
		profile.ProviderStatus = string(StatusPastDue)
		record.Status = StatusPastDue
	default:
		return Result{}, fmt.Errorf("%q: %w", ev.Type, ErrUnknownEventType)
	}

	if !r.catalog.Has(profile.Tier) {
		return Result{}, fmt.Errorf("tier %q: %w", profile.Tier, ErrInvalidTier)
	}

	profile.UpdatedAt = now
	record.UpdatedAt = now
	res.TierChanged = profile.Tier != res.PreviousTier
	res.State = State{Profile: profile, Subscription: record}
	return res, nil
}

// applyCheckout activates the mapped tier. Credits reset only on a genuine
// new activation: a replay of an already-applied activation (same tier,
// same subscription, still active) keeps the credit counters and dates
// stable so processing an identical event twice equals processing it once.
func (r *Reconciler) applyCheckout(profile *Profile, record *SubscriptionRecord, ev Event, now time.Time, res *Result) error {
	if ev.Tier == "" {
		return fmt.Errorf("checkout without resolved tier: %w", ErrInvalidTier)
	}
	tc, _ := r.catalog.Get(ev.Tier)

	replay := record.Status == StatusActive &&
		profile.Tier == ev.Tier &&
		(ev.SubscriptionRef == "" || profile.ProviderSubscriptionRef == ev.SubscriptionRef)
	if !replay {
		profile.CreditsUsedThisMonth = 0
		profile.CreditsResetDate = now
		profile.SubscriptionStartDate = now
		res.CreditsReset = true
	}

	profile.Tier = ev.Tier
	profile.MonthlyCreditsTotal = tc.MonthlyCredits
	profile.CancelReason = ""
	profile.SubscriptionEndDate = ev.ExpiresAt
	profile.ProviderStatus = string(StatusActive)
	if ev.SubscriptionRef != "" {
		profile.ProviderSubscriptionRef = ev.SubscriptionRef
	}
	if ev.CustomerRef != "" {
		profile.ProviderCustomerRef = ev.CustomerRef
	}

	record.Provider = ev.Provider
	record.Status = StatusActive
	record.Tier = ev.Tier
	record.ExternalSubscriptionRef = ev.SubscriptionRef
	record.PriceRef = ev.PriceRef
	record.CancelledAt = nil
	record.CurrentPeriodEnd = ev.CurrentPeriodEnd
	if record.CurrentPeriodEnd == nil {
		record.CurrentPeriodEnd = ev.ExpiresAt
	}
	return nil
}

func (r *Reconciler) applyUpdate(profile *Profile, record *SubscriptionRecord, ev Event, now time.Time) {
	record.Provider = ev.Provider
	if ev.SubscriptionRef != "" {
		record.ExternalSubscriptionRef = ev.SubscriptionRef
		profile.ProviderSubscriptionRef = ev.SubscriptionRef
	}
	if ev.PriceRef != "" {
		record.PriceRef = ev.PriceRef
	}
	if ev.CurrentPeriodEnd != nil {
		record.CurrentPeriodEnd = ev.CurrentPeriodEnd
	}

	switch {
	case ev.ProviderStatus == providerStatusCanceled:
		// Hard cancel: unconditional downgrade regardless of period end.
		r.downgradeToFree(profile, record)
		profile.ProviderStatus = providerStatusCanceled
		cancelledAt := ev.CancelledAt
		if cancelledAt == nil {
			cancelledAt = &now
		}
		record.CancelledAt = cancelledAt

	case ev.CancelAtPeriodEnd && ev.CancelledAt != nil:
		// Scheduled cancellation: the tier keeps gating access until the
		// scheduled instant elapses (enforced by an external job).
		endsAt := ev.CancelAt
		if endsAt == nil {
			endsAt = ev.CurrentPeriodEnd
		}
		profile.CancelReason = CancelReasonPendingCancel
		profile.SubscriptionEndDate = endsAt
		if ev.ProviderStatus != "" {
			profile.ProviderStatus = ev.ProviderStatus
		}
		record.Status = StatusPendingCancel
		record.CancelledAt = ev.CancelledAt

	case !ev.CancelAtPeriodEnd && ev.ProviderStatus == string(StatusActive):
		// Reactivation: clear cancellation markers, reapply the tier from
		// the current price. No credit reset.
		profile.CancelReason = ""
		profile.SubscriptionEndDate = nil
		profile.ProviderStatus = string(StatusActive)
		record.Status = StatusActive
		record.CancelledAt = nil
		r.reapplyTier(profile, record, ev.Tier)

	default:
		// Plan change or other update: reapply the tier from the current
		// price. No credit reset.
		if ev.ProviderStatus != "" {
			profile.ProviderStatus = ev.ProviderStatus
		}
		r.reapplyTier(profile, record, ev.Tier)
	}
}

func (r *Reconciler) applyDelete(profile *Profile, record *SubscriptionRecord, ev Event, now time.Time) {
	r.downgradeToFree(profile, record)
	profile.ProviderSubscriptionRef = ""
	profile.ProviderStatus = providerStatusCanceled
	profile.CancelReason = ""
	profile.SubscriptionEndDate = nil

	record.Provider = ev.Provider
	record.ExternalSubscriptionRef = ""
	cancelledAt := ev.CancelledAt
	if cancelledAt == nil {
		cancelledAt = &now
	}
	record.CancelledAt = cancelledAt
}

// downgradeToFree moves the user to the free terminal tier. Used credits
// are retained: they reset only on a new paid-tier activation.
func (r *Reconciler) downgradeToFree(profile *Profile, record *SubscriptionRecord) {
	free, _ := r.catalog.Get(TierFree)
	profile.Tier = TierFree
	profile.MonthlyCreditsTotal = free.MonthlyCredits
	record.Tier = TierFree
	record.Status = StatusExpired
}

// reapplyTier sets the tier from a resolved price reference. An empty tier
// means the event carried no usable price; the current tier is kept.
func (r *Reconciler) reapplyTier(profile *Profile, record *SubscriptionRecord, tier string) {
	if tier == "" {
		return
	}
	tc, _ := r.catalog.Get(tier)
	profile.Tier = tier
	profile.MonthlyCreditsTotal = tc.MonthlyCredits
	record.Tier = tier
}

func (r *Reconciler) baseProfile(prior *Profile, userID string) *Profile {
	if prior != nil {
		p := *prior
		return &p
	}
	free, _ := r.catalog.Get(TierFree)
	return &Profile{
		UserID:              userID,
		Tier:                TierFree,
		MonthlyCreditsTotal: free.MonthlyCredits,
	}
}

func (r *Reconciler) baseRecord(prior *SubscriptionRecord, userID string) *SubscriptionRecord {
	if prior != nil {
		rec := *prior
		return &rec
	}
	return &SubscriptionRecord{
		UserID: userID,
		Tier:   TierFree,
		Status: StatusExpired,
	}
}
