package entitled

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTierTooLow is returned by Gate.Require when the user's effective
	// tier ranks below the required one.
	ErrTierTooLow = errors.New("tier too low")

	// ErrCreditsExhausted is returned by Gate.Consume when a user has no
	// remaining monthly credits for the requested amount.
	ErrCreditsExhausted = errors.New("monthly credits exhausted")
)

// Gate answers entitlement questions for request handling: does this user's
// tier unlock a feature, and do they have credits left to spend. It reads
// the same profiles the reconciler writes; middleware packages wrap it for
// specific frameworks.
type Gate struct {
	store   Store
	catalog *Catalog
	now     func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateClock overrides the gate's time source.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a Gate over a store and tier catalog.
func NewGate(store Store, catalog *Catalog, opts ...GateOption) (*Gate, error) {
	if store == nil {
		return nil, errors.New("gate: store is required")
	}
	if catalog == nil {
		return nil, errors.New("gate: catalog is required")
	}
	g := &Gate{store: store, catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Profile returns the user's current profile. Users without one get a
// synthetic free-tier profile rather than an error: absence of a profile
// means "never subscribed", not "unknown user".
func (g *Gate) Profile(ctx context.Context, userID string) (*Profile, error) {
	profile, err := g.store.GetProfile(ctx, userID)
	if err == ErrProfileNotFound {
		return g.freeProfile(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// EffectiveTier returns the tier a profile actually entitles right now.
// A profile whose subscription end date has passed counts as free even if
// the stored tier has not been reconciled down yet; webhooks can lag or be
// missed entirely, and access control must not depend on them arriving.
func (g *Gate) EffectiveTier(profile *Profile) string {
	if profile == nil || !g.catalog.Has(profile.Tier) {
		return TierFree
	}
	if profile.SubscriptionEndDate != nil && !profile.SubscriptionEndDate.After(g.now()) {
		return TierFree
	}
	return profile.Tier
}

// Require checks that the user's effective tier ranks at or above minTier.
// It returns the profile so callers can pass entitlements downstream, and
// ErrTierTooLow when the check fails.
func (g *Gate) Require(ctx context.Context, userID, minTier string) (*Profile, error) {
	if !g.catalog.Has(minTier) {
		return nil, fmt.Errorf("gate: %w: %q", ErrInvalidTier, minTier)
	}
	profile, err := g.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if g.catalog.Rank(g.EffectiveTier(profile)) < g.catalog.Rank(minTier) {
		return profile, ErrTierTooLow
	}
	return profile, nil
}

// Consume spends amount credits from the user's monthly allowance and
// persists the updated profile. It returns ErrCreditsExhausted, along with
// the unmodified profile, when the allowance cannot cover the amount.
//
// The monthly window rolls forward lazily on first use after the reset
// date; renewals do not need to touch the counter.
func (g *Gate) Consume(ctx context.Context, userID string, amount int) (*Profile, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("gate: invalid credit amount %d", amount)
	}
	profile, err := g.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	g.rollCreditWindow(profile, now)

	if profile.CreditsUsedThisMonth+amount > g.effectiveTotal(profile) {
		return profile, ErrCreditsExhausted
	}

	profile.CreditsUsedThisMonth += amount
	profile.UpdatedAt = now
	if err := g.store.SetProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// Remaining reports the credits left in the user's current monthly window,
// against the same allowance Consume spends from.
func (g *Gate) Remaining(ctx context.Context, userID string) (int, error) {
	profile, err := g.Profile(ctx, userID)
	if err != nil {
		return 0, err
	}
	g.rollCreditWindow(profile, g.now())
	left := g.effectiveTotal(profile) - profile.CreditsUsedThisMonth
	if left < 0 {
		left = 0
	}
	return left, nil
}

// effectiveTotal is the allowance the current effective tier grants. A
// lapsed subscription spends against the free allowance.
func (g *Gate) effectiveTotal(profile *Profile) int {
	total := profile.MonthlyCreditsTotal
	if effective := g.EffectiveTier(profile); effective != profile.Tier {
		if tier, ok := g.catalog.Get(effective); ok {
			total = tier.MonthlyCredits
		}
	}
	return total
}

// rollCreditWindow advances the reset date month by month until it is in
// the future, zeroing usage when it moves. Calendar months, not 30-day
// windows, so a reset anchored to the 31st clamps the way AddDate does.
func (g *Gate) rollCreditWindow(profile *Profile, now time.Time) {
	if profile.CreditsResetDate.IsZero() {
		return
	}
	next := profile.CreditsResetDate.AddDate(0, 1, 0)
	for !next.After(now) {
		profile.CreditsResetDate = next
		profile.CreditsUsedThisMonth = 0
		next = profile.CreditsResetDate.AddDate(0, 1, 0)
	}
}

func (g *Gate) freeProfile(userID string) *Profile {
	profile := &Profile{
		UserID: userID,
		Tier:   TierFree,
	}
	if tier, ok := g.catalog.Get(TierFree); ok {
		profile.MonthlyCreditsTotal = tier.MonthlyCredits
	}
	return profile
}
