package revenuecat

import (
	"errors"
	"time"

	"github.com/pantrykit/entitled/pkg/billing"
)

// Trust decision reason codes, returned to the sync caller.
const (
	ReasonVerified        = "verified"
	ReasonTrustedFallback = "trusted_fallback"
)

// ClientClaim is what the mobile client says it purchased. Never trusted on
// its own; only consulted when verification is unavailable, and then only
// within the ceiling of applyTrustPolicy.
type ClientClaim struct {
	Tier           string
	ExpirationDate string
	Restored       bool
}

// TrustDecision is the tier the server is willing to grant and why.
type TrustDecision struct {
	Tier      string
	ExpiresAt *time.Time
	Reason    string
}

// applyTrustPolicy turns a verification outcome plus a client claim into the
// tier that will actually be stored. Verified answers pass through
// untouched. When verification is unavailable, the claim is accepted only up
// to the lowest paid tier, and any client expiration that fails to parse is
// replaced by a short fixed window rather than trusted.
// An authoritative "no active subscription" is returned as-is: it is a
// distinct outcome, not a fallback trigger.
func (p *Provider) applyTrustPolicy(v *Verification, verr error, claim ClientClaim) (TrustDecision, error) {
	if verr == nil {
		return TrustDecision{Tier: v.Tier, ExpiresAt: v.ExpiresAt, Reason: ReasonVerified}, nil
	}

	if errors.Is(verr, billing.ErrNoActiveSubscription) {
		return TrustDecision{}, verr
	}

	if errors.Is(verr, billing.ErrVerificationUnavailable) {
		ceiling := p.catalog.LowestPaidTier()

		tier := claim.Tier
		if tier == "" || !p.catalog.Has(tier) {
			tier = ceiling
		} else if p.catalog.Rank(tier) > p.catalog.Rank(ceiling) {
			tier = ceiling
		}

		// Client expirations are honoured only inside the fallback window;
		// unparsable, past, or far-future values collapse to the default.
		now := time.Now()
		expiresAt := now.Add(fallbackEntitlementTTL)
		if claim.ExpirationDate != "" {
			if t, err := parseTimestamp(claim.ExpirationDate); err == nil && t.After(now) && t.Before(expiresAt) {
				expiresAt = t
			}
		}
		return TrustDecision{Tier: tier, ExpiresAt: &expiresAt, Reason: ReasonTrustedFallback}, nil
	}

	return TrustDecision{}, verr
}
