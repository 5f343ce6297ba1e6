package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/pantrykit/entitled/pkg/billing"
	"github.com/pantrykit/entitled/pkg/entitled"
)

// syncFromAPI re-reads the user's live Stripe subscription and pushes the
// answer through reconciliation as a subscription update. Useful after an
// outage window where webhook deliveries may have been dropped.
func (p *Provider) syncFromAPI(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", entitled.ErrMissingUserID
	}

	prior, err := entitled.LoadState(ctx, p.store, userID)
	if err != nil {
		return "", err
	}
	if prior.Profile == nil || prior.Profile.ProviderSubscriptionRef == "" {
		return "", billing.ErrNoActiveSubscription
	}

	callStart := time.Now()
	sub, err := p.client.V1Subscriptions.Retrieve(ctx, prior.Profile.ProviderSubscriptionRef, nil)
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordAPICall(providerName, "subscription_retrieve", status)
	p.metrics.RecordAPICallDuration(providerName, "subscription_retrieve", time.Since(callStart))
	if err != nil {
		return "", fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}

	ev := entitled.Event{
		Type:              entitled.EventSubscriptionUpdated,
		Provider:          entitled.ProviderWeb,
		UserID:            userID,
		SubscriptionRef:   sub.ID,
		ProviderStatus:    string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  periodEnd(sub),
		OccurredAt:        time.Now(),
	}
	if sub.Customer != nil {
		ev.CustomerRef = sub.Customer.ID
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0)
		ev.CancelledAt = &t
	}
	if sub.CancelAt > 0 {
		t := time.Unix(sub.CancelAt, 0)
		ev.CancelAt = &t
	}

	// Only price-bearing, non-canceled subscriptions carry a tier.
	if sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing {
		priceRef, tier, rerr := p.resolveTier(sub)
		if rerr != nil {
			return "", rerr
		}
		ev.PriceRef = priceRef
		ev.Tier = tier
	}

	res, err := p.reconciler.Reconcile(prior, ev)
	if err != nil {
		return "", err
	}
	if err := p.writer.Commit(ctx, res); err != nil {
		return "", err
	}
	if res.TierChanged {
		p.metrics.RecordTierChange(providerName, res.PreviousTier, res.State.Profile.Tier)
	}
	return res.State.Profile.Tier, nil
}
