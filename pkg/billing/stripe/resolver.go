package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/pantrykit/entitled/pkg/billing"
	"github.com/pantrykit/entitled/pkg/entitled"
)

// resolveUser maps a Stripe subscription to an application user. Resolution
// order: subscription metadata, then customer metadata, then the store's
// customer-reference index. Checkout patches subscription metadata, so the
// fallbacks only fire for subscriptions created before that patch landed.
func (p *Provider) resolveUser(ctx context.Context, sub *stripe.Subscription) (string, error) {
	if sub.Metadata != nil {
		if userID := sub.Metadata["user_id"]; userID != "" {
			return userID, nil
		}
	}

	if sub.Customer == nil || sub.Customer.ID == "" {
		return "", fmt.Errorf("%w: subscription %s has no customer", billing.ErrUserNotResolved, sub.ID)
	}

	callStart := time.Now()
	cust, err := p.client.V1Customers.Retrieve(ctx, sub.Customer.ID, nil)
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordAPICall(providerName, "customer_retrieve", status)
	p.metrics.RecordAPICallDuration(providerName, "customer_retrieve", time.Since(callStart))
	if err == nil && cust.Metadata != nil {
		if userID := cust.Metadata["user_id"]; userID != "" {
			return userID, nil
		}
	}

	userID, err := p.store.FindUserByCustomerRef(ctx, sub.Customer.ID)
	if err != nil {
		if err == entitled.ErrProfileNotFound {
			return "", fmt.Errorf("%w: no user for customer %s (subscription %s)",
				billing.ErrUserNotResolved, sub.Customer.ID, sub.ID)
		}
		return "", err
	}
	return userID, nil
}
