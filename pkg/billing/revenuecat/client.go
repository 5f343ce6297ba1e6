package revenuecat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pantrykit/entitled/pkg/billing"
)

// Verification is the authoritative answer from RevenueCat for one user:
// the highest-precedence active entitlement and its expiration.
type Verification struct {
	Tier          string
	EntitlementID string
	ProductID     string
	ExpiresAt     *time.Time
	PurchasedAt   *time.Time
}

type subscriberResponse struct {
	Subscriber struct {
		Entitlements map[string]subscriberEntitlement `json:"entitlements"`
	} `json:"subscriber"`
}

type subscriberEntitlement struct {
	ExpiresDate       *string `json:"expires_date"`
	PurchaseDate      *string `json:"purchase_date"`
	ProductIdentifier string  `json:"product_identifier"`
}

// Verify asks RevenueCat for the user's active entitlements. Concurrent
// calls for the same user are collapsed into a single request. Returns
// billing.ErrNoActiveSubscription when RevenueCat answers authoritatively
// that nothing is active, and billing.ErrVerificationUnavailable when the
// service cannot be reached or errors; the caller decides how much to trust
// the client in that case.
func (p *Provider) Verify(ctx context.Context, userID string) (*Verification, error) {
	if strings.TrimSpace(p.apiKey) == "" {
		return nil, fmt.Errorf("%w: api key not configured", billing.ErrVerificationUnavailable)
	}

	v, err, _ := p.verifyGroup.Do(userID, func() (interface{}, error) {
		return p.fetchSubscriber(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Verification), nil
}

func (p *Provider) fetchSubscriber(ctx context.Context, userID string) (*Verification, error) {
	endpoint := fmt.Sprintf("%s/subscribers/%s", p.apiBaseURL, url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrVerificationUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	callStart := time.Now()
	res, err := p.httpClient.Do(req)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "subscriber_get", "error")
		p.metrics.RecordAPICallDuration(providerName, "subscriber_get", time.Since(callStart))
		return nil, fmt.Errorf("%w: %v", billing.ErrVerificationUnavailable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	p.metrics.RecordAPICallDuration(providerName, "subscriber_get", time.Since(callStart))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "subscriber_get", "error")
		return nil, fmt.Errorf("%w: %v", billing.ErrVerificationUnavailable, err)
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		// RevenueCat has never seen this user: an authoritative "nothing
		// active", not an outage.
		p.metrics.RecordAPICall(providerName, "subscriber_get", "not_found")
		return nil, billing.ErrNoActiveSubscription
	case res.StatusCode < 200 || res.StatusCode >= 300:
		p.metrics.RecordAPICall(providerName, "subscriber_get", "error")
		return nil, fmt.Errorf("%w: status %d", billing.ErrVerificationUnavailable, res.StatusCode)
	}
	p.metrics.RecordAPICall(providerName, "subscriber_get", "success")

	var payload subscriberResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", billing.ErrVerificationUnavailable, err)
	}

	verification := p.selectEntitlement(payload.Subscriber.Entitlements)
	if verification == nil {
		return nil, billing.ErrNoActiveSubscription
	}
	return verification, nil
}

// selectEntitlement picks the highest-precedence active, non-expired
// entitlement. Entitlement identifiers outside the configured mapping are
// skipped.
func (p *Provider) selectEntitlement(entitlements map[string]subscriberEntitlement) *Verification {
	now := time.Now()
	var best *Verification
	bestRank := -1

	for id, ent := range entitlements {
		tier, ok := p.tiers[strings.ToLower(strings.TrimSpace(id))]
		if !ok {
			continue
		}

		var expiresAt *time.Time
		if ent.ExpiresDate != nil && strings.TrimSpace(*ent.ExpiresDate) != "" {
			t, err := parseTimestamp(*ent.ExpiresDate)
			if err != nil {
				continue
			}
			expiresAt = &t
		}
		if expiresAt != nil && expiresAt.Before(now) {
			continue
		}

		var purchasedAt *time.Time
		if ent.PurchaseDate != nil && strings.TrimSpace(*ent.PurchaseDate) != "" {
			if t, err := parseTimestamp(*ent.PurchaseDate); err == nil {
				purchasedAt = &t
			}
		}

		if rank := p.catalog.Rank(tier); rank > bestRank {
			bestRank = rank
			best = &Verification{
				Tier:          tier,
				EntitlementID: id,
				ProductID:     strings.TrimSpace(ent.ProductIdentifier),
				ExpiresAt:     expiresAt,
				PurchasedAt:   purchasedAt,
			}
		}
	}
	return best
}

func parseTimestamp(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unable to parse time: %s", v)
}
