package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/pantrykit/entitled/pkg/billing"
	"github.com/pantrykit/entitled/pkg/billing/internal"
	"github.com/pantrykit/entitled/pkg/entitled"
)

// handleWebhook processes incoming Stripe webhook events.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if p.webhookSecret == "" {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			internal.WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	event, err := p.verifyEvent(body, r)
	if err != nil {
		if errors.Is(err, billing.ErrMissingWebhookSignature) {
			internal.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing signature"})
			p.metrics.RecordWebhookError(providerName, "missing_signature")
		} else {
			internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
			p.metrics.RecordWebhookError(providerName, "invalid_signature")
		}
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	p.processWebhookEvent(r.Context(), w, &event, eventType, start)
}

// verifyEvent authenticates a webhook body. A request with no signature at
// all never reached Stripe's signer; a present but failing signature is a
// bad or replayed payload. The two map to distinct sentinels so callers can
// tell misrouted traffic from tampering.
func (p *Provider) verifyEvent(body []byte, r *http.Request) (stripe.Event, error) {
	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}
	if sig == "" {
		return stripe.Event{}, billing.ErrMissingWebhookSignature
	}
	event, err := stripe.ConstructEvent(body, sig, p.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err)
	}
	return event, nil
}

func (p *Provider) processWebhookEvent(
	ctx context.Context, w http.ResponseWriter, event *stripe.Event, eventType string, start time.Time,
) {
	ev, err := p.translateEvent(ctx, event)
	if err != nil {
		p.writeTranslateFailure(w, eventType, err, start)
		return
	}
	if ev == nil {
		// Event type outside the reconciled set, or a non-subscription
		// invoice. Acknowledge so Stripe stops retrying.
		internal.WriteJSON(w, http.StatusOK, map[string]interface{}{"received": true})
		p.metrics.RecordWebhookEvent(providerName, eventType, "ignored")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(start))
		return
	}

	prior, err := entitled.LoadState(ctx, p.store, ev.UserID)
	if err != nil {
		internal.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load state"})
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "persistence")
		return
	}

	res, err := p.reconciler.Reconcile(prior, *ev)
	if err != nil {
		internal.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "reconciliation failed"})
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "reconcile")
		return
	}

	if err := p.writer.Commit(ctx, res); err != nil {
		internal.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to persist state"})
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "persistence")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(start))
		return
	}

	if res.TierChanged {
		p.metrics.RecordTierChange(providerName, res.PreviousTier, res.State.Profile.Tier)
	}

	p.notify(ctx, event, ev, res)

	// The event id is marked seen only once the commit has landed. A
	// delivery that failed with a retryable error stays unmarked, so the
	// provider's retry of the same id is reprocessed, not acknowledged as a
	// duplicate. Replays of a committed event are handled benignly by the
	// reconciler's replay-stable transitions.
	status := "success"
	response := map[string]interface{}{"received": true}
	if p.ledger != nil && event.ID != "" {
		seen, lerr := p.ledger.MarkSeen(ctx, event.ID, p.cfg.LedgerWindow())
		if lerr != nil {
			p.logger.Warn("event ledger unavailable",
				entitled.Field{Key: "event_id", Value: event.ID},
				entitled.Field{Key: "error", Value: lerr.Error()})
		} else if seen {
			status = "duplicate"
			response["duplicate"] = true
		}
	}

	internal.WriteJSON(w, http.StatusOK, response)
	p.metrics.RecordWebhookEvent(providerName, eventType, status)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(start))
}

// writeTranslateFailure maps translation errors onto responses. Unmapped
// prices and provider API failures are returned as 500 so Stripe retries
// after the mapping or outage is fixed; an unresolvable user is acknowledged
// because a retry cannot fix missing metadata.
func (p *Provider) writeTranslateFailure(w http.ResponseWriter, eventType string, err error, start time.Time) {
	defer func() {
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(start))
	}()

	var unmapped *entitled.UnmappedPriceError
	switch {
	case errors.As(err, &unmapped):
		p.logger.Error("unmapped price reference",
			entitled.Field{Key: "price_ref", Value: unmapped.PriceRef},
			entitled.Field{Key: "known_price_refs", Value: unmapped.KnownRefs})
		internal.WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":            "unmapped price reference",
			"price_ref":        unmapped.PriceRef,
			"known_price_refs": unmapped.KnownRefs,
		})
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "unmapped_price")

	case errors.Is(err, billing.ErrUserNotResolved):
		p.logger.Warn("could not resolve user for webhook event",
			entitled.Field{Key: "event_type", Value: eventType},
			entitled.Field{Key: "error", Value: err.Error()})
		internal.WriteJSON(w, http.StatusOK, map[string]interface{}{"received": true, "resolved": false})
		p.metrics.RecordWebhookEvent(providerName, eventType, "unresolved")

	case errors.Is(err, billing.ErrInvalidWebhookPayload):
		internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "invalid_payload")

	default:
		internal.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to process webhook"})
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing")
	}
}

func (p *Provider) notify(ctx context.Context, raw *stripe.Event, ev *entitled.Event, res entitled.Result) {
	if p.onEvent == nil {
		return
	}
	cb := billing.WebhookEventFromResult(entitled.ProviderWeb, raw.ID, res)
	if err := p.onEvent(ctx, cb); err != nil {
		p.logger.Warn("webhook callback failed",
			entitled.Field{Key: "event_id", Value: raw.ID},
			entitled.Field{Key: "error", Value: err.Error()})
	}
}

// translateEvent converts a verified Stripe event into a normalized
// reconciliation event. A nil event with nil error means the event is
// intentionally ignored.
func (p *Provider) translateEvent(ctx context.Context, event *stripe.Event) (*entitled.Event, error) {
	switch event.Type {
	case "checkout.session.completed":
		return p.translateCheckoutCompleted(ctx, event)
	case "customer.subscription.updated":
		return p.translateSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return p.translateSubscriptionDeleted(ctx, event)
	case "invoice.payment_succeeded":
		return p.translateInvoice(ctx, event, entitled.EventInvoicePaid)
	case "invoice.payment_failed":
		return p.translateInvoice(ctx, event, entitled.EventInvoiceFailed)
	default:
		return nil, nil
	}
}

func (p *Provider) translateCheckoutCompleted(ctx context.Context, event *stripe.Event) (*entitled.Event, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: unmarshal checkout session: %v", billing.ErrInvalidWebhookPayload, err)
	}

	userID := ""
	if session.Metadata != nil {
		userID = session.Metadata["user_id"]
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: metadata.user_id missing on checkout session %s", billing.ErrUserNotResolved, session.ID)
	}

	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}
	if subscriptionID == "" {
		// One-time payment checkout, nothing to reconcile.
		return nil, nil
	}

	sub, err := p.client.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", subscriptionID, err)
	}

	// Patch the subscription metadata so later lifecycle events resolve the
	// user without going through the customer record.
	if sub.Metadata == nil || sub.Metadata["user_id"] == "" {
		params := &stripe.SubscriptionUpdateParams{}
		params.AddMetadata("user_id", userID)
		sub, err = p.client.V1Subscriptions.Update(ctx, subscriptionID, params)
		if err != nil {
			return nil, fmt.Errorf("patch subscription metadata: %w", err)
		}
	}

	priceRef, tier, err := p.resolveTier(sub)
	if err != nil {
		return nil, err
	}

	customerRef := ""
	if sub.Customer != nil {
		customerRef = sub.Customer.ID
	}

	return &entitled.Event{
		ID:               event.ID,
		Type:             entitled.EventCheckoutCompleted,
		Provider:         entitled.ProviderWeb,
		UserID:           userID,
		Tier:             tier,
		PriceRef:         priceRef,
		SubscriptionRef:  subscriptionID,
		CustomerRef:      customerRef,
		ProviderStatus:   string(sub.Status),
		CurrentPeriodEnd: periodEnd(sub),
		OccurredAt:       time.Unix(event.Created, 0),
	}, nil
}

func (p *Provider) translateSubscriptionUpdated(ctx context.Context, event *stripe.Event) (*entitled.Event, error) {
	sub, err := unmarshalSubscription(event.Data.Raw)
	if err != nil {
		return nil, err
	}

	userID, err := p.resolveUser(ctx, sub)
	if err != nil {
		return nil, err
	}

	priceRef, tier, err := p.resolveTier(sub)
	if err != nil {
		return nil, err
	}

	ev := &entitled.Event{
		ID:                event.ID,
		Type:              entitled.EventSubscriptionUpdated,
		Provider:          entitled.ProviderWeb,
		UserID:            userID,
		Tier:              tier,
		PriceRef:          priceRef,
		SubscriptionRef:   sub.ID,
		ProviderStatus:    string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  periodEnd(sub),
		OccurredAt:        time.Unix(event.Created, 0),
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
	return ev, nil
}

func (p *Provider) translateSubscriptionDeleted(ctx context.Context, event *stripe.Event) (*entitled.Event, error) {
	sub, err := unmarshalSubscription(event.Data.Raw)
	if err != nil {
		return nil, err
	}

	userID, err := p.resolveUser(ctx, sub)
	if err != nil {
		return nil, err
	}

	ev := &entitled.Event{
		ID:              event.ID,
		Type:            entitled.EventSubscriptionDeleted,
		Provider:        entitled.ProviderWeb,
		UserID:          userID,
		SubscriptionRef: sub.ID,
		ProviderStatus:  string(sub.Status),
		OccurredAt:      time.Unix(event.Created, 0),
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0)
		ev.CancelledAt = &t
	}
	return ev, nil
}

func (p *Provider) translateInvoice(
	ctx context.Context, event *stripe.Event, typ entitled.EventType,
) (*entitled.Event, error) {
	subscriptionID := invoiceSubscriptionID(event.Data.Raw)
	if subscriptionID == "" {
		// Not a subscription invoice.
		return nil, nil
	}

	callStart := time.Now()
	sub, err := p.client.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordAPICall(providerName, "subscription_retrieve", status)
	p.metrics.RecordAPICallDuration(providerName, "subscription_retrieve", time.Since(callStart))
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", subscriptionID, err)
	}

	userID, err := p.resolveUser(ctx, sub)
	if err != nil {
		return nil, err
	}

	return &entitled.Event{
		ID:               event.ID,
		Type:             typ,
		Provider:         entitled.ProviderWeb,
		UserID:           userID,
		SubscriptionRef:  subscriptionID,
		ProviderStatus:   string(sub.Status),
		CurrentPeriodEnd: periodEnd(sub),
		OccurredAt:       time.Unix(event.Created, 0),
	}, nil
}

// resolveTier picks the tier for a subscription from its price items. When a
// subscription carries several items, the highest-ranked resolvable tier
// wins; any unmapped price is a hard error so a misconfigured catalog never
// silently downgrades a paying user.
func (p *Provider) resolveTier(sub *stripe.Subscription) (priceRef, tier string, err error) {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return "", "", fmt.Errorf("%w: subscription %s has no items", billing.ErrInvalidWebhookPayload, sub.ID)
	}

	bestRank := -1
	for _, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		t, rerr := p.prices.Resolve(item.Price.ID)
		if rerr != nil {
			return "", "", rerr
		}
		if rank := p.catalog.Rank(t); rank > bestRank {
			bestRank = rank
			priceRef = item.Price.ID
			tier = t
		}
	}
	if tier == "" {
		return "", "", fmt.Errorf("%w: subscription %s has no priced items", billing.ErrInvalidWebhookPayload, sub.ID)
	}
	return priceRef, tier, nil
}

func unmarshalSubscription(raw json.RawMessage) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: unmarshal subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}
	return &sub, nil
}

// periodEnd extracts the current period end. Recent Stripe API versions
// report it per subscription item.
func periodEnd(sub *stripe.Subscription) *time.Time {
	if sub.Items == nil {
		return nil
	}
	var latest int64
	for _, item := range sub.Items.Data {
		if item.CurrentPeriodEnd > latest {
			latest = item.CurrentPeriodEnd
		}
	}
	if latest == 0 {
		return nil
	}
	t := time.Unix(latest, 0)
	return &t
}

// invoiceSubscriptionID digs the subscription reference out of the raw
// invoice JSON; the typed Invoice struct does not expose it on all API
// versions.
func invoiceSubscriptionID(raw json.RawMessage) string {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}
	switch v := data["subscription"].(type) {
	case string:
		return v
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	// Newer API versions nest the reference under parent.subscription_details.
	if parent, ok := data["parent"].(map[string]interface{}); ok {
		if details, ok := parent["subscription_details"].(map[string]interface{}); ok {
			switch v := details["subscription"].(type) {
			case string:
				return v
			case map[string]interface{}:
				if id, ok := v["id"].(string); ok {
					return id
				}
			}
		}
	}
	return ""
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
