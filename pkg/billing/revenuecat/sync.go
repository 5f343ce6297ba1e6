package revenuecat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pantrykit/entitled/pkg/billing"
	"github.com/pantrykit/entitled/pkg/billing/internal"
	"github.com/pantrykit/entitled/pkg/entitled"
)

const maxSyncBodyBytes = 64 * 1024

type syncRequest struct {
	Provider       string `json:"provider"`
	ExpirationDate string `json:"expirationDate,omitempty"`
	Restored       bool   `json:"restored,omitempty"`
	Tier           string `json:"tier,omitempty"`
}

type syncResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Tier    string `json:"tier,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// handleSync processes a native purchase sync from the mobile app: the
// client reports a purchase (or restore), the server verifies it against
// RevenueCat, applies the trust policy, and reconciles the outcome into the
// store exactly like a web checkout.
func (p *Provider) handleSync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if p.cfg.Authenticate == nil {
		http.Error(w, "sync not configured", http.StatusServiceUnavailable)
		return
	}

	userID, err := p.cfg.Authenticate(r)
	if err != nil || userID == "" {
		internal.WriteJSON(w, http.StatusUnauthorized, syncResponse{Success: false, Message: "unauthenticated"})
		p.metrics.RecordUserSync(providerName, "unauthenticated")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxSyncBodyBytes)
	if err != nil {
		internal.WriteJSON(w, http.StatusBadRequest, syncResponse{Success: false, Message: "invalid request body"})
		p.metrics.RecordUserSync(providerName, "invalid_body")
		return
	}

	var req syncRequest
	if err := json.Unmarshal(body, &req); err != nil {
		internal.WriteJSON(w, http.StatusBadRequest, syncResponse{Success: false, Message: "invalid request body"})
		p.metrics.RecordUserSync(providerName, "invalid_body")
		return
	}

	platform, err := platformProvider(req.Provider)
	if err != nil {
		internal.WriteJSON(w, http.StatusBadRequest, syncResponse{Success: false, Message: "provider must be apple or google"})
		p.metrics.RecordUserSync(providerName, "invalid_provider")
		return
	}

	claim := ClientClaim{
		Tier:           strings.ToLower(strings.TrimSpace(req.Tier)),
		ExpirationDate: req.ExpirationDate,
		Restored:       req.Restored,
	}

	// Every request that reaches verification lands in the latency series,
	// whatever the outcome.
	defer func() { p.metrics.RecordUserSyncDuration(providerName, time.Since(start)) }()

	verification, verr := p.Verify(r.Context(), userID)
	decision, err := p.applyTrustPolicy(verification, verr, claim)
	if err != nil {
		if errors.Is(err, billing.ErrNoActiveSubscription) {
			internal.WriteJSON(w, http.StatusOK, syncResponse{
				Success: false,
				Message: "no active subscription",
				Reason:  "no_active_subscription",
			})
			p.metrics.RecordUserSync(providerName, "no_active_subscription")
			return
		}
		internal.WriteJSON(w, http.StatusInternalServerError, syncResponse{Success: false, Message: "verification failed"})
		p.metrics.RecordUserSync(providerName, "error")
		return
	}

	if decision.Reason == ReasonTrustedFallback {
		p.logger.Warn("verification unavailable, applying trust fallback",
			entitled.Field{Key: "user_id", Value: userID},
			entitled.Field{Key: "claimed_tier", Value: claim.Tier},
			entitled.Field{Key: "granted_tier", Value: decision.Tier})
	}

	tier, err := p.commitDecision(r.Context(), userID, platform, verification, decision)
	if err != nil {
		internal.WriteJSON(w, http.StatusInternalServerError, syncResponse{Success: false, Message: "failed to persist entitlement"})
		p.metrics.RecordUserSync(providerName, "persistence_error")
		return
	}

	internal.WriteJSON(w, http.StatusOK, syncResponse{
		Success: true,
		Message: "subscription synced",
		Tier:    tier,
		Reason:  decision.Reason,
	})
	p.metrics.RecordUserSync(providerName, "success")
}

// commitDecision runs a trust decision through reconciliation and persists
// the outcome.
func (p *Provider) commitDecision(
	ctx context.Context, userID string, platform entitled.Provider,
	verification *Verification, decision TrustDecision,
) (string, error) {
	prior, err := entitled.LoadState(ctx, p.store, userID)
	if err != nil {
		return "", err
	}

	ev := entitled.Event{
		Type:       entitled.EventCheckoutCompleted,
		Provider:   platform,
		UserID:     userID,
		Tier:       decision.Tier,
		ExpiresAt:  decision.ExpiresAt,
		OccurredAt: time.Now(),
	}
	if verification != nil {
		ev.PriceRef = verification.ProductID
		ev.SubscriptionRef = verification.EntitlementID
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
	if p.onEvent != nil {
		cb := billing.WebhookEventFromResult(platform, "", res)
		if cbErr := p.onEvent(ctx, cb); cbErr != nil {
			p.logger.Warn("sync callback failed",
				entitled.Field{Key: "user_id", Value: userID},
				entitled.Field{Key: "error", Value: cbErr.Error()})
		}
	}
	return res.State.Profile.Tier, nil
}

// restoreFromVerification backs SyncUser: verification only, no client
// claim, no trust fallback.
func (p *Provider) restoreFromVerification(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", entitled.ErrMissingUserID
	}

	verification, err := p.Verify(ctx, userID)
	if err != nil {
		return "", err
	}

	// Keep the user's recorded platform when they already have a native
	// record; new restores default to apple until a sync names the platform.
	platform := entitled.ProviderApple
	if prior, lerr := entitled.LoadState(ctx, p.store, userID); lerr == nil &&
		prior.Subscription != nil && prior.Subscription.Provider == entitled.ProviderGoogle {
		platform = entitled.ProviderGoogle
	}

	return p.commitDecision(ctx, userID, platform, verification, TrustDecision{
		Tier:      verification.Tier,
		ExpiresAt: verification.ExpiresAt,
		Reason:    ReasonVerified,
	})
}

func platformProvider(value string) (entitled.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "apple":
		return entitled.ProviderApple, nil
	case "google":
		return entitled.ProviderGoogle, nil
	default:
		return "", billing.ErrInvalidWebhookPayload
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
