// Package api provides the client-facing entitlements endpoint: a read-only
// JSON view of a user's tier, credits, and subscription standing.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pantrykit/entitled/pkg/entitled"
)

const maxUserIDLen = 255

// Handler serves entitlement inspection endpoints.
type Handler struct {
	config Config
	logger entitled.Logger
	now    func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(config Config) (*Handler, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = &entitled.NoopLogger{}
	}
	return &Handler{config: config, logger: logger, now: time.Now}, nil
}

// GetEntitlements returns the user's current entitlement standing. Users
// without any stored state get a free-tier response, not an error.
func (h *Handler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := h.config.GetUserID(r)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if len(userID) > maxUserIDLen {
		h.writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	state, err := entitled.LoadState(ctx, h.config.Store, userID)
	if err != nil {
		h.logger.Error("entitlements lookup failed",
			entitled.Field{Key: "user_id", Value: userID},
			entitled.Field{Key: "error", Value: err.Error()})
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := h.buildResponse(userID, state)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) buildResponse(userID string, state entitled.State) EntitlementsResponse {
	resp := EntitlementsResponse{
		UserID: userID,
		Tier:   entitled.TierFree,
		Status: string(entitled.StatusExpired),
	}

	profile := state.Profile
	if profile != nil && h.config.Catalog.Has(profile.Tier) {
		resp.Tier = profile.Tier
	}
	resp.Status = h.deriveStatus(state)

	if tier, ok := h.config.Catalog.Get(resp.Tier); ok {
		resp.Limits = TierLimits{
			MaxLists:        tier.MaxLists,
			MaxItemsPerList: tier.MaxItemsPerList,
			MaxRecipes:      tier.MaxRecipes,
			AdFree:          tier.AdFree,
		}
		resp.Credits.Total = tier.MonthlyCredits
	}

	if profile != nil {
		resp.Credits.Total = profile.MonthlyCreditsTotal
		resp.Credits.Used = profile.CreditsUsedThisMonth
		if !profile.CreditsResetDate.IsZero() {
			reset := profile.CreditsResetDate
			resp.Credits.ResetDate = &reset
		}
	}
	resp.Credits.Remaining = resp.Credits.Total - resp.Credits.Used
	if resp.Credits.Remaining < 0 {
		resp.Credits.Remaining = 0
	}

	if record := state.Subscription; record != nil {
		resp.Subscription = &SubscriptionInfo{
			Provider:         string(record.Provider),
			Status:           string(record.Status),
			CurrentPeriodEnd: record.CurrentPeriodEnd,
			CancelledAt:      record.CancelledAt,
		}
	}

	return resp
}

// deriveStatus maps stored state to a client-facing status string. The
// profile is authoritative for lapses the reconciler has not caught up
// with yet: a past end date reads as expired even if the record says
// otherwise.
func (h *Handler) deriveStatus(state entitled.State) string {
	profile := state.Profile
	if profile == nil || profile.Tier == entitled.TierFree || !h.config.Catalog.Has(profile.Tier) {
		return "free"
	}
	if profile.SubscriptionEndDate != nil && !profile.SubscriptionEndDate.After(h.now()) {
		return string(entitled.StatusExpired)
	}
	if profile.CancelReason == entitled.CancelReasonPendingCancel {
		return string(entitled.StatusPendingCancel)
	}
	if record := state.Subscription; record != nil && record.Status == entitled.StatusPastDue {
		return string(entitled.StatusPastDue)
	}
	return string(entitled.StatusActive)
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
