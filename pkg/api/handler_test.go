package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pantrykit/entitled/pkg/entitled"
	"github.com/pantrykit/entitled/storage/memory"
)

func testHandler(t *testing.T, store entitled.Store) *Handler {
	t.Helper()
	catalog, err := entitled.NewCatalog(map[string]entitled.TierConfig{
		"free":   {MonthlyCredits: 5, MaxLists: 3, MaxItemsPerList: 50},
		"adfree": {MonthlyCredits: 5, MaxLists: 10, MaxItemsPerList: 100, AdFree: true},
		"pro":    {MonthlyCredits: 100, MaxLists: 50, MaxItemsPerList: 500, MaxRecipes: 200, AdFree: true},
	}, nil)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	handler, err := NewHandler(Config{
		Store:   store,
		Catalog: catalog,
		GetUserID: func(r *http.Request) string {
			return r.Header.Get("X-User-ID")
		},
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	return handler
}

func getEntitlements(t *testing.T, h *Handler, userID string) (*httptest.ResponseRecorder, EntitlementsResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/me/entitlements", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.GetEntitlements(rec, req)

	var resp EntitlementsResponse
	if rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, resp
}

func TestGetEntitlements_Unauthorized(t *testing.T) {
	rec, _ := getEntitlements(t, testHandler(t, memory.New()), "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestGetEntitlements_RejectsOversizedUserID(t *testing.T) {
	rec, _ := getEntitlements(t, testHandler(t, memory.New()), strings.Repeat("x", 256))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestGetEntitlements_NeverSubscribed(t *testing.T) {
	rec, resp := getEntitlements(t, testHandler(t, memory.New()), "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp.Tier != "free" || resp.Status != "free" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Credits.Total != 5 || resp.Credits.Remaining != 5 {
		t.Errorf("expected free allowance, got %+v", resp.Credits)
	}
	if resp.Subscription != nil {
		t.Error("expected no subscription block")
	}
	if resp.Limits.AdFree {
		t.Error("free tier must not be ad-free")
	}
}

func TestGetEntitlements_ActiveSubscriber(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	periodEnd := time.Now().Add(20 * 24 * time.Hour)
	if err := store.SetProfile(ctx, &entitled.Profile{
		UserID:               "u1",
		Tier:                 "pro",
		MonthlyCreditsTotal:  100,
		CreditsUsedThisMonth: 40,
		ProviderStatus:       "active",
		UpdatedAt:            time.Now(),
	}); err != nil {
		t.Fatalf("SetProfile failed: %v", err)
	}
	if err := store.UpsertSubscription(ctx, &entitled.SubscriptionRecord{
		UserID:           "u1",
		Provider:         entitled.ProviderWeb,
		Status:           entitled.StatusActive,
		Tier:             "pro",
		CurrentPeriodEnd: &periodEnd,
		UpdatedAt:        time.Now(),
	}); err != nil {
		t.Fatalf("UpsertSubscription failed: %v", err)
	}

	rec, resp := getEntitlements(t, testHandler(t, store), "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp.Tier != "pro" || resp.Status != "active" {
		t.Errorf("unexpected tier/status: %+v", resp)
	}
	if resp.Credits.Remaining != 60 {
		t.Errorf("expected 60 remaining, got %d", resp.Credits.Remaining)
	}
	if resp.Limits.MaxRecipes != 200 || !resp.Limits.AdFree {
		t.Errorf("unexpected limits: %+v", resp.Limits)
	}
	if resp.Subscription == nil || resp.Subscription.Provider != "web" {
		t.Errorf("unexpected subscription block: %+v", resp.Subscription)
	}
}

func TestGetEntitlements_PendingCancel(t *testing.T) {
	store := memory.New()
	end := time.Now().Add(10 * 24 * time.Hour)
	if err := store.SetProfile(context.Background(), &entitled.Profile{
		UserID:              "u1",
		Tier:                "pro",
		MonthlyCreditsTotal: 100,
		SubscriptionEndDate: &end,
		CancelReason:        entitled.CancelReasonPendingCancel,
		UpdatedAt:           time.Now(),
	}); err != nil {
		t.Fatalf("SetProfile failed: %v", err)
	}

	_, resp := getEntitlements(t, testHandler(t, store), "u1")
	if resp.Status != "pending_cancel" {
		t.Errorf("expected pending_cancel, got %q", resp.Status)
	}
	if resp.Tier != "pro" {
		t.Errorf("pending cancel keeps the paid tier, got %q", resp.Tier)
	}
}

func TestGetEntitlements_LapsedReadsExpired(t *testing.T) {
	store := memory.New()
	past := time.Now().Add(-time.Hour)
	if err := store.SetProfile(context.Background(), &entitled.Profile{
		UserID:              "u1",
		Tier:                "pro",
		MonthlyCreditsTotal: 100,
		SubscriptionEndDate: &past,
		UpdatedAt:           time.Now(),
	}); err != nil {
		t.Fatalf("SetProfile failed: %v", err)
	}

	_, resp := getEntitlements(t, testHandler(t, store), "u1")
	if resp.Status != "expired" {
		t.Errorf("expected expired for a past end date, got %q", resp.Status)
	}
}

func TestNewHandler_RequiresConfig(t *testing.T) {
	if _, err := NewHandler(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
}
