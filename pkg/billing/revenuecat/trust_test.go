package revenuecat

import (
	"errors"
	"testing"
	"time"

	"github.com/pantrykit/entitled/pkg/billing"
	"github.com/pantrykit/entitled/pkg/entitled"
	"github.com/pantrykit/entitled/storage/memory"
)

func testProvider(t *testing.T, cfg Config) *Provider {
	t.Helper()
	catalog, err := entitled.NewCatalog(map[string]entitled.TierConfig{
		"free":    {Name: "free", MonthlyCredits: 5},
		"adfree":  {Name: "adfree", MonthlyCredits: 5, AdFree: true},
		"pro":     {Name: "pro", MonthlyCredits: 100, AdFree: true},
		"premium": {Name: "premium", MonthlyCredits: 500, AdFree: true},
	}, []string{"free", "adfree", "pro", "premium"})
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	store := memory.New()
	reconciler, err := entitled.NewReconciler(catalog)
	if err != nil {
		t.Fatalf("failed to build reconciler: %v", err)
	}
	writer, err := entitled.NewWriter(entitled.WriterConfig{Store: store})
	if err != nil {
		t.Fatalf("failed to build writer: %v", err)
	}

	cfg.Store = store
	cfg.Catalog = catalog
	cfg.Reconciler = reconciler
	cfg.Writer = writer
	if cfg.EntitlementTiers == nil {
		cfg.EntitlementTiers = map[string]string{
			"premium_access": "premium",
			"pro_access":     "pro",
			"adfree_access":  "adfree",
		}
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "rc_test_key"
	}

	provider, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	return provider
}

func TestTrustPolicy_VerifiedPassesThrough(t *testing.T) {
	p := testProvider(t, Config{})
	expires := time.Now().Add(48 * time.Hour)
	v := &Verification{Tier: "pro", ExpiresAt: &expires}

	decision, err := p.applyTrustPolicy(v, nil, ClientClaim{Tier: "premium"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Tier != "pro" {
		t.Errorf("verified tier must win over client claim, got %s", decision.Tier)
	}
	if decision.Reason != ReasonVerified {
		t.Errorf("expected verified reason, got %q", decision.Reason)
	}
	if decision.ExpiresAt == nil || !decision.ExpiresAt.Equal(expires) {
		t.Errorf("expected verified expiration preserved, got %v", decision.ExpiresAt)
	}
}

func TestTrustPolicy_NoActiveIsDistinct(t *testing.T) {
	p := testProvider(t, Config{})

	_, err := p.applyTrustPolicy(nil, billing.ErrNoActiveSubscription, ClientClaim{Tier: "pro"})
	if !errors.Is(err, billing.ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
	}
}

func TestTrustPolicy_UnavailableClampsClaim(t *testing.T) {
	p := testProvider(t, Config{})

	cases := []struct {
		claim string
		want  string
	}{
		{"premium", "adfree"},
		{"pro", "adfree"},
		{"adfree", "adfree"},
		{"", "adfree"},
		{"bogus", "adfree"},
	}
	for _, tc := range cases {
		decision, err := p.applyTrustPolicy(nil, billing.ErrVerificationUnavailable, ClientClaim{Tier: tc.claim})
		if err != nil {
			t.Fatalf("claim %q: unexpected error: %v", tc.claim, err)
		}
		if decision.Tier != tc.want {
			t.Errorf("claim %q: expected %s, got %s", tc.claim, tc.want, decision.Tier)
		}
		if decision.Reason != ReasonTrustedFallback {
			t.Errorf("claim %q: expected fallback reason, got %q", tc.claim, decision.Reason)
		}
	}
}

func TestTrustPolicy_FallbackExpirationBounds(t *testing.T) {
	p := testProvider(t, Config{})
	now := time.Now()

	// Unparsable expiration falls back to the default window.
	decision, err := p.applyTrustPolicy(nil, billing.ErrVerificationUnavailable,
		ClientClaim{Tier: "adfree", ExpirationDate: "not-a-date"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.ExpiresAt == nil {
		t.Fatal("expected expiration set")
	}
	gap := decision.ExpiresAt.Sub(now)
	if gap < fallbackEntitlementTTL-time.Minute || gap > fallbackEntitlementTTL+time.Minute {
		t.Errorf("expected ~%v window, got %v", fallbackEntitlementTTL, gap)
	}

	// A far-future claim is capped to the default window.
	decision, _ = p.applyTrustPolicy(nil, billing.ErrVerificationUnavailable,
		ClientClaim{Tier: "adfree", ExpirationDate: now.Add(365 * 24 * time.Hour).Format(time.RFC3339)})
	if decision.ExpiresAt.Sub(now) > fallbackEntitlementTTL+time.Minute {
		t.Errorf("far-future claim should be capped, got %v", decision.ExpiresAt)
	}

	// A near-term parseable claim is honoured.
	near := now.Add(7 * 24 * time.Hour)
	decision, _ = p.applyTrustPolicy(nil, billing.ErrVerificationUnavailable,
		ClientClaim{Tier: "adfree", ExpirationDate: near.Format(time.RFC3339)})
	if decision.ExpiresAt.Sub(near).Abs() > time.Minute {
		t.Errorf("expected claimed expiration honoured, got %v", decision.ExpiresAt)
	}
}

func TestTrustPolicy_UnexpectedErrorPropagates(t *testing.T) {
	p := testProvider(t, Config{})
	boom := errors.New("boom")

	_, err := p.applyTrustPolicy(nil, boom, ClientClaim{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected error propagated, got %v", err)
	}
}
