package entitled_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrykit/entitled/pkg/entitled"
)

type gateStore struct {
	profiles map[string]*entitled.Profile
	setCalls int
}

func newGateStore() *gateStore {
	return &gateStore{profiles: make(map[string]*entitled.Profile)}
}

func (s *gateStore) GetProfile(_ context.Context, userID string) (*entitled.Profile, error) {
	p, ok := s.profiles[userID]
	if !ok {
		return nil, entitled.ErrProfileNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *gateStore) SetProfile(_ context.Context, p *entitled.Profile) error {
	s.setCalls++
	copied := *p
	s.profiles[p.UserID] = &copied
	return nil
}

func (s *gateStore) FindUserByCustomerRef(_ context.Context, _ string) (string, error) {
	return "", entitled.ErrProfileNotFound
}

func (s *gateStore) GetSubscription(_ context.Context, _ string) (*entitled.SubscriptionRecord, error) {
	return nil, entitled.ErrSubscriptionNotFound
}

func (s *gateStore) UpsertSubscription(_ context.Context, _ *entitled.SubscriptionRecord) error {
	return nil
}

func testGate(t *testing.T, store *gateStore, now time.Time) *entitled.Gate {
	t.Helper()
	gate, err := entitled.NewGate(store, testCatalog(t),
		entitled.WithGateClock(func() time.Time { return now }))
	require.NoError(t, err)
	return gate
}

func TestGate_UnknownUserIsFreeTier(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gate := testGate(t, newGateStore(), now)
	ctx := context.Background()

	profile, err := gate.Profile(ctx, "stranger")
	require.NoError(t, err)
	assert.Equal(t, "free", profile.Tier)
	assert.Equal(t, 5, profile.MonthlyCreditsTotal)

	_, err = gate.Require(ctx, "stranger", "pro")
	assert.ErrorIs(t, err, entitled.ErrTierTooLow)

	_, err = gate.Require(ctx, "stranger", "free")
	assert.NoError(t, err, "free tier must always pass")
}

func TestGate_RequireRespectsTierOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newGateStore()
	store.profiles["u1"] = &entitled.Profile{UserID: "u1", Tier: "pro", MonthlyCreditsTotal: 100}
	gate := testGate(t, store, now)
	ctx := context.Background()

	_, err := gate.Require(ctx, "u1", "adfree")
	assert.NoError(t, err, "pro must satisfy adfree")

	_, err = gate.Require(ctx, "u1", "premium")
	assert.ErrorIs(t, err, entitled.ErrTierTooLow)

	_, err = gate.Require(ctx, "u1", "platinum")
	assert.ErrorIs(t, err, entitled.ErrInvalidTier)
}

func TestGate_LapsedSubscriptionIsFree(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	store := newGateStore()
	store.profiles["u1"] = &entitled.Profile{
		UserID:              "u1",
		Tier:                "pro",
		MonthlyCreditsTotal: 100,
		SubscriptionEndDate: &past,
	}
	gate := testGate(t, store, now)

	_, err := gate.Require(context.Background(), "u1", "pro")
	assert.ErrorIs(t, err, entitled.ErrTierTooLow, "lapsed pro must not satisfy pro")

	future := now.Add(time.Hour)
	store.profiles["u1"].SubscriptionEndDate = &future
	_, err = gate.Require(context.Background(), "u1", "pro")
	assert.NoError(t, err, "pending-cancel pro satisfies pro until the end date")
}

// A lapsed subscription spends and reports against the free allowance, even
// though the stored profile still carries the paid tier's totals.
func TestGate_LapsedSubscriptionCreditsClampToFree(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	store := newGateStore()
	store.profiles["u1"] = &entitled.Profile{
		UserID:               "u1",
		Tier:                 "pro",
		MonthlyCreditsTotal:  100,
		CreditsUsedThisMonth: 2,
		CreditsResetDate:     now.AddDate(0, 0, -10),
		SubscriptionEndDate:  &past,
	}
	gate := testGate(t, store, now)
	ctx := context.Background()

	left, err := gate.Remaining(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, left, "remaining reports against the free allowance")

	_, err = gate.Consume(ctx, "u1", 4)
	assert.ErrorIs(t, err, entitled.ErrCreditsExhausted)

	_, err = gate.Consume(ctx, "u1", 3)
	assert.NoError(t, err, "spend within the free allowance still works")

	left, err = gate.Remaining(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, left)
}

func TestGate_ConsumeSpendsAndPersists(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newGateStore()
	store.profiles["u1"] = &entitled.Profile{
		UserID:              "u1",
		Tier:                "pro",
		MonthlyCreditsTotal: 100,
		CreditsResetDate:    now.AddDate(0, 0, -10),
	}
	gate := testGate(t, store, now)
	ctx := context.Background()

	profile, err := gate.Consume(ctx, "u1", 30)
	require.NoError(t, err)
	assert.Equal(t, 30, profile.CreditsUsedThisMonth)
	assert.Equal(t, 30, store.profiles["u1"].CreditsUsedThisMonth, "consumption persisted")

	_, err = gate.Consume(ctx, "u1", 71)
	assert.ErrorIs(t, err, entitled.ErrCreditsExhausted)
	assert.Equal(t, 30, store.profiles["u1"].CreditsUsedThisMonth, "failed consume must not persist")

	left, err := gate.Remaining(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 70, left)
}

func TestGate_CreditWindowRollsMonthly(t *testing.T) {
	reset := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	store := newGateStore()
	store.profiles["u1"] = &entitled.Profile{
		UserID:               "u1",
		Tier:                 "pro",
		MonthlyCreditsTotal:  100,
		CreditsUsedThisMonth: 99,
		CreditsResetDate:     reset,
	}
	gate := testGate(t, store, now)

	profile, err := gate.Consume(context.Background(), "u1", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, profile.CreditsUsedThisMonth, "fresh window")
	want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	assert.True(t, profile.CreditsResetDate.Equal(want), "reset date advanced to %v, got %v", want, profile.CreditsResetDate)
}

func TestGate_ConsumeRejectsInvalidAmount(t *testing.T) {
	gate := testGate(t, newGateStore(), time.Now())
	_, err := gate.Consume(context.Background(), "u1", 0)
	assert.Error(t, err, "zero amount")
}
