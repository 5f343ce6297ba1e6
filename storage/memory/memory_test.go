package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrykit/entitled/pkg/entitled"
)

func TestProfileRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, entitled.ErrProfileNotFound)

	profile := &entitled.Profile{
		UserID:              "u1",
		Tier:                "pro",
		MonthlyCreditsTotal: 100,
		ProviderCustomerRef: "cus_123",
		UpdatedAt:           time.Now(),
	}
	require.NoError(t, store.SetProfile(ctx, profile))

	got, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Tier)
	assert.Equal(t, 100, got.MonthlyCreditsTotal)

	// Mutating the returned copy must not affect stored state.
	got.Tier = "free"
	again, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "pro", again.Tier, "stored profile must not be mutated through returned copy")
}

func TestSetProfileValidation(t *testing.T) {
	store := New()
	ctx := context.Background()

	assert.Error(t, store.SetProfile(ctx, nil), "nil profile")
	assert.Error(t, store.SetProfile(ctx, &entitled.Profile{}), "empty user id")
}

func TestFindUserByCustomerRef(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.FindUserByCustomerRef(ctx, "cus_missing")
	assert.ErrorIs(t, err, entitled.ErrProfileNotFound)

	profile := &entitled.Profile{UserID: "u1", Tier: "free", ProviderCustomerRef: "cus_123"}
	require.NoError(t, store.SetProfile(ctx, profile))

	userID, err := store.FindUserByCustomerRef(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestSubscriptionRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.GetSubscription(ctx, "u1")
	assert.ErrorIs(t, err, entitled.ErrSubscriptionNotFound)

	rec := &entitled.SubscriptionRecord{
		UserID:                  "u1",
		Provider:                entitled.ProviderWeb,
		Status:                  entitled.StatusActive,
		Tier:                    "pro",
		ExternalSubscriptionRef: "sub_123",
		UpdatedAt:               time.Now(),
	}
	require.NoError(t, store.UpsertSubscription(ctx, rec))

	got, err := store.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sub_123", got.ExternalSubscriptionRef)
	assert.Equal(t, entitled.StatusActive, got.Status)

	// Upsert overwrites.
	rec.Status = entitled.StatusExpired
	require.NoError(t, store.UpsertSubscription(ctx, rec))
	got, err = store.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, entitled.StatusExpired, got.Status)
}

func TestMarkSeen(t *testing.T) {
	store := New()
	ctx := context.Background()

	seen, err := store.MarkSeen(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.False(t, seen, "first MarkSeen reports unseen")

	seen, err = store.MarkSeen(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, seen, "second MarkSeen reports seen")

	// Expired entries are treated as unseen.
	seen, err = store.MarkSeen(ctx, "evt_2", -time.Second)
	require.NoError(t, err)
	assert.False(t, seen)
	seen, err = store.MarkSeen(ctx, "evt_2", time.Minute)
	require.NoError(t, err)
	assert.False(t, seen, "expired entry reports unseen")
}
