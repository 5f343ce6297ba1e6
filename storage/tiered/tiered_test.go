package tiered

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrykit/entitled/pkg/entitled"
	"github.com/pantrykit/entitled/storage/memory"
)

// flakyStore wraps a memory store and can be switched to fail.
type flakyStore struct {
	*memory.Store
	fail bool
}

var errFlaky = errors.New("hot tier down")

func (f *flakyStore) GetProfile(ctx context.Context, userID string) (*entitled.Profile, error) {
	if f.fail {
		return nil, errFlaky
	}
	return f.Store.GetProfile(ctx, userID)
}

func (f *flakyStore) SetProfile(ctx context.Context, profile *entitled.Profile) error {
	if f.fail {
		return errFlaky
	}
	return f.Store.SetProfile(ctx, profile)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err, "missing stores")
	_, err = New(Config{Hot: memory.New()})
	assert.Error(t, err, "missing cold store")
}

func TestReadThroughBackfillsHot(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	store, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	ctx := context.Background()

	profile := &entitled.Profile{UserID: "u1", Tier: "pro", UpdatedAt: time.Now()}
	require.NoError(t, cold.SetProfile(ctx, profile))

	got, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Tier)

	// The miss backfilled the hot tier.
	cached, err := hot.GetProfile(ctx, "u1")
	require.NoError(t, err, "expected hot backfill")
	assert.Equal(t, "pro", cached.Tier)
}

func TestWriteThroughHitsBothTiers(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	store, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	ctx := context.Background()

	rec := &entitled.SubscriptionRecord{
		UserID:   "u1",
		Provider: entitled.ProviderWeb,
		Status:   entitled.StatusActive,
		Tier:     "pro",
	}
	require.NoError(t, store.UpsertSubscription(ctx, rec))

	_, err = hot.GetSubscription(ctx, "u1")
	assert.NoError(t, err, "record lands in hot tier")
	_, err = cold.GetSubscription(ctx, "u1")
	assert.NoError(t, err, "record lands in cold tier")
}

func TestHotFailureFallsBackToCold(t *testing.T) {
	hot := &flakyStore{Store: memory.New(), fail: true}
	cold := memory.New()

	var reported []error
	store, err := New(Config{
		Hot:  hot,
		Cold: cold,
		CacheErrorHandler: func(err error) {
			reported = append(reported, err)
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	profile := &entitled.Profile{UserID: "u1", Tier: "adfree", UpdatedAt: time.Now()}
	require.NoError(t, cold.SetProfile(ctx, profile))

	got, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err, "read must survive a hot-tier outage")
	assert.Equal(t, "adfree", got.Tier)
	assert.NotEmpty(t, reported, "cache errors reported")

	// Writes still land durably.
	profile.Tier = "pro"
	require.NoError(t, store.SetProfile(ctx, profile), "write must survive a hot-tier outage")
	durable, err := cold.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "pro", durable.Tier)
}

func TestColdFailureFailsWrite(t *testing.T) {
	hot := memory.New()
	cold := &flakyStore{Store: memory.New(), fail: true}
	store, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	ctx := context.Background()

	profile := &entitled.Profile{UserID: "u1", Tier: "pro", UpdatedAt: time.Now()}
	err = store.SetProfile(ctx, profile)
	require.ErrorIs(t, err, errFlaky, "durable write failure surfaced")

	// The cache was not populated with unpersisted state.
	_, err = hot.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, entitled.ErrProfileNotFound, "no cache write")
}

func TestLedgerDefaultsToHot(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	store, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := store.MarkSeen(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.False(t, seen, "first MarkSeen reports unseen")
	seen, err = store.MarkSeen(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, seen, "second MarkSeen reports seen")
}
