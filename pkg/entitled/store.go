package entitled

import (
	"context"
	"time"
)

// Store defines the persistence interface for profiles and canonical
// subscription records. Implementations live under storage/.
type Store interface {
	// GetProfile retrieves a user's entitlement profile.
	// Returns ErrProfileNotFound when the user has none.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// SetProfile stores a user's entitlement profile.
	SetProfile(ctx context.Context, profile *Profile) error

	// FindUserByCustomerRef resolves a provider customer reference to a
	// user id. Returns ErrProfileNotFound when no user matches.
	FindUserByCustomerRef(ctx context.Context, customerRef string) (string, error)

	// GetSubscription retrieves a user's canonical subscription record.
	// Returns ErrSubscriptionNotFound when the user has none.
	GetSubscription(ctx context.Context, userID string) (*SubscriptionRecord, error)

	// UpsertSubscription stores the canonical subscription record, keyed
	// by user id.
	UpsertSubscription(ctx context.Context, record *SubscriptionRecord) error
}

// EventLedger deduplicates replayed events by id, with a bounded TTL.
// There is no durable exactly-once guarantee here: the ledger covers exact
// replays within the TTL window only.
type EventLedger interface {
	// MarkSeen records an event id and reports whether it was already
	// recorded within the TTL window.
	MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// LoadState reads the current state for a user, treating missing records
// as absent rather than errors.
func LoadState(ctx context.Context, store Store, userID string) (State, error) {
	var state State

	profile, err := store.GetProfile(ctx, userID)
	switch {
	case err == nil:
		state.Profile = profile
	case err == ErrProfileNotFound:
	default:
		return State{}, err
	}

	record, err := store.GetSubscription(ctx, userID)
	switch {
	case err == nil:
		state.Subscription = record
	case err == ErrSubscriptionNotFound:
	default:
		return State{}, err
	}

	return state, nil
}
