// Package tiered provides a Hot/Cold tiered store that layers a fast
// ephemeral cache (Hot) over a durable source of truth (Cold). Profiles are
// the read-hot path of the entitlement system; webhook writes are rare by
// comparison, so the strategy is read-through with write-through.
package tiered

import (
	"context"
	"errors"
	"time"

	"github.com/pantrykit/entitled/pkg/entitled"
)

// Config configures the tiered store.
type Config struct {
	// Hot is the L1 cache store (e.g., Redis, Memory).
	Hot entitled.Store

	// Cold is the L2 durable store (e.g., Postgres, Firestore), the source
	// of truth.
	Cold entitled.Store

	// Ledger routes EventLedger calls. Dedupe must see all instances, so
	// it defaults to Hot when Hot implements entitled.EventLedger.
	Ledger entitled.EventLedger

	// CacheErrorHandler is called when a hot-tier write fails after the
	// durable write already succeeded. The cache is then stale until the
	// next read-through miss; essential for monitoring drift.
	CacheErrorHandler func(error)
}

// Store implements entitled.Store over a Hot/Cold pair:
//   - reads go to Hot first and fall back to Cold, backfilling Hot on a miss
//   - writes go to Cold first, then Hot, so the source of truth never trails
//     the cache
type Store struct {
	hot    entitled.Store
	cold   entitled.Store
	ledger entitled.EventLedger
	conf   Config
}

// New creates a tiered store.
func New(config Config) (*Store, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered store: both hot and cold stores are required")
	}

	ledger := config.Ledger
	if ledger == nil {
		if l, ok := config.Hot.(entitled.EventLedger); ok {
			ledger = l
		}
	}

	return &Store{
		hot:    config.Hot,
		cold:   config.Cold,
		ledger: ledger,
		conf:   config,
	}, nil
}

// GetProfile implements entitled.Store with read-through caching.
func (s *Store) GetProfile(ctx context.Context, userID string) (*entitled.Profile, error) {
	profile, err := s.hot.GetProfile(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if err != entitled.ErrProfileNotFound {
		// Hot tier failing must not take reads down.
		s.cacheError(err)
	}

	profile, err = s.cold.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cacheErr := s.hot.SetProfile(ctx, profile); cacheErr != nil {
		s.cacheError(cacheErr)
	}
	return profile, nil
}

// SetProfile implements entitled.Store with write-through.
func (s *Store) SetProfile(ctx context.Context, profile *entitled.Profile) error {
	if err := s.cold.SetProfile(ctx, profile); err != nil {
		return err
	}
	if err := s.hot.SetProfile(ctx, profile); err != nil {
		s.cacheError(err)
	}
	return nil
}

// FindUserByCustomerRef implements entitled.Store. The reverse index is
// consulted on the durable tier only: it is queried on rare webhook
// fallbacks, not on the hot path.
func (s *Store) FindUserByCustomerRef(ctx context.Context, customerRef string) (string, error) {
	return s.cold.FindUserByCustomerRef(ctx, customerRef)
}

// GetSubscription implements entitled.Store with read-through caching.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*entitled.SubscriptionRecord, error) {
	record, err := s.hot.GetSubscription(ctx, userID)
	if err == nil {
		return record, nil
	}
	if err != entitled.ErrSubscriptionNotFound {
		s.cacheError(err)
	}

	record, err = s.cold.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cacheErr := s.hot.UpsertSubscription(ctx, record); cacheErr != nil {
		s.cacheError(cacheErr)
	}
	return record, nil
}

// UpsertSubscription implements entitled.Store with write-through.
func (s *Store) UpsertSubscription(ctx context.Context, record *entitled.SubscriptionRecord) error {
	if err := s.cold.UpsertSubscription(ctx, record); err != nil {
		return err
	}
	if err := s.hot.UpsertSubscription(ctx, record); err != nil {
		s.cacheError(err)
	}
	return nil
}

// MarkSeen implements entitled.EventLedger when a ledger tier is available.
func (s *Store) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if s.ledger == nil {
		return false, errors.New("tiered store: no event ledger configured")
	}
	return s.ledger.MarkSeen(ctx, eventID, ttl)
}

func (s *Store) cacheError(err error) {
	if s.conf.CacheErrorHandler != nil {
		s.conf.CacheErrorHandler(err)
	}
}
