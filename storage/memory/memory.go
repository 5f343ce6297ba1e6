// Package memory provides an in-memory implementation of the entitled.Store
// interface. Intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pantrykit/entitled/pkg/entitled"
)

// Store implements entitled.Store and entitled.EventLedger using in-memory
// maps.
type Store struct {
	mu            sync.RWMutex
	profiles      map[string]*entitled.Profile
	subscriptions map[string]*entitled.SubscriptionRecord
	customerRefs  map[string]string
	seenEvents    map[string]time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		profiles:      make(map[string]*entitled.Profile),
		subscriptions: make(map[string]*entitled.SubscriptionRecord),
		customerRefs:  make(map[string]string),
		seenEvents:    make(map[string]time.Time),
	}
}

// GetProfile implements entitled.Store.
func (s *Store) GetProfile(ctx context.Context, userID string) (*entitled.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, entitled.ErrProfileNotFound
	}

	// Return a copy to prevent external mutations.
	cp := *p
	return &cp, nil
}

// SetProfile implements entitled.Store.
func (s *Store) SetProfile(ctx context.Context, profile *entitled.Profile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("invalid profile")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *profile
	s.profiles[profile.UserID] = &cp
	if profile.ProviderCustomerRef != "" {
		s.customerRefs[profile.ProviderCustomerRef] = profile.UserID
	}
	return nil
}

// FindUserByCustomerRef implements entitled.Store.
func (s *Store) FindUserByCustomerRef(ctx context.Context, customerRef string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.customerRefs[customerRef]
	if !ok {
		return "", entitled.ErrProfileNotFound
	}
	return userID, nil
}

// GetSubscription implements entitled.Store.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*entitled.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.subscriptions[userID]
	if !ok {
		return nil, entitled.ErrSubscriptionNotFound
	}

	cp := *rec
	return &cp, nil
}

// UpsertSubscription implements entitled.Store.
func (s *Store) UpsertSubscription(ctx context.Context, record *entitled.SubscriptionRecord) error {
	if record == nil || record.UserID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *record
	s.subscriptions[record.UserID] = &cp
	return nil
}

// MarkSeen implements entitled.EventLedger.
func (s *Store) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if eventID == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if expiry, ok := s.seenEvents[eventID]; ok && now.Before(expiry) {
		return true, nil
	}
	s.seenEvents[eventID] = now.Add(ttl)
	return false, nil
}
