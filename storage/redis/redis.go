// Package redis provides a Redis implementation of the entitled.Store and
// entitled.EventLedger interfaces.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pantrykit/entitled/pkg/entitled"
)

// Store implements entitled.Store and entitled.EventLedger using Redis.
// Profiles and subscription records are stored as JSON values; the customer
// reference index is a plain key per reference.
type Store struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "entitled:").
	KeyPrefix string

	// ProfileTTL is the TTL for profile keys (0 = no expiration). Only set
	// this when Redis is a cache in front of a durable store.
	ProfileTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "entitled:",
	}
}

// New creates a Redis store. The client can be *redis.Client,
// *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "entitled:"
	}
	return &Store{client: client, config: config}, nil
}

// GetProfile implements entitled.Store.
func (s *Store) GetProfile(ctx context.Context, userID string) (*entitled.Profile, error) {
	data, err := s.client.Get(ctx, s.profileKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, entitled.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	var profile entitled.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &profile, nil
}

// SetProfile implements entitled.Store.
func (s *Store) SetProfile(ctx context.Context, profile *entitled.Profile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("invalid profile")
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.profileKey(profile.UserID), data, s.config.ProfileTTL)
	if profile.ProviderCustomerRef != "" {
		pipe.Set(ctx, s.customerKey(profile.ProviderCustomerRef), profile.UserID, s.config.ProfileTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set profile: %w", err)
	}
	return nil
}

// FindUserByCustomerRef implements entitled.Store.
func (s *Store) FindUserByCustomerRef(ctx context.Context, customerRef string) (string, error) {
	userID, err := s.client.Get(ctx, s.customerKey(customerRef)).Result()
	if err == redis.Nil {
		return "", entitled.ErrProfileNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up customer ref: %w", err)
	}
	return userID, nil
}

// GetSubscription implements entitled.Store.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*entitled.SubscriptionRecord, error) {
	data, err := s.client.Get(ctx, s.subscriptionKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, entitled.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	var record entitled.SubscriptionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	return &record, nil
}

// UpsertSubscription implements entitled.Store.
func (s *Store) UpsertSubscription(ctx context.Context, record *entitled.SubscriptionRecord) error {
	if record == nil || record.UserID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}
	if err := s.client.Set(ctx, s.subscriptionKey(record.UserID), data, s.config.ProfileTTL).Err(); err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// MarkSeen implements entitled.EventLedger. SET NX gives an atomic
// first-writer-wins answer across all instances sharing the Redis.
func (s *Store) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	set, err := s.client.SetNX(ctx, s.eventKey(eventID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event: %w", err)
	}
	return !set, nil
}

// Ping checks connectivity to Redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) profileKey(userID string) string {
	return fmt.Sprintf("%sprofile:%s", s.config.KeyPrefix, userID)
}

func (s *Store) subscriptionKey(userID string) string {
	return fmt.Sprintf("%ssubscription:%s", s.config.KeyPrefix, userID)
}

func (s *Store) customerKey(customerRef string) string {
	return fmt.Sprintf("%scustomer:%s", s.config.KeyPrefix, customerRef)
}

func (s *Store) eventKey(eventID string) string {
	return fmt.Sprintf("%sevent:%s", s.config.KeyPrefix, eventID)
}
