// Package firestore provides a Firestore implementation of the
// entitled.Store and entitled.EventLedger interfaces.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pantrykit/entitled/pkg/entitled"
)

// Store implements entitled.Store and entitled.EventLedger using Google
// Cloud Firestore.
type Store struct {
	client                  *firestore.Client
	profilesCollection      string
	subscriptionsCollection string
	eventsCollection        string
}

// Config holds Firestore store configuration.
type Config struct {
	// ProfilesCollection is the collection for entitlement profiles.
	// Default: "entitlement_profiles".
	ProfilesCollection string

	// SubscriptionsCollection is the collection for canonical subscription
	// records. Default: "subscription_records".
	SubscriptionsCollection string

	// EventsCollection is the collection for the webhook event ledger.
	// Default: "webhook_events_seen".
	EventsCollection string
}

// New creates a Firestore store.
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.ProfilesCollection == "" {
		config.ProfilesCollection = "entitlement_profiles"
	}
	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "subscription_records"
	}
	if config.EventsCollection == "" {
		config.EventsCollection = "webhook_events_seen"
	}

	return &Store{
		client:                  client,
		profilesCollection:      config.ProfilesCollection,
		subscriptionsCollection: config.SubscriptionsCollection,
		eventsCollection:        config.EventsCollection,
	}, nil
}

// GetProfile implements entitled.Store.
func (s *Store) GetProfile(ctx context.Context, userID string) (*entitled.Profile, error) {
	snap, err := s.client.Collection(s.profilesCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitled.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if !snap.Exists() {
		return nil, entitled.ErrProfileNotFound
	}

	data := snap.Data()
	profile := &entitled.Profile{
		UserID:                  userID,
		Tier:                    getString(data, "tier"),
		MonthlyCreditsTotal:     getInt(data, "monthlyCreditsTotal"),
		CreditsUsedThisMonth:    getInt(data, "creditsUsedThisMonth"),
		CreditsResetDate:        getTime(data, "creditsResetDate"),
		ProviderCustomerRef:     getString(data, "providerCustomerRef"),
		ProviderSubscriptionRef: getString(data, "providerSubscriptionRef"),
		ProviderStatus:          getString(data, "providerStatus"),
		SubscriptionStartDate:   getTime(data, "subscriptionStartDate"),
		SubscriptionEndDate:     getTimePtr(data, "subscriptionEndDate"),
		CancelReason:            getString(data, "cancelReason"),
		LastPaymentDate:         getTimePtr(data, "lastPaymentDate"),
		UpdatedAt:               getTime(data, "updatedAt"),
	}
	return profile, nil
}

// SetProfile implements entitled.Store.
func (s *Store) SetProfile(ctx context.Context, profile *entitled.Profile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("invalid profile")
	}

	data := map[string]interface{}{
		"tier":                    profile.Tier,
		"monthlyCreditsTotal":     profile.MonthlyCreditsTotal,
		"creditsUsedThisMonth":    profile.CreditsUsedThisMonth,
		"creditsResetDate":        profile.CreditsResetDate,
		"providerCustomerRef":     profile.ProviderCustomerRef,
		"providerSubscriptionRef": profile.ProviderSubscriptionRef,
		"providerStatus":          profile.ProviderStatus,
		"subscriptionStartDate":   profile.SubscriptionStartDate,
		"cancelReason":            profile.CancelReason,
		"updatedAt":               profile.UpdatedAt,
	}
	if profile.SubscriptionEndDate != nil {
		data["subscriptionEndDate"] = *profile.SubscriptionEndDate
	}
	if profile.LastPaymentDate != nil {
		data["lastPaymentDate"] = *profile.LastPaymentDate
	}

	if _, err := s.client.Collection(s.profilesCollection).Doc(profile.UserID).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to set profile: %w", err)
	}
	return nil
}

// FindUserByCustomerRef implements entitled.Store.
func (s *Store) FindUserByCustomerRef(ctx context.Context, customerRef string) (string, error) {
	if customerRef == "" {
		return "", entitled.ErrProfileNotFound
	}

	iter := s.client.Collection(s.profilesCollection).
		Where("providerCustomerRef", "==", customerRef).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return "", entitled.ErrProfileNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up customer ref: %w", err)
	}
	return snap.Ref.ID, nil
}

// GetSubscription implements entitled.Store.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*entitled.SubscriptionRecord, error) {
	snap, err := s.client.Collection(s.subscriptionsCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitled.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if !snap.Exists() {
		return nil, entitled.ErrSubscriptionNotFound
	}

	data := snap.Data()
	record := &entitled.SubscriptionRecord{
		UserID:                  userID,
		Provider:                entitled.Provider(getString(data, "provider")),
		Status:                  entitled.Status(getString(data, "status")),
		Tier:                    getString(data, "tier"),
		ExternalSubscriptionRef: getString(data, "externalSubscriptionRef"),
		PriceRef:                getString(data, "priceRef"),
		CurrentPeriodEnd:        getTimePtr(data, "currentPeriodEnd"),
		CancelledAt:             getTimePtr(data, "cancelledAt"),
		UpdatedAt:               getTime(data, "updatedAt"),
	}
	return record, nil
}

// UpsertSubscription implements entitled.Store.
func (s *Store) UpsertSubscription(ctx context.Context, record *entitled.SubscriptionRecord) error {
	if record == nil || record.UserID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	data := map[string]interface{}{
		"provider":                string(record.Provider),
		"status":                  string(record.Status),
		"tier":                    record.Tier,
		"externalSubscriptionRef": record.ExternalSubscriptionRef,
		"priceRef":                record.PriceRef,
		"updatedAt":               record.UpdatedAt,
	}
	if record.CurrentPeriodEnd != nil {
		data["currentPeriodEnd"] = *record.CurrentPeriodEnd
	}
	if record.CancelledAt != nil {
		data["cancelledAt"] = *record.CancelledAt
	}

	if _, err := s.client.Collection(s.subscriptionsCollection).Doc(record.UserID).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// MarkSeen implements entitled.EventLedger. Create fails with AlreadyExists
// when the document is present, which gives an atomic first-writer-wins
// answer without a transaction.
func (s *Store) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if eventID == "" {
		return false, nil
	}

	now := time.Now().UTC()
	doc := s.client.Collection(s.eventsCollection).Doc(eventID)

	_, err := doc.Create(ctx, map[string]interface{}{
		"expiresAt": now.Add(ttl),
	})
	if err == nil {
		return false, nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return false, fmt.Errorf("failed to mark event: %w", err)
	}

	// The id exists; it only counts as seen while unexpired. Expired docs
	// are refreshed in place.
	snap, err := doc.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read event marker: %w", err)
	}
	if expiresAt := getTime(snap.Data(), "expiresAt"); expiresAt.After(now) {
		return true, nil
	}
	if _, err := doc.Set(ctx, map[string]interface{}{"expiresAt": now.Add(ttl)}); err != nil {
		return false, fmt.Errorf("failed to refresh event marker: %w", err)
	}
	return false, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Helpers for reading loosely typed Firestore documents.

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getTimePtr(data map[string]interface{}, key string) *time.Time {
	if v, ok := data[key].(time.Time); ok && !v.IsZero() {
		return &v
	}
	return nil
}
