// Package postgres provides a PostgreSQL implementation of the
// entitled.Store and entitled.EventLedger interfaces, backed by a pgx
// connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pantrykit/entitled/pkg/entitled"
)

// Store implements entitled.Store and entitled.EventLedger using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a PostgreSQL store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Migrate creates the schema if it does not exist. Idempotent; safe to call
// on startup.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS entitlement_profiles (
			user_id                   TEXT PRIMARY KEY,
			tier                      TEXT NOT NULL,
			monthly_credits_total     INTEGER NOT NULL DEFAULT 0,
			credits_used_this_month   INTEGER NOT NULL DEFAULT 0,
			credits_reset_date        TIMESTAMPTZ,
			provider_customer_ref     TEXT,
			provider_subscription_ref TEXT,
			provider_status           TEXT,
			subscription_start_date   TIMESTAMPTZ,
			subscription_end_date     TIMESTAMPTZ,
			cancel_reason             TEXT,
			last_payment_date         TIMESTAMPTZ,
			updated_at                TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS entitlement_profiles_customer_ref_idx
			ON entitlement_profiles (provider_customer_ref)
			WHERE provider_customer_ref IS NOT NULL AND provider_customer_ref <> '';

		CREATE TABLE IF NOT EXISTS subscription_records (
			user_id                   TEXT PRIMARY KEY,
			provider                  TEXT NOT NULL,
			status                    TEXT NOT NULL,
			tier                      TEXT NOT NULL,
			external_subscription_ref TEXT,
			price_ref                 TEXT,
			current_period_end        TIMESTAMPTZ,
			cancelled_at              TIMESTAMPTZ,
			updated_at                TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS webhook_events_seen (
			event_id   TEXT PRIMARY KEY,
			expires_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetProfile implements entitled.Store.
func (s *Store) GetProfile(ctx context.Context, userID string) (*entitled.Profile, error) {
	var p entitled.Profile
	var resetDate *time.Time
	var startDate *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, tier, monthly_credits_total, credits_used_this_month,
			credits_reset_date, provider_customer_ref, provider_subscription_ref,
			provider_status, subscription_start_date, subscription_end_date,
			cancel_reason, last_payment_date, updated_at
		FROM entitlement_profiles WHERE user_id = $1`,
		userID).Scan(
		&p.UserID, &p.Tier, &p.MonthlyCreditsTotal, &p.CreditsUsedThisMonth,
		&resetDate, &p.ProviderCustomerRef, &p.ProviderSubscriptionRef,
		&p.ProviderStatus, &startDate, &p.SubscriptionEndDate,
		&p.CancelReason, &p.LastPaymentDate, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, entitled.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if resetDate != nil {
		p.CreditsResetDate = *resetDate
	}
	if startDate != nil {
		p.SubscriptionStartDate = *startDate
	}
	return &p, nil
}

// SetProfile implements entitled.Store.
func (s *Store) SetProfile(ctx context.Context, profile *entitled.Profile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("invalid profile")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO entitlement_profiles (
			user_id, tier, monthly_credits_total, credits_used_this_month,
			credits_reset_date, provider_customer_ref, provider_subscription_ref,
			provider_status, subscription_start_date, subscription_end_date,
			cancel_reason, last_payment_date, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			monthly_credits_total = EXCLUDED.monthly_credits_total,
			credits_used_this_month = EXCLUDED.credits_used_this_month,
			credits_reset_date = EXCLUDED.credits_reset_date,
			provider_customer_ref = EXCLUDED.provider_customer_ref,
			provider_subscription_ref = EXCLUDED.provider_subscription_ref,
			provider_status = EXCLUDED.provider_status,
			subscription_start_date = EXCLUDED.subscription_start_date,
			subscription_end_date = EXCLUDED.subscription_end_date,
			cancel_reason = EXCLUDED.cancel_reason,
			last_payment_date = EXCLUDED.last_payment_date,
			updated_at = EXCLUDED.updated_at`,
		profile.UserID, profile.Tier, profile.MonthlyCreditsTotal, profile.CreditsUsedThisMonth,
		nullableTime(profile.CreditsResetDate), profile.ProviderCustomerRef, profile.ProviderSubscriptionRef,
		profile.ProviderStatus, nullableTime(profile.SubscriptionStartDate), profile.SubscriptionEndDate,
		profile.CancelReason, profile.LastPaymentDate, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set profile: %w", err)
	}
	return nil
}

// FindUserByCustomerRef implements entitled.Store.
func (s *Store) FindUserByCustomerRef(ctx context.Context, customerRef string) (string, error) {
	if customerRef == "" {
		return "", entitled.ErrProfileNotFound
	}

	var userID string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM entitlement_profiles WHERE provider_customer_ref = $1 LIMIT 1`,
		customerRef).Scan(&userID)
	if err == pgx.ErrNoRows {
		return "", entitled.ErrProfileNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up customer ref: %w", err)
	}
	return userID, nil
}

// GetSubscription implements entitled.Store.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*entitled.SubscriptionRecord, error) {
	var rec entitled.SubscriptionRecord
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, provider, status, tier, external_subscription_ref,
			price_ref, current_period_end, cancelled_at, updated_at
		FROM subscription_records WHERE user_id = $1`,
		userID).Scan(
		&rec.UserID, &rec.Provider, &rec.Status, &rec.Tier, &rec.ExternalSubscriptionRef,
		&rec.PriceRef, &rec.CurrentPeriodEnd, &rec.CancelledAt, &rec.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, entitled.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &rec, nil
}

// UpsertSubscription implements entitled.Store.
func (s *Store) UpsertSubscription(ctx context.Context, record *entitled.SubscriptionRecord) error {
	if record == nil || record.UserID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscription_records (
			user_id, provider, status, tier, external_subscription_ref,
			price_ref, current_period_end, cancelled_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			status = EXCLUDED.status,
			tier = EXCLUDED.tier,
			external_subscription_ref = EXCLUDED.external_subscription_ref,
			price_ref = EXCLUDED.price_ref,
			current_period_end = EXCLUDED.current_period_end,
			cancelled_at = EXCLUDED.cancelled_at,
			updated_at = EXCLUDED.updated_at`,
		record.UserID, record.Provider, record.Status, record.Tier, record.ExternalSubscriptionRef,
		record.PriceRef, record.CurrentPeriodEnd, record.CancelledAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// MarkSeen implements entitled.EventLedger. The insert is atomic; expired
// rows are lazily purged on each call.
func (s *Store) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if eventID == "" {
		return false, nil
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_events_seen (event_id, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO UPDATE SET expires_at = EXCLUDED.expires_at
			WHERE webhook_events_seen.expires_at < $3`,
		eventID, now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark event: %w", err)
	}

	// No row was inserted or refreshed: the id is already live.
	seen := tag.RowsAffected() == 0

	_, _ = s.pool.Exec(ctx, `DELETE FROM webhook_events_seen WHERE expires_at < $1`, now)
	return seen, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
