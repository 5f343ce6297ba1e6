package entitled

import (
	"context"
	"fmt"
	"time"
)

const defaultWriteTimeout = 5 * time.Second

// CreditResetHook is invoked (not owned) when a reconciliation reset the
// user's monthly credit counter, so an external credit-ledger mechanism
// can follow. Errors are logged, never propagated: the entitlement write
// already succeeded.
type CreditResetHook func(ctx context.Context, userID, tier string)

// WriterConfig configures a Writer.
type WriterConfig struct {
	// Store is the persistence backend (required).
	Store Store

	// Precedence is passed to MergeSubscriptionState on every upsert.
	// Defaults to DefaultProviderPrecedence.
	Precedence ProviderPrecedence

	// WriteTimeout bounds each persistence call (default: 5s).
	WriteTimeout time.Duration

	// OnCreditReset is called after a successful commit that reset the
	// monthly credit counter (optional).
	OnCreditReset CreditResetHook

	// Logger defaults to NoopLogger.
	Logger Logger

	// Metrics defaults to NoopMetrics.
	Metrics Metrics
}

// Writer persists a reconciliation result into the two dependent records:
// the entitlement profile and the canonical subscription record. The two
// writes are separate operations with no shared transaction; a failure of
// the second is reported as a *PartialWriteError so callers can tell a
// half-applied update from full success. The race between the writes is
// accepted and monitored rather than papered over.
type Writer struct {
	store         Store
	precedence    ProviderPrecedence
	timeout       time.Duration
	onCreditReset CreditResetHook
	logger        Logger
	metrics       Metrics
}

// NewWriter creates a Writer.
func NewWriter(config WriterConfig) (*Writer, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	w := &Writer{
		store:         config.Store,
		precedence:    config.Precedence,
		timeout:       config.WriteTimeout,
		onCreditReset: config.OnCreditReset,
		logger:        config.Logger,
		metrics:       config.Metrics,
	}
	if w.precedence == nil {
		w.precedence = DefaultProviderPrecedence
	}
	if w.timeout <= 0 {
		w.timeout = defaultWriteTimeout
	}
	if w.logger == nil {
		w.logger = &NoopLogger{}
	}
	if w.metrics == nil {
		w.metrics = &NoopMetrics{}
	}
	return w, nil
}

// Commit writes the profile, then upserts the merged subscription record.
func (w *Writer) Commit(ctx context.Context, res Result) error {
	if res.State.Profile == nil || res.State.Subscription == nil {
		return fmt.Errorf("commit requires a complete state")
	}

	if err := w.setProfile(ctx, res.State.Profile); err != nil {
		w.metrics.RecordStoreWrite("profile", "error")
		return fmt.Errorf("profile write failed: %w", err)
	}
	w.metrics.RecordStoreWrite("profile", "success")

	if err := w.upsertSubscription(ctx, res.State.Subscription); err != nil {
		w.metrics.RecordStoreWrite("subscription", "error")
		w.metrics.RecordPartialWrite()
		w.logger.Error("subscription record write failed after profile update",
			Field{Key: "user_id", Value: res.State.Profile.UserID},
			Field{Key: "error", Value: err.Error()})
		return &PartialWriteError{Completed: "profile", Failed: "subscription", Err: err}
	}
	w.metrics.RecordStoreWrite("subscription", "success")

	if res.CreditsReset {
		w.metrics.RecordCreditReset(res.State.Profile.Tier)
		if w.onCreditReset != nil {
			w.onCreditReset(ctx, res.State.Profile.UserID, res.State.Profile.Tier)
		}
	}
	return nil
}

func (w *Writer) setProfile(ctx context.Context, profile *Profile) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return w.store.SetProfile(ctx, profile)
}

func (w *Writer) upsertSubscription(ctx context.Context, incoming *SubscriptionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	existing, err := w.store.GetSubscription(ctx, incoming.UserID)
	if err != nil && err != ErrSubscriptionNotFound {
		return err
	}
	merged := MergeSubscriptionState(existing, incoming, w.precedence)
	return w.store.UpsertSubscription(ctx, merged)
}
