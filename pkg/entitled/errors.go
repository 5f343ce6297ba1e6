package entitled

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProfileNotFound is returned when a user has no entitlement profile.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrSubscriptionNotFound is returned when a user has no canonical
	// subscription record.
	ErrSubscriptionNotFound = errors.New("subscription record not found")

	// ErrInvalidTier is returned for a tier absent from the catalog.
	ErrInvalidTier = errors.New("invalid tier")

	// ErrUnknownEventType is returned for an event type the reconciler
	// does not model.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrMissingUserID is returned for events without a resolved user.
	ErrMissingUserID = errors.New("missing user id")
)

// UnmappedPriceError is returned when a web event carries a price reference
// absent from the price map. Mis-tiering a paying customer is worse than a
// delayed retry, so this is a hard, retryable failure, never a default.
type UnmappedPriceError struct {
	PriceRef  string
	KnownRefs []string
}

func (e *UnmappedPriceError) Error() string {
	return fmt.Sprintf("no tier mapped for price %q (known: %s)",
		e.PriceRef, strings.Join(e.KnownRefs, ", "))
}

// PartialWriteError reports that one of the two dependent writes succeeded
// while the other failed, so callers can distinguish "event fully handled"
// from a half-applied update.
type PartialWriteError struct {
	// Completed names the write that succeeded ("profile" or "subscription").
	Completed string
	// Failed names the write that failed.
	Failed string
	Err    error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write: %s updated but %s write failed: %v",
		e.Completed, e.Failed, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }
