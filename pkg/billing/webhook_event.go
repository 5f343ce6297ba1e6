package billing

import (
	"time"

	"github.com/pantrykit/entitled/pkg/entitled"
)

// WebhookEvent carries the outcome of one processed provider event to the
// OnEvent callback.
type WebhookEvent struct {
	// Provider that delivered the event ("web", "apple", "google").
	Provider entitled.Provider

	// EventID is the provider's event identifier, when it has one.
	EventID string

	// Type is the normalized event type.
	Type entitled.EventType

	// UserID is the resolved application user.
	UserID string

	// PreviousTier and Tier describe the transition; equal when the event
	// changed no tier.
	PreviousTier string
	Tier         string

	// CreditsReset is true when reconciliation granted a fresh credit
	// allowance.
	CreditsReset bool

	// OccurredAt is the provider's event timestamp, or the processing time
	// when the provider supplied none.
	OccurredAt time.Time
}

// WebhookEventFromResult builds the callback payload for a committed
// reconciliation result.
func WebhookEventFromResult(provider entitled.Provider, eventID string, res entitled.Result) WebhookEvent {
	ev := WebhookEvent{
		Provider:     provider,
		EventID:      eventID,
		Type:         res.Event.Type,
		UserID:       res.Event.UserID,
		PreviousTier: res.PreviousTier,
		CreditsReset: res.CreditsReset,
		OccurredAt:   res.Event.OccurredAt,
	}
	if res.State.Profile != nil {
		ev.Tier = res.State.Profile.Tier
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	return ev
}
