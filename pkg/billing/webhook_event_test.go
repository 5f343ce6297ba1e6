package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrykit/entitled/pkg/entitled"
)

func TestWebhookEventFromResult(t *testing.T) {
	occurred := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	res := entitled.Result{
		State: entitled.State{
			Profile: &entitled.Profile{UserID: "u1", Tier: "pro"},
		},
		PreviousTier: "free",
		TierChanged:  true,
		CreditsReset: true,
		Event: entitled.Event{
			Type:       entitled.EventCheckoutCompleted,
			UserID:     "u1",
			OccurredAt: occurred,
		},
	}

	ev := WebhookEventFromResult(entitled.ProviderWeb, "evt_1", res)

	assert.Equal(t, entitled.ProviderWeb, ev.Provider)
	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, entitled.EventCheckoutCompleted, ev.Type)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, "free", ev.PreviousTier)
	assert.Equal(t, "pro", ev.Tier)
	assert.True(t, ev.CreditsReset)
	assert.Equal(t, occurred, ev.OccurredAt)
}

func TestWebhookEventFromResult_Defaults(t *testing.T) {
	res := entitled.Result{
		Event: entitled.Event{Type: entitled.EventInvoicePaid, UserID: "u1"},
	}

	ev := WebhookEventFromResult(entitled.ProviderApple, "", res)

	require.Empty(t, ev.Tier, "no profile means no tier")
	assert.False(t, ev.OccurredAt.IsZero(), "missing provider timestamp falls back to processing time")
}

func TestLedgerWindow(t *testing.T) {
	var cfg Config
	assert.Equal(t, 24*time.Hour, cfg.LedgerWindow())

	cfg.LedgerTTL = time.Hour
	assert.Equal(t, time.Hour, cfg.LedgerWindow())
}
