package fiber

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gofiber "github.com/gofiber/fiber/v2"

	"github.com/pantrykit/entitled/pkg/entitled"
	"github.com/pantrykit/entitled/storage/memory"
)

func setupTestGate(t *testing.T, store entitled.Store) *entitled.Gate {
	t.Helper()

	catalog, err := entitled.NewCatalog(map[string]entitled.TierConfig{
		"free":   {MonthlyCredits: 2},
		"adfree": {MonthlyCredits: 10, AdFree: true},
		"pro":    {MonthlyCredits: 100, AdFree: true},
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create catalog: %v", err)
	}
	gate, err := entitled.NewGate(store, catalog)
	if err != nil {
		t.Fatalf("Failed to create gate: %v", err)
	}
	return gate
}

func setupProfile(t *testing.T, store entitled.Store, userID, tier string, credits int) {
	t.Helper()

	err := store.SetProfile(context.Background(), &entitled.Profile{
		UserID:              userID,
		Tier:                tier,
		MonthlyCreditsTotal: credits,
		UpdatedAt:           time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Failed to set profile: %v", err)
	}
}

func okApp(cfg Config) *gofiber.App {
	app := gofiber.New()
	app.Use(Middleware(cfg))
	app.Get("/recipes", func(c *gofiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func doRequest(t *testing.T, app *gofiber.App, userID string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func TestMiddleware_Success(t *testing.T) {
	store := memory.New()
	setupProfile(t, store, "user1", "pro", 100)

	app := okApp(Config{
		Gate:      setupTestGate(t, store),
		GetUserID: FromHeader("X-User-ID"),
		MinTier:   "adfree",
	})

	resp := doRequest(t, app, "user1")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	app := okApp(Config{
		Gate:      setupTestGate(t, memory.New()),
		GetUserID: FromHeader("X-User-ID"),
	})

	resp := doRequest(t, app, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}
}

func TestMiddleware_TierTooLow(t *testing.T) {
	store := memory.New()
	setupProfile(t, store, "user1", "adfree", 10)

	app := okApp(Config{
		Gate:      setupTestGate(t, store),
		GetUserID: FromHeader("X-User-ID"),
		MinTier:   "pro",
	})

	resp := doRequest(t, app, "user1")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", resp.StatusCode)
	}
}

func TestMiddleware_CreditsExhausted(t *testing.T) {
	store := memory.New()

	app := okApp(Config{
		Gate:      setupTestGate(t, store),
		GetUserID: FromHeader("X-User-ID"),
		GetAmount: FixedAmount(1),
	})

	// Free allowance is 2.
	for i := 0; i < 2; i++ {
		if resp := doRequest(t, app, "user1"); resp.StatusCode != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}
	if resp := doRequest(t, app, "user1"); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after allowance spent, got %d", resp.StatusCode)
	}
}
