// Package fiber provides Fiber middleware for tier and credit gating.
package fiber

import (
	"errors"
	"net/http"

	gofiber "github.com/gofiber/fiber/v2"

	"github.com/pantrykit/entitled/pkg/entitled"
)

// UserIDExtractor extracts the user ID from a Fiber context.
// Return empty string if user is not authenticated.
type UserIDExtractor func(c *gofiber.Ctx) string

// AmountExtractor calculates the credit amount to consume from the Fiber context.
type AmountExtractor func(c *gofiber.Ctx) (int, error)

// ProfileKey is the Fiber locals key the middleware stores the resolved
// profile under.
const ProfileKey = "entitled:profile"

// Config holds middleware configuration.
type Config struct {
	// Gate answers tier and credit questions (required).
	Gate *entitled.Gate

	// GetUserID extracts user ID from context (required).
	GetUserID UserIDExtractor

	// MinTier is the lowest tier allowed through. Empty means any tier.
	MinTier string

	// GetAmount calculates credits to consume per request (optional).
	GetAmount AmountExtractor

	// OnTierTooLow is called when the user's tier is below MinTier.
	// If nil, returns 403 JSON with the user's current tier.
	OnTierTooLow func(c *gofiber.Ctx, profile *entitled.Profile) error

	// OnCreditsExhausted is called when the monthly allowance is spent.
	// If nil, returns 429 JSON with usage info.
	OnCreditsExhausted func(c *gofiber.Ctx, profile *entitled.Profile) error

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *gofiber.Ctx) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *gofiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that enforces tier and credit
// entitlements.
func Middleware(cfg Config) gofiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Gate == nil {
		panic("entitled/fiber: Config.Gate is required")
	}
	if cfg.GetUserID == nil {
		panic("entitled/fiber: Config.GetUserID is required")
	}

	return func(c *gofiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(http.StatusUnauthorized).JSON(gofiber.Map{"error": "unauthorized"})
		}

		ctx := c.UserContext()

		var profile *entitled.Profile
		var err error
		if cfg.MinTier != "" {
			profile, err = cfg.Gate.Require(ctx, userID, cfg.MinTier)
			if errors.Is(err, entitled.ErrTierTooLow) {
				if cfg.OnTierTooLow != nil {
					return cfg.OnTierTooLow(c, profile)
				}
				return c.Status(http.StatusForbidden).JSON(gofiber.Map{
					"error": "tier too low",
					"tier":  profile.Tier,
				})
			}
		} else {
			profile, err = cfg.Gate.Profile(ctx, userID)
		}
		if err != nil {
			return handleError(c, cfg, err)
		}

		if cfg.GetAmount != nil {
			amount, err := cfg.GetAmount(c)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.Status(http.StatusBadRequest).JSON(gofiber.Map{"error": "bad request"})
			}
			if amount > 0 {
				profile, err = cfg.Gate.Consume(ctx, userID, amount)
				if errors.Is(err, entitled.ErrCreditsExhausted) {
					if cfg.OnCreditsExhausted != nil {
						return cfg.OnCreditsExhausted(c, profile)
					}
					return c.Status(http.StatusTooManyRequests).JSON(gofiber.Map{
						"error": "monthly credits exhausted",
						"used":  profile.CreditsUsedThisMonth,
						"limit": profile.MonthlyCreditsTotal,
					})
				}
				if err != nil {
					return handleError(c, cfg, err)
				}
			}
		}

		c.Locals(ProfileKey, profile)
		return c.Next()
	}
}

func handleError(c *gofiber.Ctx, cfg Config, err error) error {
	if cfg.OnError != nil {
		return cfg.OnError(c, err)
	}
	return c.Status(http.StatusInternalServerError).JSON(gofiber.Map{"error": "internal server error"})
}

// ProfileFromContext returns the profile the middleware resolved for the
// request, if any.
func ProfileFromContext(c *gofiber.Ctx) (*entitled.Profile, bool) {
	if profile, ok := c.Locals(ProfileKey).(*entitled.Profile); ok {
		return profile, true
	}
	return nil, false
}

// Convenience extractors for User ID

// FromLocals returns a UserIDExtractor that gets user ID from Fiber locals.
// This is the recommended approach for integrating with auth middleware
// that sets user information via c.Locals("UserID", ...).
func FromLocals(key string) UserIDExtractor {
	return func(c *gofiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gofiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter.
func FromParam(paramName string) UserIDExtractor {
	return func(c *gofiber.Ctx) string {
		return c.Params(paramName)
	}
}

// Convenience extractors for Amount

// FixedAmount returns an AmountExtractor that always returns a fixed amount.
func FixedAmount(amount int) AmountExtractor {
	return func(*gofiber.Ctx) (int, error) {
		return amount, nil
	}
}

// DynamicCost returns an AmountExtractor that calculates cost based on a function.
func DynamicCost(costFunc func(*gofiber.Ctx) int) AmountExtractor {
	return func(c *gofiber.Ctx) (int, error) {
		return costFunc(c), nil
	}
}
