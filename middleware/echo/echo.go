// Package echo provides Echo middleware for tier and credit gating.
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pantrykit/entitled/pkg/entitled"
)

// UserIDExtractor extracts the user ID from an Echo context.
// Return empty string if user is not authenticated.
type UserIDExtractor func(c echo.Context) string

// AmountExtractor calculates the credit amount to consume from the Echo context.
type AmountExtractor func(c echo.Context) (int, error)

// ProfileKey is the Echo context key the middleware stores the resolved
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
	OnTierTooLow func(c echo.Context, profile *entitled.Profile) error

	// OnCreditsExhausted is called when the monthly allowance is spent.
	// If nil, returns 429 JSON with usage info.
	OnCreditsExhausted func(c echo.Context, profile *entitled.Profile) error

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that enforces tier and credit
// entitlements.
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Gate == nil {
		panic("entitled/echo: Config.Gate is required")
	}
	if cfg.GetUserID == nil {
		panic("entitled/echo: Config.GetUserID is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			ctx := c.Request().Context()

			var profile *entitled.Profile
			var err error
			if cfg.MinTier != "" {
				profile, err = cfg.Gate.Require(ctx, userID, cfg.MinTier)
				if errors.Is(err, entitled.ErrTierTooLow) {
					if cfg.OnTierTooLow != nil {
						return cfg.OnTierTooLow(c, profile)
					}
					return c.JSON(http.StatusForbidden, map[string]string{
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
					return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
				}
				if amount > 0 {
					profile, err = cfg.Gate.Consume(ctx, userID, amount)
					if errors.Is(err, entitled.ErrCreditsExhausted) {
						if cfg.OnCreditsExhausted != nil {
							return cfg.OnCreditsExhausted(c, profile)
						}
						return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
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

			c.Set(ProfileKey, profile)
			return next(c)
		}
	}
}

func handleError(c echo.Context, cfg Config, err error) error {
	if cfg.OnError != nil {
		return cfg.OnError(c, err)
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

// ProfileFromContext returns the profile the middleware resolved for the
// request, if any.
func ProfileFromContext(c echo.Context) (*entitled.Profile, bool) {
	if val := c.Get(ProfileKey); val != nil {
		if profile, ok := val.(*entitled.Profile); ok {
			return profile, true
		}
	}
	return nil, false
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Echo context
// values. This is the recommended approach for integrating with auth
// middleware that sets user information via c.Set("UserID", "...").
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if val := c.Get(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter.
func FromParam(paramName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// Convenience extractors for Amount

// FixedAmount returns an AmountExtractor that always returns a fixed amount.
func FixedAmount(amount int) AmountExtractor {
	return func(echo.Context) (int, error) {
		return amount, nil
	}
}

// DynamicCost returns an AmountExtractor that calculates cost based on a function.
func DynamicCost(costFunc func(echo.Context) int) AmountExtractor {
	return func(c echo.Context) (int, error) {
		return costFunc(c), nil
	}
}
