// Package gin provides Gin middleware for tier and credit gating.
package gin

import (
	"errors"
	"net/http"

	gongin "github.com/gin-gonic/gin"
	"github.com/pantrykit/entitled/pkg/entitled"
)

// UserIDExtractor extracts the user ID from a Gin context.
// Return empty string if user is not authenticated.
type UserIDExtractor func(c *gongin.Context) string

// AmountExtractor calculates the credit amount to consume from the Gin context.
type AmountExtractor func(c *gongin.Context) (int, error)

// ProfileKey is the Gin context key the middleware stores the resolved
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
	OnTierTooLow func(c *gongin.Context, profile *entitled.Profile)

	// OnCreditsExhausted is called when the monthly allowance is spent.
	// If nil, returns 429 JSON with usage info.
	OnCreditsExhausted func(c *gongin.Context, profile *entitled.Profile)

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that enforces tier and credit
// entitlements.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Gate == nil {
		panic("entitled/gin: Config.Gate is required")
	}
	if cfg.GetUserID == nil {
		panic("entitled/gin: Config.GetUserID is required")
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			c.Abort()
			return
		}

		ctx := c.Request.Context()

		var profile *entitled.Profile
		var err error
		if cfg.MinTier != "" {
			profile, err = cfg.Gate.Require(ctx, userID, cfg.MinTier)
			if errors.Is(err, entitled.ErrTierTooLow) {
				if cfg.OnTierTooLow != nil {
					cfg.OnTierTooLow(c, profile)
				} else {
					c.JSON(http.StatusForbidden, gongin.H{
						"error": "tier too low",
						"tier":  profile.Tier,
					})
				}
				c.Abort()
				return
			}
		} else {
			profile, err = cfg.Gate.Profile(ctx, userID)
		}
		if err != nil {
			abortError(c, cfg, err)
			return
		}

		if cfg.GetAmount != nil {
			amount, err := cfg.GetAmount(c)
			if err != nil {
				if cfg.OnError != nil {
					cfg.OnError(c, err)
				} else {
					c.JSON(http.StatusBadRequest, gongin.H{"error": "bad request"})
				}
				c.Abort()
				return
			}
			if amount > 0 {
				profile, err = cfg.Gate.Consume(ctx, userID, amount)
				if errors.Is(err, entitled.ErrCreditsExhausted) {
					if cfg.OnCreditsExhausted != nil {
						cfg.OnCreditsExhausted(c, profile)
					} else {
						c.JSON(http.StatusTooManyRequests, gongin.H{
							"error": "monthly credits exhausted",
							"used":  profile.CreditsUsedThisMonth,
							"limit": profile.MonthlyCreditsTotal,
						})
					}
					c.Abort()
					return
				}
				if err != nil {
					abortError(c, cfg, err)
					return
				}
			}
		}

		c.Set(ProfileKey, profile)
		c.Next()
	}
}

func abortError(c *gongin.Context, cfg Config, err error) {
	if cfg.OnError != nil {
		cfg.OnError(c, err)
	} else {
		c.JSON(http.StatusInternalServerError, gongin.H{"error": "internal server error"})
	}
	c.Abort()
}

// ProfileFromContext returns the profile the middleware resolved for the
// request, if any.
func ProfileFromContext(c *gongin.Context) (*entitled.Profile, bool) {
	if val, exists := c.Get(ProfileKey); exists {
		if profile, ok := val.(*entitled.Profile); ok {
			return profile, true
		}
	}
	return nil, false
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context
// values. This is the recommended approach for integrating with auth
// middleware that sets user information via c.Set("UserID", "...").
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter.
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// Convenience extractors for Amount

// FixedAmount returns an AmountExtractor that always returns a fixed amount.
func FixedAmount(amount int) AmountExtractor {
	return func(*gongin.Context) (int, error) {
		return amount, nil
	}
}

// DynamicCost returns an AmountExtractor that calculates cost based on a function.
func DynamicCost(costFunc func(*gongin.Context) int) AmountExtractor {
	return func(c *gongin.Context) (int, error) {
		return costFunc(c), nil
	}
}
