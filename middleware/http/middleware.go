// Package http provides net/http middleware for tier and credit gating.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pantrykit/entitled/pkg/entitled"
)

// UserIDExtractor extracts the user ID from an HTTP request.
// Return empty string if user is not authenticated.
type UserIDExtractor func(r *http.Request) string

// AmountExtractor calculates the credit amount to consume from the request.
// For example: count a generation request as 1, or price it by payload size.
type AmountExtractor func(r *http.Request) (int, error)

// Config holds middleware configuration.
type Config struct {
	// Gate answers tier and credit questions (required).
	Gate *entitled.Gate

	// GetUserID extracts user ID from request (required).
	GetUserID UserIDExtractor

	// MinTier is the lowest tier allowed through. Empty means any tier,
	// including free.
	MinTier string

	// GetAmount calculates credits to consume per request (optional).
	// When nil, no credits are spent; the middleware only gates on tier.
	GetAmount AmountExtractor

	// OnTierTooLow is called when the user's tier is below MinTier.
	// If nil, returns 403 Forbidden with the user's current tier.
	OnTierTooLow func(w http.ResponseWriter, r *http.Request, profile *entitled.Profile)

	// OnCreditsExhausted is called when the monthly allowance cannot
	// cover the request. If nil, returns 429 Too Many Requests.
	OnCreditsExhausted func(w http.ResponseWriter, r *http.Request, profile *entitled.Profile)

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that enforces tier and credit
// entitlements. The user's profile is stored in the request context for
// downstream handlers.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Gate == nil {
		panic("entitled/http: Config.Gate is required")
	}
	if config.GetUserID == nil {
		panic("entitled/http: Config.GetUserID is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				}
				return
			}

			ctx := r.Context()

			var profile *entitled.Profile
			var err error
			if config.MinTier != "" {
				profile, err = config.Gate.Require(ctx, userID, config.MinTier)
				if errors.Is(err, entitled.ErrTierTooLow) {
					if config.OnTierTooLow != nil {
						config.OnTierTooLow(w, r, profile)
					} else {
						writeJSON(w, http.StatusForbidden, map[string]string{
							"error": "tier too low",
							"tier":  profile.Tier,
						})
					}
					return
				}
			} else {
				profile, err = config.Gate.Profile(ctx, userID)
			}
			if err != nil {
				handleError(w, r, config, err)
				return
			}

			if config.GetAmount != nil {
				amount, err := config.GetAmount(r)
				if err != nil {
					if config.OnError != nil {
						config.OnError(w, r, err)
					} else {
						writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
					}
					return
				}
				if amount > 0 {
					profile, err = config.Gate.Consume(ctx, userID, amount)
					if errors.Is(err, entitled.ErrCreditsExhausted) {
						if config.OnCreditsExhausted != nil {
							config.OnCreditsExhausted(w, r, profile)
						} else {
							writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
								"error": "monthly credits exhausted",
								"used":  profile.CreditsUsedThisMonth,
								"limit": profile.MonthlyCreditsTotal,
							})
						}
						return
					}
					if err != nil {
						handleError(w, r, config, err)
						return
					}
				}
			}

			next.ServeHTTP(w, r.WithContext(WithProfile(ctx, profile)))
		})
	}
}

// HandlerFunc creates an HTTP middleware that enforces entitlements
// (HandlerFunc version).
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func handleError(w http.ResponseWriter, r *http.Request, config Config, err error) {
	if config.OnError != nil {
		config.OnError(w, r, err)
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

// Common extractors for convenience

// FixedAmount returns an AmountExtractor that always returns a fixed amount.
func FixedAmount(amount int) AmountExtractor {
	return func(*http.Request) (int, error) {
		return amount, nil
	}
}

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for user ID.
	UserIDKey ContextKey = "entitled:userID"

	// profileKey is the context key the middleware stores the resolved
	// profile under.
	profileKey ContextKey = "entitled:profile"
)

// FromContext returns an UserIDExtractor that gets user ID from request context.
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithUserID adds user ID to request context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithProfile adds an entitlement profile to request context.
func WithProfile(ctx context.Context, profile *entitled.Profile) context.Context {
	return context.WithValue(ctx, profileKey, profile)
}

// ProfileFromContext returns the profile the middleware resolved for the
// request, if any.
func ProfileFromContext(ctx context.Context) (*entitled.Profile, bool) {
	profile, ok := ctx.Value(profileKey).(*entitled.Profile)
	return profile, ok
}
