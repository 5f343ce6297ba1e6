package api

import (
	"errors"
	"net/http"

	"github.com/pantrykit/entitled/pkg/entitled"
)

// UserIDExtractor extracts the authenticated user ID from a request.
// Return empty string if user is not authenticated.
type UserIDExtractor func(r *http.Request) string

// Config holds handler configuration.
type Config struct {
	// Store reads profiles and subscription records (required).
	Store entitled.Store

	// Catalog provides tier entitlements for the response (required).
	Catalog *entitled.Catalog

	// GetUserID extracts the authenticated user from the request
	// (required). Typically reads a session or verified token.
	GetUserID UserIDExtractor

	// Logger defaults to a no-op logger.
	Logger entitled.Logger
}

func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("api: Config.Store is required")
	}
	if c.Catalog == nil {
		return errors.New("api: Config.Catalog is required")
	}
	if c.GetUserID == nil {
		return errors.New("api: Config.GetUserID is required")
	}
	return nil
}
