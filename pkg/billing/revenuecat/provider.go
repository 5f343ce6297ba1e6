package revenuecat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pantrykit/entitled/pkg/billing"
	"github.com/pantrykit/entitled/pkg/billing/internal"
	"github.com/pantrykit/entitled/pkg/entitled"
)

const (
	providerName             = "revenuecat"
	defaultAPIBaseURL        = "https://api.revenuecat.com/v1"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	fallbackEntitlementTTL   = 30 * 24 * time.Hour
)

// Config extends billing.Config with RevenueCat-specific options.
type Config struct {
	billing.Config

	// APIBaseURL overrides the RevenueCat API endpoint. Used in tests.
	APIBaseURL string

	// EntitlementTiers maps RevenueCat entitlement identifiers to tier
	// names. Unlike the web price map this mapping is permissive: unmapped
	// entitlements are skipped, not errors, because the set of identifiers
	// is controlled by the app's own RevenueCat dashboard.
	EntitlementTiers map[string]string

	// Authenticate resolves the calling end user from a sync request.
	// Required for the sync endpoint; typically validates a bearer token
	// and returns the user id.
	Authenticate func(r *http.Request) (string, error)
}

// Provider handles the native in-app purchase path for Apple and Google.
// Purchases are verified against RevenueCat before being trusted; when
// RevenueCat is unreachable the trust policy caps what the client may claim.
type Provider struct {
	cfg         Config
	store       entitled.Store
	catalog     *entitled.Catalog
	reconciler  *entitled.Reconciler
	writer      *entitled.Writer
	httpClient  *http.Client
	apiBaseURL  string
	apiKey      string
	tiers       map[string]string
	verifyGroup singleflight.Group
	rateLimiter *internal.RateLimiter
	logger      entitled.Logger
	metrics     billing.Metrics
	onEvent     billing.WebhookCallback
}

// NewProvider creates a RevenueCat billing provider.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Store == nil || cfg.Catalog == nil || cfg.Reconciler == nil || cfg.Writer == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if strings.HasPrefix(strings.ToLower(apiKey), "bearer ") {
		apiKey = strings.TrimSpace(apiKey[len("bearer "):])
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}

	tiers := make(map[string]string, len(cfg.EntitlementTiers))
	for id, tier := range cfg.EntitlementTiers {
		if !cfg.Catalog.Has(tier) {
			return nil, billing.ErrProviderNotConfigured
		}
		tiers[strings.ToLower(strings.TrimSpace(id))] = tier
	}

	logger := cfg.Logger
	if logger == nil {
		logger = &entitled.NoopLogger{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = billing.NoopMetrics{}
	}

	return &Provider{
		cfg:         cfg,
		store:       cfg.Store,
		catalog:     cfg.Catalog,
		reconciler:  cfg.Reconciler,
		writer:      cfg.Writer,
		httpClient:  httpClient,
		apiBaseURL:  baseURL,
		apiKey:      apiKey,
		tiers:       tiers,
		rateLimiter: internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		logger:      logger,
		metrics:     metrics,
		onEvent:     cfg.OnEvent,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// Handler returns the rate-limited HTTP handler for the native sync
// endpoint.
func (p *Provider) Handler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleSync))
}

// SyncUser restores a user's entitlement from RevenueCat without a client
// claim: verification is authoritative and there is no trust fallback.
// Returns the resulting tier.
func (p *Provider) SyncUser(ctx context.Context, userID string) (string, error) {
	start := time.Now()
	tier, err := p.restoreFromVerification(ctx, userID)
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordUserSync(providerName, status)
	p.metrics.RecordUserSyncDuration(providerName, time.Since(start))
	return tier, err
}
