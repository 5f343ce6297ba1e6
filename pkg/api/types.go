package api

import "time"

// EntitlementsResponse is the client-facing view of a user's subscription
// standing. Mobile and web clients render paywalls and feature gates from
// this shape.
type EntitlementsResponse struct {
	UserID  string       `json:"user_id"`
	Tier    string       `json:"tier"`
	Status  string       `json:"status"`
	Credits CreditsUsage `json:"credits"`
	Limits  TierLimits   `json:"limits"`

	// Subscription is nil for users who never subscribed.
	Subscription *SubscriptionInfo `json:"subscription,omitempty"`
}

// CreditsUsage reports the monthly consumable allowance.
type CreditsUsage struct {
	Total     int        `json:"total"`
	Used      int        `json:"used"`
	Remaining int        `json:"remaining"`
	ResetDate *time.Time `json:"reset_date,omitempty"`
}

// TierLimits mirrors the catalog entitlements for the user's tier.
type TierLimits struct {
	MaxLists        int  `json:"max_lists"`
	MaxItemsPerList int  `json:"max_items_per_list"`
	MaxRecipes      int  `json:"max_recipes"`
	AdFree          bool `json:"ad_free"`
}

// SubscriptionInfo summarizes the canonical subscription record.
type SubscriptionInfo struct {
	Provider         string     `json:"provider"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
}
