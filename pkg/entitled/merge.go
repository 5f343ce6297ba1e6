package entitled

// ProviderPrecedence orders providers for cross-provider conflict
// resolution, highest first.
type ProviderPrecedence []Provider

// DefaultProviderPrecedence is the order passed by the built-in call sites.
var DefaultProviderPrecedence = ProviderPrecedence{ProviderWeb, ProviderApple, ProviderGoogle}

// MergeSubscriptionState decides which canonical subscription record to
// persist when an incoming write meets an existing record, possibly from a
// different provider.
//
// The current policy is last-writer-wins: the incoming record replaces the
// existing one regardless of provider. Whether a downgrade from one
// provider should ever override an active entitlement from another is an
// unresolved question; the precedence parameter exists so the policy can
// change here without touching call sites, and is deliberately unused
// until that question is settled.
func MergeSubscriptionState(existing, incoming *SubscriptionRecord, precedence ProviderPrecedence) *SubscriptionRecord {
	_ = precedence
	if incoming == nil {
		return existing
	}
	return incoming
}
