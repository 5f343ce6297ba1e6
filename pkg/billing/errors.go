package billing

import "errors"

var (
	// ErrProviderNotConfigured indicates missing required configuration.
	ErrProviderNotConfigured = errors.New("billing: provider not configured")

	// ErrMissingWebhookSignature indicates an inbound webhook carried no
	// signature header at all.
	ErrMissingWebhookSignature = errors.New("billing: missing webhook signature")

	// ErrInvalidWebhookSignature indicates webhook signature verification failed.
	ErrInvalidWebhookSignature = errors.New("billing: invalid webhook signature")

	// ErrInvalidWebhookPayload indicates the webhook payload could not be parsed.
	ErrInvalidWebhookPayload = errors.New("billing: invalid webhook payload")

	// ErrUserNotResolved indicates no application user could be matched to
	// the webhook's customer.
	ErrUserNotResolved = errors.New("billing: user not resolved")

	// ErrProviderAPIError indicates an error response from the provider's API.
	ErrProviderAPIError = errors.New("billing: provider api error")

	// ErrVerificationUnavailable indicates the entitlement verification
	// service could not be reached or returned a server error.
	ErrVerificationUnavailable = errors.New("billing: verification unavailable")

	// ErrNoActiveSubscription indicates the verification service answered
	// authoritatively that the user holds no active entitlement.
	ErrNoActiveSubscription = errors.New("billing: no active subscription")

	// ErrNotSupported indicates the provider does not implement the
	// requested operation.
	ErrNotSupported = errors.New("billing: operation not supported")
)
