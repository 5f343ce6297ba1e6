package billing

import "time"

// Metrics defines the instrumentation hooks providers emit. A no-op
// implementation is used when none is configured; see
// pkg/billing/metrics/prometheus for a Prometheus-backed one.
type Metrics interface {
	// RecordWebhookEvent records a processed webhook event and its outcome
	// (e.g. "processed", "ignored", "duplicate", "error").
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records end-to-end webhook handling time.
	RecordWebhookProcessingDuration(provider, eventType string, d time.Duration)

	// RecordWebhookError records a webhook failure by kind
	// (e.g. "signature", "payload", "unmapped_price", "persistence").
	RecordWebhookError(provider, kind string)

	// RecordUserSync records a native sync attempt and its outcome.
	RecordUserSync(provider, status string)

	// RecordUserSyncDuration records native sync handling time.
	RecordUserSyncDuration(provider string, d time.Duration)

	// RecordTierChange records a tier transition applied by reconciliation.
	RecordTierChange(provider, fromTier, toTier string)

	// RecordAPICall records an outbound call to a provider API.
	RecordAPICall(provider, operation, status string)

	// RecordAPICallDuration records outbound call latency.
	RecordAPICallDuration(provider, operation string, d time.Duration)
}

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

func (NoopMetrics) RecordWebhookEvent(string, string, string)                 {}
func (NoopMetrics) RecordWebhookProcessingDuration(string, string, time.Duration) {}
func (NoopMetrics) RecordWebhookError(string, string)                         {}
func (NoopMetrics) RecordUserSync(string, string)                             {}
func (NoopMetrics) RecordUserSyncDuration(string, time.Duration)              {}
func (NoopMetrics) RecordTierChange(string, string, string)                   {}
func (NoopMetrics) RecordAPICall(string, string, string)                      {}
func (NoopMetrics) RecordAPICallDuration(string, string, time.Duration)       {}
