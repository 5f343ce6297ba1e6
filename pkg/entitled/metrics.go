package entitled

// Metrics defines the interface for tracking core reconciliation
// operations. Components accept nil metrics and fall back to NoopMetrics.
type Metrics interface {
	// RecordReconcile records a reconciliation by event type.
	// status: "success" or "error"
	RecordReconcile(eventType, status string)

	// RecordStoreWrite records a persistence write.
	// kind: "profile" or "subscription"
	// status: "success" or "error"
	RecordStoreWrite(kind, status string)

	// RecordPartialWrite records a half-applied update: the profile was
	// written but the subscription record write failed.
	RecordPartialWrite()

	// RecordCreditReset records a monthly credit counter reset.
	RecordCreditReset(tier string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordReconcile(_, _ string)  {}
func (n *NoopMetrics) RecordStoreWrite(_, _ string) {}
func (n *NoopMetrics) RecordPartialWrite()          {}
func (n *NoopMetrics) RecordCreditReset(_ string)   {}
