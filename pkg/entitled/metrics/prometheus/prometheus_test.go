package prommetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPrometheusMetrics_NewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestPrometheusMetrics_RecordReconcile(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordReconcile("checkout_completed", "success")
	metrics.RecordReconcile("checkout_completed", "success")
	metrics.RecordReconcile("invoice_failed", "error")

	value := counterValue(t, reg, "test_reconcile_total", map[string]string{
		"event_type": "checkout_completed",
		"status":     "success",
	})
	if value != 2 {
		t.Errorf("Expected counter value 2, got %v", value)
	}
}

func TestPrometheusMetrics_RecordPartialWrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordPartialWrite()

	value := counterValue(t, reg, "test_partial_writes_total", nil)
	if value != 1 {
		t.Errorf("Expected counter value 1, got %v", value)
	}
}

func TestPrometheusMetrics_RecordStoreWriteAndCreditReset(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStoreWrite("profile", "success")
	metrics.RecordCreditReset("pro")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 3 {
		t.Errorf("Expected 3 metric families, got %d", len(families))
	}
}

// counterValue finds a counter sample by name and label set.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("Metric %s with labels %v not found", name, labels)
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}
