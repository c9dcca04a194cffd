package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "mpesa"),
		attribute.String("payer_phone", "254712345678"),
		attribute.String("outcome", "completed"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "payer_phone" {
			t.Fatalf("expected payer_phone to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordReconcile(context.Background(), "paystack", "completed")
	m.RecordWebhook(context.Background(), "paystack", "charge.success", "processed")
	m.RecordReceiptIssued(context.Background(), "sequence")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "swimreg"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordReconcile(context.Background(), "mpesa", "flagged")
	m.RecordSwimmersLinked(context.Background(), 2)
}
