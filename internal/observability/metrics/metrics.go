package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes reconciliation and payment instruments.
type Metrics struct {
	reconcileOutcomes metric.Int64Counter
	webhookDeliveries metric.Int64Counter
	paymentsInitiated metric.Int64Counter
	receiptsIssued    metric.Int64Counter
	swimmersLinked    metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New builds the instruments on the given provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "swimreg"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.reconcileOutcomes, err = meter.Int64Counter("swimreg_reconcile_outcomes_total"); err != nil {
		return nil, err
	}
	if m.webhookDeliveries, err = meter.Int64Counter("swimreg_webhook_deliveries_total"); err != nil {
		return nil, err
	}
	if m.paymentsInitiated, err = meter.Int64Counter("swimreg_payments_initiated_total"); err != nil {
		return nil, err
	}
	if m.receiptsIssued, err = meter.Int64Counter("swimreg_receipts_issued_total"); err != nil {
		return nil, err
	}
	if m.swimmersLinked, err = meter.Int64Counter("swimreg_swimmers_linked_total"); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("swimreg_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordReconcile counts a reconciliation attempt by provider and outcome
// (completed, failed, already_reconciled, amount_mismatch, unknown_reference).
func (m *Metrics) RecordReconcile(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.reconcileOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordWebhook(ctx context.Context, provider, eventType, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(result)),
	)
	m.webhookDeliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordPaymentInitiated(ctx context.Context, provider, purpose string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("purpose", strings.TrimSpace(purpose)),
	)
	m.paymentsInitiated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordReceiptIssued(ctx context.Context, numbering string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("numbering", strings.TrimSpace(numbering)))
	m.receiptsIssued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordSwimmersLinked(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.swimmersLinked.Add(ctx, int64(count))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":    {},
	"event_type":  {},
	"outcome":     {},
	"purpose":     {},
	"numbering":   {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips labels outside the allowlist. References, emails
// and phone numbers never become metric labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
