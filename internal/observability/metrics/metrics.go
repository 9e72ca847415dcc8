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

// Metrics exposes application-level instruments for the governance core.
type Metrics struct {
	budgetChecks       metric.Int64Counter
	budgetDenials      metric.Int64Counter
	usageRecords       metric.Int64Counter
	usageRecordErrors  metric.Int64Counter
	retrievalQueries   metric.Int64Counter
	retrievalFallbacks metric.Int64Counter
	retrievalChunks    metric.Int64Histogram
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

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
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

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "quaderno"
	}
	meter := provider.Meter(name)

	budgetChecks, err := meter.Int64Counter("ai_budget_checks_total",
		metric.WithDescription("Budget availability checks"))
	if err != nil {
		return nil, err
	}
	budgetDenials, err := meter.Int64Counter("ai_budget_denials_total",
		metric.WithDescription("Budget checks denied (exhausted or inactive)"))
	if err != nil {
		return nil, err
	}
	usageRecords, err := meter.Int64Counter("ai_usage_records_total",
		metric.WithDescription("Usage reports folded into the ledger"))
	if err != nil {
		return nil, err
	}
	usageRecordErrors, err := meter.Int64Counter("ai_usage_record_errors_total",
		metric.WithDescription("Usage reports that could not be recorded"))
	if err != nil {
		return nil, err
	}
	retrievalQueries, err := meter.Int64Counter("retrieval_queries_total",
		metric.WithDescription("Semantic search queries issued by the allocator"))
	if err != nil {
		return nil, err
	}
	retrievalFallbacks, err := meter.Int64Counter("retrieval_fallbacks_total",
		metric.WithDescription("Filtered queries retried without the source filter"))
	if err != nil {
		return nil, err
	}
	retrievalChunks, err := meter.Int64Histogram("retrieval_chunks",
		metric.WithDescription("Chunks returned per retrieval request"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		budgetChecks:       budgetChecks,
		budgetDenials:      budgetDenials,
		usageRecords:       usageRecords,
		usageRecordErrors:  usageRecordErrors,
		retrievalQueries:   retrievalQueries,
		retrievalFallbacks: retrievalFallbacks,
		retrievalChunks:    retrievalChunks,
	}, nil
}

// IncBudgetCheck counts an availability check and its outcome.
func (m *Metrics) IncBudgetCheck(ctx context.Context, allowed bool) {
	if m == nil {
		return
	}
	m.budgetChecks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("allowed", allowed)))
	if !allowed {
		m.budgetDenials.Add(ctx, 1)
	}
}

// IncUsageRecord counts a recorded usage report by feature channel.
func (m *Metrics) IncUsageRecord(ctx context.Context, feature string) {
	if m == nil {
		return
	}
	m.usageRecords.Add(ctx, 1, metric.WithAttributes(attribute.String("feature", feature)))
}

// IncUsageRecordError counts a usage report lost to a storage failure.
func (m *Metrics) IncUsageRecordError(ctx context.Context) {
	if m == nil {
		return
	}
	m.usageRecordErrors.Add(ctx, 1)
}

// IncRetrievalQuery counts an outbound semantic search call.
func (m *Metrics) IncRetrievalQuery(ctx context.Context) {
	if m == nil {
		return
	}
	m.retrievalQueries.Add(ctx, 1)
}

// IncRetrievalFallback counts an unfiltered retry after filter failure.
func (m *Metrics) IncRetrievalFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.retrievalFallbacks.Add(ctx, 1)
}

// ObserveRetrievalChunks records the final chunk count of a request.
func (m *Metrics) ObserveRetrievalChunks(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.retrievalChunks.Record(ctx, int64(count))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
