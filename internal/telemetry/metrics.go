package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instrument set shared across the ingestion coordinator,
// the reachability scheduler, and the query engine.
type Metrics struct {
	IngestRunDuration       metric.Float64Histogram
	IngestServersUpserted   metric.Int64Counter
	ReachabilityProbeLatency metric.Float64Histogram
	ReachabilityChecked     metric.Int64Counter
	QueryScored             metric.Int64Counter
}

// NewMetrics registers the instrument set against the given meter name.
func NewMetrics(meterName string) (*Metrics, error) {
	m := Meter(meterName)

	ingestRunDuration, err := m.Float64Histogram(
		"ragmap.ingest.run.duration",
		metric.WithDescription("Duration of a single ingestion run, in seconds."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	ingestServersUpserted, err := m.Int64Counter(
		"ragmap.ingest.servers.upserted",
		metric.WithDescription("Number of server versions upserted by ingestion runs."),
	)
	if err != nil {
		return nil, err
	}

	reachabilityProbeLatency, err := m.Float64Histogram(
		"ragmap.reachability.probe.latency",
		metric.WithDescription("Latency of a single reachability probe, in seconds."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	reachabilityChecked, err := m.Int64Counter(
		"ragmap.reachability.checked",
		metric.WithDescription("Number of servers probed by reachability scheduler runs."),
	)
	if err != nil {
		return nil, err
	}

	queryScored, err := m.Int64Counter(
		"ragmap.query.scored",
		metric.WithDescription("Number of search/top requests scored by the query engine, by kind."),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		IngestRunDuration:        ingestRunDuration,
		IngestServersUpserted:    ingestServersUpserted,
		ReachabilityProbeLatency: reachabilityProbeLatency,
		ReachabilityChecked:      reachabilityChecked,
		QueryScored:              queryScored,
	}, nil
}

// RecordIngestRun records the outcome of one ingestion run.
func (m *Metrics) RecordIngestRun(ctx context.Context, durationSeconds float64, upserted int64) {
	if m == nil {
		return
	}
	m.IngestRunDuration.Record(ctx, durationSeconds)
	m.IngestServersUpserted.Add(ctx, upserted)
}

// RecordProbe records the latency of one reachability probe.
func (m *Metrics) RecordProbe(ctx context.Context, latencySeconds float64) {
	if m == nil {
		return
	}
	m.ReachabilityProbeLatency.Record(ctx, latencySeconds)
	m.ReachabilityChecked.Add(ctx, 1)
}

// RecordQuery records one scored query-engine request, tagged by kind
// ("keyword", "hybrid", "top").
func (m *Metrics) RecordQuery(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.QueryScored.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
