package bridge

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/zeusync/ecsbridge/internal/core/crdt"
)

const meterName = "ecsbridge.bridge"

const (
	metricProcessed        = "bridge_messages_processed_total"
	metricOutdated         = "bridge_messages_outdated_total"
	metricTieBreaks        = "bridge_tie_breaks_total"
	metricBatchesApplied   = "bridge_batches_applied_total"
	metricRentalContention = "bridge_rental_contention_total"
	metricOutgoing         = "bridge_outgoing_messages_total"
)

// Metrics counts what the scenes of a runtime did. Safe for concurrent use.
//
// The counters live on an OpenTelemetry meter provider. Snapshot reads them
// back through a manual reader; extra readers (a Prometheus exporter, say)
// see the same instruments.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader

	processed        metric.Int64Counter
	outdated         metric.Int64Counter
	tieBreaks        metric.Int64Counter
	batchesApplied   metric.Int64Counter
	rentalContention metric.Int64Counter
	outgoing         metric.Int64Counter
}

type MetricsSnapshot struct {
	Processed        uint64 `json:"processed"`
	Outdated         uint64 `json:"outdated"`
	TieBreaks        uint64 `json:"tie_breaks"`
	BatchesApplied   uint64 `json:"batches_applied"`
	RentalContention uint64 `json:"rental_contention"`
	Outgoing         uint64 `json:"outgoing"`
}

type MetricsOption func(*metricsOptions)

type metricsOptions struct {
	readers []sdkmetric.Reader
}

// WithMetricReader attaches another reader to the meter provider.
func WithMetricReader(reader sdkmetric.Reader) MetricsOption {
	return func(o *metricsOptions) {
		if reader != nil {
			o.readers = append(o.readers, reader)
		}
	}
}

// NewMetrics panics when the instruments cannot be created.
func NewMetrics(opts ...MetricsOption) *Metrics {
	m, err := NewMetricsWithOptions(opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func NewMetricsWithOptions(opts ...MetricsOption) (*Metrics, error) {
	var o metricsOptions
	for _, opt := range opts {
		opt(&o)
	}

	reader := sdkmetric.NewManualReader()
	providerOpts := []sdkmetric.Option{sdkmetric.WithReader(reader)}
	for _, r := range o.readers {
		providerOpts = append(providerOpts, sdkmetric.WithReader(r))
	}

	m := &Metrics{
		provider: sdkmetric.NewMeterProvider(providerOpts...),
		reader:   reader,
	}
	meter := m.provider.Meter(meterName)

	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
	}{
		{&m.processed, metricProcessed, "Messages reconciled against scene state"},
		{&m.outdated, metricOutdated, "Messages that lost to the stored state"},
		{&m.tieBreaks, metricTieBreaks, "Equal-timestamp writes resolved by payload comparison"},
		{&m.batchesApplied, metricBatchesApplied, "Batches applied to the host world"},
		{&m.rentalContention, metricRentalContention, "Batches refused because another one was in flight"},
		{&m.outgoing, metricOutgoing, "Messages returned to the scene runtime"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.description))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
		*c.target = counter
	}
	return m, nil
}

func (m *Metrics) observe(result crdt.ReconciliationResult) {
	ctx := context.Background()
	m.processed.Add(ctx, 1)
	switch result.State {
	case crdt.StateOutdatedTimestamp, crdt.StateEntityWasDeleted:
		m.outdated.Add(ctx, 1)
	case crdt.StateOutdatedData:
		m.outdated.Add(ctx, 1)
		m.tieBreaks.Add(ctx, 1)
	case crdt.StateUpdatedData:
		m.tieBreaks.Add(ctx, 1)
	}
}

func (m *Metrics) batchApplied() {
	m.batchesApplied.Add(context.Background(), 1)
}

func (m *Metrics) contended() {
	m.rentalContention.Add(context.Background(), 1)
}

func (m *Metrics) sent(n int) {
	if n > 0 {
		m.outgoing.Add(context.Background(), int64(n))
	}
}

// Snapshot collects the cumulative counter values. After Shutdown it reports zeros.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(context.Background(), &rm); err != nil {
		return MetricsSnapshot{}
	}

	totals := make(map[string]uint64)
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[md.Name] += uint64(dp.Value)
			}
		}
	}

	return MetricsSnapshot{
		Processed:        totals[metricProcessed],
		Outdated:         totals[metricOutdated],
		TieBreaks:        totals[metricTieBreaks],
		BatchesApplied:   totals[metricBatchesApplied],
		RentalContention: totals[metricRentalContention],
		Outgoing:         totals[metricOutgoing],
	}
}

// Shutdown flushes and stops every reader attached to the provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
