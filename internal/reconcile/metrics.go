package reconcile

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "embedsync.reconcile"

// Metrics records reconciliation measurements via OpenTelemetry.
type Metrics struct {
	syncDuration   metric.Float64Histogram
	recordsTotal   metric.Int64Counter
	orphansReaped  metric.Int64Counter
	verifyAttempts metric.Int64Histogram
	syncErrors     metric.Int64Counter
}

// NewMetrics creates reconciliation metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	syncDuration, err := meter.Float64Histogram(
		"embedsync.sync.duration",
		metric.WithDescription("Duration of a full organization sync"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	recordsTotal, err := meter.Int64Counter(
		"embedsync.sync.records",
		metric.WithDescription("Source records processed, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	orphansReaped, err := meter.Int64Counter(
		"embedsync.sync.orphans_reaped",
		metric.WithDescription("Orphaned embeddings removed"),
	)
	if err != nil {
		return nil, err
	}

	verifyAttempts, err := meter.Int64Histogram(
		"embedsync.sync.verify_attempts",
		metric.WithDescription("Attempts needed for post-sync self-retrieval"),
	)
	if err != nil {
		return nil, err
	}

	syncErrors, err := meter.Int64Counter(
		"embedsync.sync.errors",
		metric.WithDescription("Organization syncs that aborted with an error"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		syncDuration:   syncDuration,
		recordsTotal:   recordsTotal,
		orphansReaped:  orphansReaped,
		verifyAttempts: verifyAttempts,
		syncErrors:     syncErrors,
	}, nil
}

// RecordSync records the measurements for one completed or aborted sync.
func (m *Metrics) RecordSync(ctx context.Context, orgID string, report *Report, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("organization_id", orgID))

	if err != nil {
		m.syncErrors.Add(ctx, 1, attrs)
		return
	}

	m.syncDuration.Record(ctx, report.Duration.Seconds(), attrs)
	m.recordsTotal.Add(ctx, int64(report.Totals.Created), attrs,
		metric.WithAttributes(attribute.String("outcome", "created")))
	m.recordsTotal.Add(ctx, int64(report.Totals.Updated), attrs,
		metric.WithAttributes(attribute.String("outcome", "updated")))
	m.recordsTotal.Add(ctx, int64(report.Totals.Skipped), attrs,
		metric.WithAttributes(attribute.String("outcome", "skipped")))
	m.recordsTotal.Add(ctx, int64(report.Totals.Failed), attrs,
		metric.WithAttributes(attribute.String("outcome", "failed")))
	if report.OrphansRemoved > 0 {
		m.orphansReaped.Add(ctx, int64(report.OrphansRemoved), attrs)
	}
	if report.Verification != nil {
		m.verifyAttempts.Record(ctx, int64(report.Verification.Attempts), attrs)
	}
}
