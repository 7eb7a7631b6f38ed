package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncTelemetry records sync pass outcomes
type SyncTelemetry struct {
	passes       metric.Int64Counter
	confirmed    metric.Int64Counter
	retried      metric.Int64Counter
	rejected     metric.Int64Counter
	passDuration metric.Float64Histogram
	registration metric.Registration
}

// PendingCounter reports the current queue length for the pending gauge
type PendingCounter func(ctx context.Context) (int, error)

// NewSyncTelemetry creates the sync instruments on meter. pending may be nil.
func NewSyncTelemetry(meter metric.Meter, pending PendingCounter) (*SyncTelemetry, error) {
	t := &SyncTelemetry{}
	var err error

	if t.passes, err = meter.Int64Counter("sync_passes_total",
		metric.WithDescription("Sync passes started or skipped, by result"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create passes counter: %w", err)
	}

	if t.confirmed, err = meter.Int64Counter("sync_mutations_confirmed_total",
		metric.WithDescription("Mutations acknowledged by the remote backend"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create confirmed counter: %w", err)
	}

	if t.retried, err = meter.Int64Counter("sync_mutations_retried_total",
		metric.WithDescription("Mutations kept for retry after a transient failure"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create retried counter: %w", err)
	}

	if t.rejected, err = meter.Int64Counter("sync_mutations_rejected_total",
		metric.WithDescription("Mutations refused by the remote backend"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rejected counter: %w", err)
	}

	if t.passDuration, err = meter.Float64Histogram("sync_pass_duration_seconds",
		metric.WithDescription("Duration of sync passes"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create pass duration histogram: %w", err)
	}

	if pending != nil {
		gauge, err := meter.Int64ObservableGauge("sync_pending_mutations",
			metric.WithDescription("Mutations waiting for remote acknowledgement"),
			metric.WithUnit("1"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create pending gauge: %w", err)
		}
		t.registration, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			count, err := pending(ctx)
			if err != nil {
				return err
			}
			o.ObserveInt64(gauge, int64(count))
			return nil
		}, gauge)
		if err != nil {
			return nil, fmt.Errorf("failed to register pending gauge callback: %w", err)
		}
	}

	return t, nil
}

// RecordPass records the counters of one finished or skipped pass
func (t *SyncTelemetry) RecordPass(ctx context.Context, result string, duration time.Duration, confirmed, retried, rejected int) {
	if t == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	t.passes.Add(ctx, 1, attrs)
	if result == "skipped" {
		return
	}
	t.passDuration.Record(ctx, duration.Seconds(), attrs)
	t.confirmed.Add(ctx, int64(confirmed))
	t.retried.Add(ctx, int64(retried))
	t.rejected.Add(ctx, int64(rejected))
}

// Close unregisters the pending gauge callback
func (t *SyncTelemetry) Close() error {
	if t == nil || t.registration == nil {
		return nil
	}
	return t.registration.Unregister()
}
