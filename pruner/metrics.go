package pruner

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("state_pruner")
)

const (
	nameKey   = "name"
	kindKey   = "kind"
	shardKey  = "shard"
	failedKey = "failed"
)

type metrics struct {
	deletedCounter metric.Int64Counter
	failedCounter  metric.Int64Counter
	pruneTime      metric.Float64Histogram

	versions      metric.Int64ObservableGauge
	shardVersions metric.Int64ObservableGauge

	clientReg metric.Registration
	name      string
}

func (p *Pruner) WithMetrics() error {
	deletedCounter, err := meter.Int64Counter("prnr_deleted_nodes_counter",
		metric.WithDescription("pruner deleted stale nodes counter"))
	if err != nil {
		return err
	}

	failedCounter, err := meter.Int64Counter("prnr_failed_cycles_counter",
		metric.WithDescription("pruner failed pruning cycles counter"))
	if err != nil {
		return err
	}

	pruneTime, err := meter.Float64Histogram("prnr_prune_time_histogram",
		metric.WithDescription("pruner pruning cycle time histogram(s)"))
	if err != nil {
		return err
	}

	versions, err := meter.Int64ObservableGauge("prnr_versions",
		metric.WithDescription("pruner progress and target versions"))
	if err != nil {
		return err
	}

	shardVersions, err := meter.Int64ObservableGauge("prnr_shard_progress",
		metric.WithDescription("pruner per shard progress version"))
	if err != nil {
		return err
	}

	name := p.params.name
	callback := func(_ context.Context, observer metric.Observer) error {
		observer.ObserveInt64(versions, int64(p.Progress()), metric.WithAttributes(
			attribute.String(nameKey, name),
			attribute.String(kindKey, "progress")))
		observer.ObserveInt64(versions, int64(p.TargetVersion()), metric.WithAttributes(
			attribute.String(nameKey, name),
			attribute.String(kindKey, "target")))
		for shard := 0; shard < p.NumShards(); shard++ {
			observer.ObserveInt64(shardVersions, int64(p.ShardProgress(shard)), metric.WithAttributes(
				attribute.String(nameKey, name),
				attribute.Int(shardKey, shard)))
		}
		return nil
	}

	clientReg, err := meter.RegisterCallback(callback, versions, shardVersions)
	if err != nil {
		return err
	}

	p.metrics = &metrics{
		deletedCounter: deletedCounter,
		failedCounter:  failedCounter,
		pruneTime:      pruneTime,
		versions:       versions,
		shardVersions:  shardVersions,
		clientReg:      clientReg,
		name:           name,
	}
	return nil
}

func (m *metrics) close() error {
	if m == nil {
		return nil
	}

	return m.clientReg.Unregister()
}

func (m *metrics) observeDeleted(ctx context.Context, deleted int) {
	if m == nil || deleted == 0 {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	m.deletedCounter.Add(ctx, int64(deleted), metric.WithAttributes(
		attribute.String(nameKey, m.name)))
}

func (m *metrics) observePrune(ctx context.Context, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	m.pruneTime.Record(ctx, dur.Seconds(), metric.WithAttributes(
		attribute.String(nameKey, m.name),
		attribute.Bool(failedKey, failed)))
	if failed {
		m.failedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String(nameKey, m.name)))
	}
}
