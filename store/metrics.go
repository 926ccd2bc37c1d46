package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	failedKey = "failed"
	shardKey  = "shard"
)

var meter = otel.Meter("state_store")

type metrics struct {
	write     metric.Float64Histogram
	writeOps  metric.Int64Counter
	get       metric.Float64Histogram
	iterCount metric.Int64Counter
}

// WithMetrics instruments every shard of the DB. It must be called before
// the DB is handed to other components.
func (db *DB) WithMetrics() error {
	write, err := meter.Float64Histogram("state_store_write_time_histogram",
		metric.WithDescription("state store batch write time histogram(s)"))
	if err != nil {
		return err
	}

	writeOps, err := meter.Int64Counter("state_store_write_ops_counter",
		metric.WithDescription("state store amount of puts and deletes committed"))
	if err != nil {
		return err
	}

	get, err := meter.Float64Histogram("state_store_get_time_histogram",
		metric.WithDescription("state store get time histogram(s)"))
	if err != nil {
		return err
	}

	iterCount, err := meter.Int64Counter("state_store_iterators_counter",
		metric.WithDescription("state store amount of opened iterators"))
	if err != nil {
		return err
	}

	db.metrics = &metrics{
		write:     write,
		writeOps:  writeOps,
		get:       get,
		iterCount: iterCount,
	}

	db.metadata = &meteredShard{Shard: db.metadata, name: "metadata", metrics: db.metrics}
	for i, shard := range db.shards {
		db.shards[i] = &meteredShard{Shard: shard, name: strconv.Itoa(i), metrics: db.metrics}
	}
	return nil
}

func (m *metrics) observeWrite(ctx context.Context, shard string, dur time.Duration, ops int, failed bool) {
	if m == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}

	m.write.Record(ctx, dur.Seconds(), metric.WithAttributes(
		attribute.String(shardKey, shard),
		attribute.Bool(failedKey, failed)))
	if !failed {
		m.writeOps.Add(ctx, int64(ops), metric.WithAttributes(
			attribute.String(shardKey, shard)))
	}
}

func (m *metrics) observeGet(ctx context.Context, shard string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}

	m.get.Record(ctx, dur.Seconds(), metric.WithAttributes(
		attribute.String(shardKey, shard),
		attribute.Bool(failedKey, failed)))
}

func (m *metrics) observeIterate(ctx context.Context, shard string) {
	if m == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}

	m.iterCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String(shardKey, shard)))
}

// meteredShard records metrics for every operation of the wrapped Shard.
type meteredShard struct {
	Shard
	name    string
	metrics *metrics
}

func (s *meteredShard) Get(ctx context.Context, key []byte) ([]byte, error) {
	tNow := time.Now()
	val, err := s.Shard.Get(ctx, key)
	s.metrics.observeGet(ctx, s.name, time.Since(tNow), err != nil && !errors.Is(err, ErrNotFound))
	return val, err
}

func (s *meteredShard) Iterate(ctx context.Context, prefix, from []byte) (Iterator, error) {
	s.metrics.observeIterate(ctx, s.name)
	return s.Shard.Iterate(ctx, prefix, from)
}

func (s *meteredShard) Write(ctx context.Context, b *Batch) error {
	tNow := time.Now()
	err := s.Shard.Write(ctx, b)
	s.metrics.observeWrite(ctx, s.name, time.Since(tNow), b.Len(), err != nil)
	return err
}
