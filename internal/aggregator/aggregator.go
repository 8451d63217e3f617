// Package aggregator buckets published metric samples by time window and
// flushes closed buckets into the MetricRegistry and an append-only
// journal.
package aggregator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/blackforestdev/njord-quant-sub000/internal/metrics"
	"github.com/blackforestdev/njord-quant-sub000/pkg/observability"
)

// SamplesTopic is the bus topic the aggregator subscribes to.
const SamplesTopic = "telemetry.metrics"

// Config controls bucket sizing and flush/eviction cadence.
type Config struct {
	IntervalSeconds      int
	FlushIntervalSeconds int
	GracePeriodSeconds   int
	RetentionHours       int
}

// Aggregator subscribes to SamplesTopic, buckets samples by time window,
// and periodically flushes closed buckets into Registry and Journal.
type Aggregator struct {
	bus      bus.Bus
	registry *metrics.Registry
	journal  *JournalWriter
	cfg      Config
	logger   *observability.Logger

	mu      sync.Mutex
	buckets map[int64]*bucket

	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
	sub       *bus.Subscription
}

// New builds an Aggregator. journal may be nil to disable NDJSON output
// (e.g. in tests exercising only bucketing/flush semantics).
func New(b bus.Bus, registry *metrics.Registry, journal *JournalWriter, cfg Config, logger *observability.Logger) *Aggregator {
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 60
	}
	if cfg.FlushIntervalSeconds <= 0 {
		cfg.FlushIntervalSeconds = 30
	}
	return &Aggregator{
		bus:      b,
		registry: registry,
		journal:  journal,
		cfg:      cfg,
		logger:   logger,
		buckets:  make(map[int64]*bucket),
	}
}

// Start subscribes to the bus and launches the consume and flush loops.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.isRunning {
		a.mu.Unlock()
		return nil
	}
	a.isRunning = true
	a.stopChan = make(chan struct{})
	a.mu.Unlock()

	sub, err := a.bus.Subscribe(ctx, SamplesTopic)
	if err != nil {
		a.mu.Lock()
		a.isRunning = false
		a.mu.Unlock()
		return err
	}
	a.sub = sub

	a.wg.Add(2)
	go a.consumeLoop(ctx, sub)
	go a.flushLoop(ctx)
	return nil
}

// Stop cancels both background loops and awaits their completion.
func (a *Aggregator) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.isRunning {
		a.mu.Unlock()
		return nil
	}
	a.isRunning = false
	close(a.stopChan)
	sub := a.sub
	a.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (a *Aggregator) consumeLoop(ctx context.Context, sub *bus.Subscription) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			var sample metrics.Sample
			if err := json.Unmarshal(msg.Payload, &sample); err != nil {
				a.logger.Warn(ctx, "aggregator: malformed sample payload", map[string]interface{}{"error": err.Error()})
				continue
			}
			if err := sample.Validate(); err != nil {
				a.logger.Warn(ctx, "aggregator: invalid sample", map[string]interface{}{"error": err.Error(), "name": sample.Name})
				continue
			}
			a.addSample(sample)
		}
	}
}

// addSample places s into its bucket (creating it on demand) and performs
// an unconditional staleness eviction pass on every call, independent of
// the flush ticker.
func (a *Aggregator) addSample(s metrics.Sample) {
	start := bucketStart(s.TimestampNs, a.cfg.IntervalSeconds)

	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buckets[start]
	if !ok {
		// Late sample whose bucket was already flushed and removed: such
		// samples are dropped, not recreated.
		if a.bucketAlreadyPast(start) {
			return
		}
		b = newBucket(start, a.cfg.IntervalSeconds)
		a.buckets[start] = b
	}
	b.add(s)

	a.evictStaleLocked(s.TimestampNs)
}

// bucketAlreadyPast reports whether a bucket starting at start would
// already have been flushed by now (its end is before the current grace
// cutoff), using the wall clock as "now", the same clock the flush loop
// uses.
func (a *Aggregator) bucketAlreadyPast(start int64) bool {
	intervalNs := int64(a.cfg.IntervalSeconds) * 1_000_000_000
	graceNs := int64(a.cfg.GracePeriodSeconds) * 1_000_000_000
	return nowNs()-graceNs > start+intervalNs
}

// evictStaleLocked destroys buckets older than now - retention - grace,
// unconditionally, even if unflushed. Must be called with a.mu held.
func (a *Aggregator) evictStaleLocked(asOfNs int64) {
	retentionNs := int64(a.cfg.RetentionHours) * 3600 * 1_000_000_000
	graceNs := int64(a.cfg.GracePeriodSeconds) * 1_000_000_000
	cutoff := asOfNs - retentionNs - graceNs

	for start, b := range a.buckets {
		if b.endTsNs() < cutoff {
			delete(a.buckets, start)
		}
	}
}

func (a *Aggregator) flushLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(time.Duration(a.cfg.FlushIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case <-ticker.C:
			a.Flush(ctx, nowNs())
		}
	}
}

// Flush drains every bucket whose end is before now - grace into the
// registry and journal, then removes it.
func (a *Aggregator) Flush(ctx context.Context, nowNsVal int64) {
	graceNs := int64(a.cfg.GracePeriodSeconds) * 1_000_000_000
	cutoff := nowNsVal - graceNs

	a.mu.Lock()
	var ready []int64
	for start, b := range a.buckets {
		if b.endTsNs() < cutoff {
			ready = append(ready, start)
		}
	}
	buckets := make([]*bucket, 0, len(ready))
	for _, start := range ready {
		buckets = append(buckets, a.buckets[start])
		delete(a.buckets, start)
	}
	a.mu.Unlock()

	for _, b := range buckets {
		a.flushBucket(ctx, b)
	}
}

func (a *Aggregator) flushBucket(ctx context.Context, b *bucket) {
	for key, val := range b.counters {
		labels := b.labelsByKey[key]
		h, err := a.registry.RegisterCounter(key.name, "", metrics.SortedLabelNames(labels))
		if err != nil {
			a.logger.Warn(ctx, "aggregator: cannot register counter", map[string]interface{}{"name": key.name, "error": err.Error()})
			continue
		}
		if err := h.Inc(val, labels); err != nil {
			a.logger.Warn(ctx, "aggregator: counter flush rejected", map[string]interface{}{"name": key.name, "error": err.Error()})
			continue
		}
		a.writeRecord(b, key.name, "counter", labels, &val, nil)
	}

	for key, acc := range b.gauges {
		labels := b.labelsByKey[key]
		avg := 0.0
		if acc.count > 0 {
			avg = acc.sum / float64(acc.count)
		}
		h, err := a.registry.RegisterGauge(key.name, "", metrics.SortedLabelNames(labels))
		if err != nil {
			a.logger.Warn(ctx, "aggregator: cannot register gauge", map[string]interface{}{"name": key.name, "error": err.Error()})
			continue
		}
		if err := h.Set(avg, labels); err != nil {
			a.logger.Warn(ctx, "aggregator: gauge flush rejected", map[string]interface{}{"name": key.name, "error": err.Error()})
			continue
		}
		a.writeRecord(b, key.name, "gauge", labels, &avg, nil)
	}

	for key, obs := range b.histograms {
		labels := b.labelsByKey[key]
		h, ok := a.registry.LookupHistogram(key.name)
		if !ok {
			a.logger.Warn(ctx, "aggregator: histogram not pre-registered, dropping", map[string]interface{}{"name": key.name})
			continue
		}
		for _, v := range obs {
			if err := h.Observe(v, labels); err != nil {
				a.logger.Warn(ctx, "aggregator: histogram flush rejected", map[string]interface{}{"name": key.name, "error": err.Error()})
			}
		}
		a.writeRecord(b, key.name, "histogram", labels, nil, obs)
	}
}

func (a *Aggregator) writeRecord(b *bucket, name, kind string, labels map[string]string, value *float64, observations []float64) {
	if a.journal == nil {
		return
	}
	rec := Record{
		TimestampNs:     b.startTsNs,
		MetricName:      name,
		MetricType:      kind,
		Labels:          labels,
		Value:           value,
		Observations:    observations,
		IntervalSeconds: b.intervalSeconds,
	}
	if err := a.journal.Append(rec, "1m"); err != nil {
		a.logger.Warn(context.Background(), "aggregator: journal append failed", map[string]interface{}{"error": err.Error()})
	}
}

// nowNs is overridable in tests that need deterministic timestamps.
var nowNs = func() int64 { return time.Now().UnixNano() }
