package metrics

import (
	"sort"

	"github.com/blackforestdev/njord-quant-sub000/internal/errs"
)

// CounterHandle is returned by RegisterCounter; Inc is the only mutator,
// enforcing the monotone-accumulator invariant.
type CounterHandle struct {
	family   *counterFamily
	registry *Registry
}

// Inc adds delta (must be >= 0) to the counter's value for labels.
func (h *CounterHandle) Inc(delta float64, labels map[string]string) error {
	if delta < 0 {
		return errs.New(errs.KindValidation, "CounterHandle.Inc", "negative-delta")
	}
	f := h.family
	if !labelsMatch(f.labelNames, labels) {
		return errs.New(errs.KindValidation, "CounterHandle.Inc", "label-mismatch")
	}

	tuple := Tuple(labels)
	f.mu.Lock()
	defer f.mu.Unlock()

	h.trackCardinality(f, tuple)
	f.values[tuple] += delta
	return nil
}

func (h *CounterHandle) trackCardinality(f *counterFamily, tuple LabelTuple) {
	evict, shouldEvict, shouldWarn := f.card.observe(tuple, func(t LabelTuple) bool {
		_, ok := f.values[t]
		return ok
	})
	if shouldWarn {
		h.registry.warnCardinality(f.name)
	}
	if shouldEvict {
		delete(f.values, evict)
	}
}

// Name returns the family's metric name.
func (h *CounterHandle) Name() string { return h.family.name }

// GaugeHandle is returned by RegisterGauge.
type GaugeHandle struct {
	family   *gaugeFamily
	registry *Registry
}

// Set assigns value for labels, replacing any prior value.
func (h *GaugeHandle) Set(value float64, labels map[string]string) error {
	f := h.family
	if !labelsMatch(f.labelNames, labels) {
		return errs.New(errs.KindValidation, "GaugeHandle.Set", "label-mismatch")
	}
	tuple := Tuple(labels)
	f.mu.Lock()
	defer f.mu.Unlock()
	h.trackCardinality(f, tuple)
	f.values[tuple] = value
	return nil
}

// Inc adds delta (any sign) to the gauge's current value.
func (h *GaugeHandle) Inc(delta float64, labels map[string]string) error {
	f := h.family
	if !labelsMatch(f.labelNames, labels) {
		return errs.New(errs.KindValidation, "GaugeHandle.Inc", "label-mismatch")
	}
	tuple := Tuple(labels)
	f.mu.Lock()
	defer f.mu.Unlock()
	h.trackCardinality(f, tuple)
	f.values[tuple] += delta
	return nil
}

// Dec subtracts delta from the gauge's current value.
func (h *GaugeHandle) Dec(delta float64, labels map[string]string) error {
	return h.Inc(-delta, labels)
}

func (h *GaugeHandle) trackCardinality(f *gaugeFamily, tuple LabelTuple) {
	evict, shouldEvict, shouldWarn := f.card.observe(tuple, func(t LabelTuple) bool {
		_, ok := f.values[t]
		return ok
	})
	if shouldWarn {
		h.registry.warnCardinality(f.name)
	}
	if shouldEvict {
		delete(f.values, evict)
	}
}

// Name returns the family's metric name.
func (h *GaugeHandle) Name() string { return h.family.name }

// HistogramHandle is returned by RegisterHistogram.
type HistogramHandle struct {
	family   *histogramFamily
	registry *Registry
}

// Observe records value into the bucket/sum/count accumulators for labels.
func (h *HistogramHandle) Observe(value float64, labels map[string]string) error {
	f := h.family
	if !labelsMatch(f.labelNames, labels) {
		return errs.New(errs.KindValidation, "HistogramHandle.Observe", "label-mismatch")
	}
	tuple := Tuple(labels)
	f.mu.Lock()
	defer f.mu.Unlock()

	evict, shouldEvict, shouldWarn := f.card.observe(tuple, func(t LabelTuple) bool {
		_, ok := f.counts[t]
		return ok
	})
	if shouldWarn {
		h.registry.warnCardinality(f.name)
	}
	if shouldEvict {
		delete(f.bucketCount, evict)
		delete(f.sums, evict)
		delete(f.counts, evict)
	}

	buckets, ok := f.bucketCount[tuple]
	if !ok {
		buckets = make([]uint64, len(f.bounds)+1)
		f.bucketCount[tuple] = buckets
	}
	idx := sort.SearchFloat64s(f.bounds, value)
	for i := idx; i < len(buckets); i++ {
		buckets[i]++
	}
	f.sums[tuple] += value
	f.counts[tuple]++
	return nil
}

// Name returns the family's metric name.
func (h *HistogramHandle) Name() string { return h.family.name }

// SummaryHandle is returned by RegisterSummary.
type SummaryHandle struct {
	family   *summaryFamily
	registry *Registry
}

// Observe records value for labels; quantiles are computed at collection
// time from the accumulated raw observations.
func (h *SummaryHandle) Observe(value float64, labels map[string]string) error {
	f := h.family
	if !labelsMatch(f.labelNames, labels) {
		return errs.New(errs.KindValidation, "SummaryHandle.Observe", "label-mismatch")
	}
	tuple := Tuple(labels)
	f.mu.Lock()
	defer f.mu.Unlock()

	evict, shouldEvict, shouldWarn := f.card.observe(tuple, func(t LabelTuple) bool {
		_, ok := f.counts[t]
		return ok
	})
	if shouldWarn {
		h.registry.warnCardinality(f.name)
	}
	if shouldEvict {
		delete(f.observations, evict)
		delete(f.sums, evict)
		delete(f.counts, evict)
	}

	f.observations[tuple] = append(f.observations[tuple], value)
	f.sums[tuple] += value
	f.counts[tuple]++
	return nil
}

// Name returns the family's metric name.
func (h *SummaryHandle) Name() string { return h.family.name }
