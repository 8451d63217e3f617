package aggregator

import (
	"github.com/blackforestdev/njord-quant-sub000/internal/metrics"
)

type seriesKey struct {
	name  string
	tuple metrics.LabelTuple
}

type gaugeAccum struct {
	sum   float64
	count int64
}

// bucket accumulates samples whose timestamp falls in
// [startTsNs, startTsNs+intervalSeconds*1e9).
type bucket struct {
	startTsNs       int64
	intervalSeconds int

	counters   map[seriesKey]float64
	gauges     map[seriesKey]*gaugeAccum
	histograms map[seriesKey][]float64

	labelsByKey map[seriesKey]map[string]string
}

func newBucket(startTsNs int64, intervalSeconds int) *bucket {
	return &bucket{
		startTsNs:       startTsNs,
		intervalSeconds: intervalSeconds,
		counters:        make(map[seriesKey]float64),
		gauges:          make(map[seriesKey]*gaugeAccum),
		histograms:      make(map[seriesKey][]float64),
		labelsByKey:     make(map[seriesKey]map[string]string),
	}
}

func (b *bucket) endTsNs() int64 {
	return b.startTsNs + int64(b.intervalSeconds)*1_000_000_000
}

func (b *bucket) contains(ts int64) bool {
	return b.startTsNs <= ts && ts < b.endTsNs()
}

func (b *bucket) add(s metrics.Sample) {
	key := seriesKey{name: s.Name, tuple: metrics.Tuple(s.Labels)}
	if _, ok := b.labelsByKey[key]; !ok {
		b.labelsByKey[key] = s.Labels
	}

	switch s.Kind {
	case metrics.KindCounter:
		b.counters[key] += s.Value
	case metrics.KindGauge:
		acc, ok := b.gauges[key]
		if !ok {
			acc = &gaugeAccum{}
			b.gauges[key] = acc
		}
		acc.sum += s.Value
		acc.count++
	case metrics.KindHistogram, metrics.KindSummary:
		b.histograms[key] = append(b.histograms[key], s.Value)
	}
}

// bucketStart floors tsNs to the nearest multiple of intervalSeconds, in
// nanoseconds: floor(timestamp_ns / interval_ns) * interval_ns.
func bucketStart(tsNs int64, intervalSeconds int) int64 {
	intervalNs := int64(intervalSeconds) * 1_000_000_000
	if intervalNs <= 0 {
		return tsNs
	}
	return (tsNs / intervalNs) * intervalNs
}

// DownsampleToInterval is a pure function that re-buckets samples into
// coarser intervalSeconds windows: counters sum, gauges average, histogram
// observations are preserved one-to-one. Used by the retention engine to
// roll aggregated journal records from one resolution tier to the next.
func DownsampleToInterval(samples []metrics.Sample, intervalSeconds int) []metrics.Sample {
	buckets := make(map[int64]*bucket)
	var order []int64

	for _, s := range samples {
		start := bucketStart(s.TimestampNs, intervalSeconds)
		b, ok := buckets[start]
		if !ok {
			b = newBucket(start, intervalSeconds)
			buckets[start] = b
			order = append(order, start)
		}
		b.add(s)
	}

	var out []metrics.Sample
	for _, start := range order {
		b := buckets[start]
		for key, val := range b.counters {
			out = append(out, metrics.Sample{
				Name: key.name, Value: val, TimestampNs: start,
				Labels: b.labelsByKey[key], Kind: metrics.KindCounter,
			})
		}
		for key, acc := range b.gauges {
			avg := 0.0
			if acc.count > 0 {
				avg = acc.sum / float64(acc.count)
			}
			out = append(out, metrics.Sample{
				Name: key.name, Value: avg, TimestampNs: start,
				Labels: b.labelsByKey[key], Kind: metrics.KindGauge,
			})
		}
		for key, obs := range b.histograms {
			for _, v := range obs {
				out = append(out, metrics.Sample{
					Name: key.name, Value: v, TimestampNs: start,
					Labels: b.labelsByKey[key], Kind: metrics.KindHistogram,
				})
			}
		}
	}
	return out
}
