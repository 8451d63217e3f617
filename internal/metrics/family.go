package metrics

import (
	"sort"
	"sync"
)

// cardinalityTracker records label-tuple insertion order for a family so
// the registry can warn once past warningThreshold and evict the oldest
// tuple once past maxCardinality — bounding unbounded-label attacks
// without requiring callers to pre-declare every tuple.
type cardinalityTracker struct {
	order   []LabelTuple
	warned  bool
	warnAt  int
	maxAt   int
}

// observe records tuple if new and reports whether it should be evicted
// (oldest) and whether the warning threshold was just crossed.
func (c *cardinalityTracker) observe(tuple LabelTuple, known func(LabelTuple) bool) (evict LabelTuple, shouldEvict bool, shouldWarn bool) {
	if known(tuple) {
		return "", false, false
	}
	c.order = append(c.order, tuple)
	if !c.warned && len(c.order) > c.warnAt {
		c.warned = true
		shouldWarn = true
	}
	if len(c.order) > c.maxAt {
		evict = c.order[0]
		c.order = c.order[1:]
		shouldEvict = true
	}
	return evict, shouldEvict, shouldWarn
}

func newCardinalityTracker(warnAt, maxAt int) *cardinalityTracker {
	return &cardinalityTracker{warnAt: warnAt, maxAt: maxAt}
}

// counterFamily stores a monotone accumulator per label tuple.
type counterFamily struct {
	mu         sync.Mutex
	name       string
	help       string
	labelNames []string
	values     map[LabelTuple]float64
	card       *cardinalityTracker
}

// gaugeFamily stores an unrestricted value per label tuple.
type gaugeFamily struct {
	mu         sync.Mutex
	name       string
	help       string
	labelNames []string
	values     map[LabelTuple]float64
	card       *cardinalityTracker
}

// histogramFamily stores cumulative bucket counts, sum, and count per
// label tuple, over a strictly ascending set of upper bounds.
type histogramFamily struct {
	mu          sync.Mutex
	name        string
	help        string
	labelNames  []string
	bounds      []float64
	bucketCount map[LabelTuple][]uint64
	sums        map[LabelTuple]float64
	counts      map[LabelTuple]uint64
	card        *cardinalityTracker
}

// summaryFamily stores raw observations per label tuple; quantiles are
// computed on demand at collection time.
type summaryFamily struct {
	mu           sync.Mutex
	name         string
	help         string
	labelNames   []string
	quantiles    []float64
	observations map[LabelTuple][]float64
	sums         map[LabelTuple]float64
	counts       map[LabelTuple]uint64
	card         *cardinalityTracker
}

func sameLabelNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func labelsMatch(declared []string, labels map[string]string) bool {
	if len(declared) != len(labels) {
		return false
	}
	for _, k := range declared {
		if _, ok := labels[k]; !ok {
			return false
		}
	}
	return true
}

func isAscending(bounds []float64) bool {
	if len(bounds) == 0 {
		return false
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			return false
		}
	}
	return true
}

// quantile returns sorted[floor(q*(n-1))] for q in (0,1), the minimum
// for q<=0 and the maximum for q>=1.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
