// Package metrics implements the process-wide MetricRegistry: typed
// in-memory families of counters, gauges, histograms, and summaries with
// label-set validation and bounded cardinality. It is hand-rolled rather
// than built on an OpenTelemetry SDK because the exposition and eviction
// contract here needs direct access to per-label-tuple bucket counts that
// OTel's metrics SDK does not expose.
package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/blackforestdev/njord-quant-sub000/internal/errs"
	"github.com/blackforestdev/njord-quant-sub000/pkg/observability"
)

const (
	defaultCardinalityWarning = 100
	defaultCardinalityMax     = 128
)

type entryKind struct {
	kind Kind
}

// Registry is the process-wide store of metric families. All mutation is
// serialized per family; CollectAll takes a point-in-time snapshot.
type Registry struct {
	mu     sync.Mutex
	kinds  map[string]entryKind
	counters   map[string]*counterFamily
	gauges     map[string]*gaugeFamily
	histograms map[string]*histogramFamily
	summaries  map[string]*summaryFamily

	cardinalityWarning int
	cardinalityMax     int
	logger             *observability.Logger
}

// NewRegistry builds an empty registry. warnAt/maxAt configure the
// per-family cardinality tracker; zero values fall back to the spec
// defaults (100 / 128).
func NewRegistry(logger *observability.Logger, warnAt, maxAt int) *Registry {
	if warnAt <= 0 {
		warnAt = defaultCardinalityWarning
	}
	if maxAt <= 0 {
		maxAt = defaultCardinalityMax
	}
	return &Registry{
		kinds:              make(map[string]entryKind),
		counters:           make(map[string]*counterFamily),
		gauges:             make(map[string]*gaugeFamily),
		histograms:         make(map[string]*histogramFamily),
		summaries:          make(map[string]*summaryFamily),
		cardinalityWarning: warnAt,
		cardinalityMax:     maxAt,
		logger:             logger,
	}
}

func (r *Registry) checkKind(name string, want Kind) error {
	if existing, ok := r.kinds[name]; ok {
		if existing.kind != want {
			return errs.New(errs.KindFatal, "Registry.Register", fmt.Sprintf("%s already registered as %s, cannot register as %s", name, existing.kind, want))
		}
	}
	return nil
}

// RegisterCounter registers (or returns the existing) counter family.
func (r *Registry) RegisterCounter(name, help string, labelNames []string) (*CounterHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkKind(name, KindCounter); err != nil {
		return nil, err
	}
	if f, ok := r.counters[name]; ok {
		if !sameLabelNames(f.labelNames, labelNames) {
			return nil, errs.New(errs.KindFatal, "Registry.RegisterCounter", fmt.Sprintf("%s already registered with different label names", name))
		}
		return &CounterHandle{family: f, registry: r}, nil
	}

	f := &counterFamily{
		name:       name,
		help:       help,
		labelNames: append([]string(nil), labelNames...),
		values:     make(map[LabelTuple]float64),
		card:       newCardinalityTracker(r.cardinalityWarning, r.cardinalityMax),
	}
	r.counters[name] = f
	r.kinds[name] = entryKind{kind: KindCounter}
	return &CounterHandle{family: f, registry: r}, nil
}

// RegisterGauge registers (or returns the existing) gauge family.
func (r *Registry) RegisterGauge(name, help string, labelNames []string) (*GaugeHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkKind(name, KindGauge); err != nil {
		return nil, err
	}
	if f, ok := r.gauges[name]; ok {
		if !sameLabelNames(f.labelNames, labelNames) {
			return nil, errs.New(errs.KindFatal, "Registry.RegisterGauge", fmt.Sprintf("%s already registered with different label names", name))
		}
		return &GaugeHandle{family: f, registry: r}, nil
	}

	f := &gaugeFamily{
		name:       name,
		help:       help,
		labelNames: append([]string(nil), labelNames...),
		values:     make(map[LabelTuple]float64),
		card:       newCardinalityTracker(r.cardinalityWarning, r.cardinalityMax),
	}
	r.gauges[name] = f
	r.kinds[name] = entryKind{kind: KindGauge}
	return &GaugeHandle{family: f, registry: r}, nil
}

// RegisterHistogram registers (or returns the existing) histogram family.
// bounds must be non-empty and strictly ascending, otherwise registration
// fails fatally (a programming error, not a recoverable condition).
func (r *Registry) RegisterHistogram(name, help string, labelNames []string, bounds []float64) (*HistogramHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkKind(name, KindHistogram); err != nil {
		return nil, err
	}
	if f, ok := r.histograms[name]; ok {
		if !sameLabelNames(f.labelNames, labelNames) {
			return nil, errs.New(errs.KindFatal, "Registry.RegisterHistogram", fmt.Sprintf("%s already registered with different label names", name))
		}
		return &HistogramHandle{family: f, registry: r}, nil
	}

	if !isAscending(bounds) {
		return nil, errs.New(errs.KindFatal, "Registry.RegisterHistogram", fmt.Sprintf("%s: bucket bounds must be non-empty and strictly ascending", name))
	}

	f := &histogramFamily{
		name:        name,
		help:        help,
		labelNames:  append([]string(nil), labelNames...),
		bounds:      append([]float64(nil), bounds...),
		bucketCount: make(map[LabelTuple][]uint64),
		sums:        make(map[LabelTuple]float64),
		counts:      make(map[LabelTuple]uint64),
		card:        newCardinalityTracker(r.cardinalityWarning, r.cardinalityMax),
	}
	r.histograms[name] = f
	r.kinds[name] = entryKind{kind: KindHistogram}
	return &HistogramHandle{family: f, registry: r}, nil
}

// RegisterSummary registers (or returns the existing) summary family.
// quantiles defaults to {0.5, 0.9, 0.99} when empty.
func (r *Registry) RegisterSummary(name, help string, labelNames []string, quantiles []float64) (*SummaryHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkKind(name, KindSummary); err != nil {
		return nil, err
	}
	if f, ok := r.summaries[name]; ok {
		if !sameLabelNames(f.labelNames, labelNames) {
			return nil, errs.New(errs.KindFatal, "Registry.RegisterSummary", fmt.Sprintf("%s already registered with different label names", name))
		}
		return &SummaryHandle{family: f, registry: r}, nil
	}

	if len(quantiles) == 0 {
		quantiles = []float64{0.5, 0.9, 0.99}
	}

	f := &summaryFamily{
		name:         name,
		help:         help,
		labelNames:   append([]string(nil), labelNames...),
		quantiles:    append([]float64(nil), quantiles...),
		observations: make(map[LabelTuple][]float64),
		sums:         make(map[LabelTuple]float64),
		counts:       make(map[LabelTuple]uint64),
		card:         newCardinalityTracker(r.cardinalityWarning, r.cardinalityMax),
	}
	r.summaries[name] = f
	r.kinds[name] = entryKind{kind: KindSummary}
	return &SummaryHandle{family: f, registry: r}, nil
}

// Lookup* return an existing handle without registering, or false if the
// family does not exist (or exists under a different kind).
func (r *Registry) LookupCounter(name string) (*CounterHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.counters[name]
	if !ok {
		return nil, false
	}
	return &CounterHandle{family: f, registry: r}, true
}

func (r *Registry) LookupGauge(name string) (*GaugeHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.gauges[name]
	if !ok {
		return nil, false
	}
	return &GaugeHandle{family: f, registry: r}, true
}

func (r *Registry) LookupHistogram(name string) (*HistogramHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.histograms[name]
	if !ok {
		return nil, false
	}
	return &HistogramHandle{family: f, registry: r}, true
}

func (r *Registry) LookupSummary(name string) (*SummaryHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.summaries[name]
	if !ok {
		return nil, false
	}
	return &SummaryHandle{family: f, registry: r}, true
}

func (r *Registry) warnCardinality(name string) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(context.Background(), "metric family exceeded cardinality warning threshold", map[string]interface{}{
		"metric": name,
	})
}
