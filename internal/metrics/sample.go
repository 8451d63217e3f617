package metrics

import (
	"sort"
	"strings"

	"github.com/blackforestdev/njord-quant-sub000/internal/errs"
)

func errValidation(msg string) error {
	return errs.New(errs.KindValidation, "Sample.Validate", msg)
}

// Kind identifies which family shape a sample or registration belongs to.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
	KindSummary   Kind = "summary"
)

// maxLabelKeys bounds the number of label keys a sample may carry, per the
// data model's "at most 20 keys" invariant.
const maxLabelKeys = 20

// Sample is the wire type carried on telemetry.metrics. The (Name, Kind,
// sorted Labels) triple is the identity of the time series it belongs to.
type Sample struct {
	Name        string            `json:"name"`
	Value       float64           `json:"value"`
	TimestampNs int64             `json:"timestamp_ns"`
	Labels      map[string]string `json:"labels,omitempty"`
	Kind        Kind              `json:"kind"`
}

// LabelTuple is the canonical, order-independent representation of a
// sample's label set, used as a map key inside families and buckets.
type LabelTuple string

// Tuple renders s.Labels as a stable LabelTuple: keys sorted ascending,
// joined as "k=v" pairs separated by "\x1f" (a value no label key or value
// is expected to contain).
func Tuple(labels map[string]string) LabelTuple {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return LabelTuple(b.String())
}

// Validate checks the sample against the data model's invariants: a
// non-empty name, non-negative timestamp, and at most maxLabelKeys labels.
func (s Sample) Validate() error {
	if s.Name == "" {
		return errValidation("sample name must not be empty")
	}
	if s.TimestampNs < 0 {
		return errValidation("sample timestamp_ns must not be negative")
	}
	if len(s.Labels) > maxLabelKeys {
		return errValidation("sample has more than 20 label keys")
	}
	switch s.Kind {
	case KindCounter, KindGauge, KindHistogram, KindSummary:
	default:
		return errValidation("sample kind must be one of counter, gauge, histogram, summary")
	}
	return nil
}

// SortedLabelNames returns the keys of labels in ascending order.
func SortedLabelNames(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
