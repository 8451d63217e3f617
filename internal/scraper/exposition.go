package scraper

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blackforestdev/njord-quant-sub000/internal/metrics"
)

// renderExposition renders snap in the pull-scrape text exposition
// format: HELP/TYPE header per family, one line per label-tuple.
func renderExposition(snap metrics.Snapshot) string {
	var b strings.Builder

	for _, c := range snap.Counters {
		writeHeader(&b, c.Name, c.Help, "counter")
		for _, s := range c.Series {
			fmt.Fprintf(&b, "%s%s %s\n", c.Name, formatLabels(s.Labels), formatFloat(s.Value))
		}
	}

	for _, g := range snap.Gauges {
		writeHeader(&b, g.Name, g.Help, "gauge")
		for _, s := range g.Series {
			fmt.Fprintf(&b, "%s%s %s\n", g.Name, formatLabels(s.Labels), formatFloat(s.Value))
		}
	}

	for _, h := range snap.Histograms {
		writeHeader(&b, h.Name, h.Help, "histogram")
		for _, s := range h.Series {
			for i, ub := range h.Bounds {
				le := map[string]string{"le": formatFloat(ub)}
				fmt.Fprintf(&b, "%s_bucket%s %d\n", h.Name, formatLabels(mergeMaps(s.Labels, le)), s.BucketCounts[i])
			}
			infLe := map[string]string{"le": "+Inf"}
			infCount := uint64(0)
			if len(s.BucketCounts) > 0 {
				infCount = s.BucketCounts[len(s.BucketCounts)-1]
			}
			fmt.Fprintf(&b, "%s_bucket%s %d\n", h.Name, formatLabels(mergeMaps(s.Labels, infLe)), infCount)
			fmt.Fprintf(&b, "%s_sum%s %s\n", h.Name, formatLabels(s.Labels), formatFloat(s.Sum))
			fmt.Fprintf(&b, "%s_count%s %d\n", h.Name, formatLabels(s.Labels), s.Count)
		}
	}

	for _, sm := range snap.Summaries {
		writeHeader(&b, sm.Name, sm.Help, "summary")
		for _, s := range sm.Series {
			quantiles := append([]float64(nil), sm.Quantiles...)
			sort.Float64s(quantiles)
			for _, q := range quantiles {
				ql := map[string]string{"quantile": fmt.Sprintf("%.2f", q)}
				fmt.Fprintf(&b, "%s%s %s\n", sm.Name, formatLabels(mergeMaps(s.Labels, ql)), formatFloat(s.Quantiles[q]))
			}
			fmt.Fprintf(&b, "%s_sum%s %s\n", sm.Name, formatLabels(s.Labels), formatFloat(s.Sum))
			fmt.Fprintf(&b, "%s_count%s %d\n", sm.Name, formatLabels(s.Labels), s.Count)
		}
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)
}

// formatLabels renders a label set as "{k=\"v\",...}" in ascending key
// order, or "" for an empty set.
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func mergeMaps(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
