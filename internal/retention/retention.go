// Package retention downsamples, compresses, and deletes aggregator
// journal files according to a tiered policy.
package retention

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/blackforestdev/njord-quant-sub000/internal/aggregator"
	"github.com/blackforestdev/njord-quant-sub000/internal/errs"
	"github.com/blackforestdev/njord-quant-sub000/internal/metrics"
	"github.com/blackforestdev/njord-quant-sub000/pkg/observability"
	"gopkg.in/yaml.v3"
)

// resolutionSeconds maps a journal resolution label to its bucket width.
var resolutionSeconds = map[string]int{
	"1m": 60,
	"5m": 300,
	"1h": 3600,
	"1d": 86400,
}

// Tier is one entry in the retention policy, naming how long files at
// its resolution are kept before being rolled to the next tier.
type Tier struct {
	Resolution    string `yaml:"resolution"`
	RetentionDays int    `yaml:"retention_days"`
}

// Policy is the top-level shape of the retention policy file.
type Policy struct {
	Tiers          []Tier `yaml:"tiers"`
	CompressAfter  int    `yaml:"compress_after_days"`
	CompactPattern string `yaml:"-"`
}

// LoadPolicy parses a YAML retention policy, sorting tiers ascending by
// retention_days and validating resolution labels.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, errs.Wrap(errs.KindConfiguration, "LoadPolicy", err, "read retention policy")
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, errs.Wrap(errs.KindConfiguration, "LoadPolicy", err, "parse retention policy yaml")
	}
	if len(p.Tiers) == 0 {
		return Policy{}, errs.New(errs.KindConfiguration, "LoadPolicy", "retention policy must declare at least one tier")
	}
	for _, t := range p.Tiers {
		if _, ok := resolutionSeconds[t.Resolution]; !ok {
			return Policy{}, errs.New(errs.KindConfiguration, "LoadPolicy", fmt.Sprintf("unknown retention resolution %q", t.Resolution))
		}
	}
	if p.CompressAfter <= 0 {
		p.CompressAfter = 7
	}
	sort.Slice(p.Tiers, func(i, j int) bool { return p.Tiers[i].RetentionDays < p.Tiers[j].RetentionDays })
	return p, nil
}

// Counts summarizes one ApplyRetention pass.
type Counts struct {
	Downsampled int
	Compressed  int
	Deleted     int
	Failed      int
}

// Engine applies a Policy against a journal directory.
type Engine struct {
	dir    string
	policy Policy
	logger *observability.Logger
	now    func() time.Time
}

// NewEngine builds an Engine rooted at journalDir.
func NewEngine(journalDir string, policy Policy, logger *observability.Logger) *Engine {
	return &Engine{dir: journalDir, policy: policy, logger: logger, now: time.Now}
}

var filenamePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})_([A-Za-z0-9]+)\.jsonl$`)

// ApplyRetention scans the journal directory once, rolling tiers forward,
// compressing aged plain files, and deleting anything past the longest
// tier. A failure on any single file is logged and counted, not fatal to
// the pass.
func (e *Engine) ApplyRetention() (Counts, error) {
	var counts Counts
	now := e.now()

	for i := 0; i < len(e.policy.Tiers)-1; i++ {
		cur := e.policy.Tiers[i]
		next := e.policy.Tiers[i+1]
		n, failed := e.rollTier(cur, next, now)
		counts.Downsampled += n
		counts.Failed += failed
	}

	n, failed := e.compressAged(now)
	counts.Compressed += n
	counts.Failed += failed

	n, failed = e.deleteExpired(now)
	counts.Deleted += n
	counts.Failed += failed

	return counts, nil
}

func (e *Engine) rollTier(cur, next Tier, now time.Time) (int, int) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		e.warn("read journal dir", err)
		return 0, 1
	}

	var rolled, failed int
	cutoff := now.AddDate(0, 0, -cur.RetentionDays)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := filenamePattern.FindStringSubmatch(entry.Name())
		if m == nil || m[2] != cur.Resolution {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			failed++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := e.rollFile(entry.Name(), next); err != nil {
			e.warn("roll file "+entry.Name(), err)
			failed++
			continue
		}
		rolled++
	}
	return rolled, failed
}

func (e *Engine) rollFile(name string, next Tier) error {
	src := filepath.Join(e.dir, name)
	records, err := aggregator.ReadFile(src)
	if err != nil {
		return err
	}

	samples := recordsToSamples(records)
	downsampled := aggregator.DownsampleToInterval(samples, resolutionSeconds[next.Resolution])
	outRecords := samplesToRecords(downsampled, resolutionSeconds[next.Resolution])

	date := strings.SplitN(name, "_", 2)[0]
	dst := filepath.Join(e.dir, fmt.Sprintf("%s_%s.jsonl", date, next.Resolution))

	existing, err := aggregator.ReadFile(dst)
	if err == nil {
		outRecords = append(existing, outRecords...)
	}

	if err := aggregator.WriteFile(dst, outRecords); err != nil {
		return err
	}
	return os.Remove(src)
}

func (e *Engine) compressAged(now time.Time) (int, int) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		e.warn("read journal dir", err)
		return 0, 1
	}
	cutoff := now.AddDate(0, 0, -e.policy.CompressAfter)

	var compressed, failed int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			failed++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := e.gzipAndRemove(entry.Name()); err != nil {
			e.warn("compress "+entry.Name(), err)
			failed++
			continue
		}
		compressed++
	}
	return compressed, failed
}

func (e *Engine) gzipAndRemove(name string) error {
	src := filepath.Join(e.dir, name)
	dst := src + ".gz"

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func (e *Engine) longestRetentionDays() int {
	max := 0
	for _, t := range e.policy.Tiers {
		if t.RetentionDays > max {
			max = t.RetentionDays
		}
	}
	return max
}

func (e *Engine) deleteExpired(now time.Time) (int, int) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		e.warn("read journal dir", err)
		return 0, 1
	}
	cutoff := now.AddDate(0, 0, -e.longestRetentionDays())

	var deleted, failed int
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			failed++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(e.dir, entry.Name())); err != nil {
			e.warn("delete "+entry.Name(), err)
			failed++
			continue
		}
		deleted++
	}
	return deleted, failed
}

func (e *Engine) warn(op string, err error) {
	if e.logger == nil {
		return
	}
	e.logger.Warn(context.Background(), "retention: "+op, map[string]interface{}{"error": err.Error()})
}

func recordsToSamples(records []aggregator.Record) []metrics.Sample {
	samples := make([]metrics.Sample, 0, len(records))
	for _, r := range records {
		kind := metrics.Kind(r.MetricType)
		if r.Value != nil {
			samples = append(samples, metrics.Sample{
				Name: r.MetricName, Value: *r.Value, TimestampNs: r.TimestampNs,
				Labels: r.Labels, Kind: kind,
			})
			continue
		}
		for _, v := range r.Observations {
			samples = append(samples, metrics.Sample{
				Name: r.MetricName, Value: v, TimestampNs: r.TimestampNs,
				Labels: r.Labels, Kind: kind,
			})
		}
	}
	return samples
}

func samplesToRecords(samples []metrics.Sample, intervalSeconds int) []aggregator.Record {
	type key struct {
		name string
		ts   int64
		kind metrics.Kind
	}
	byKey := make(map[key]*aggregator.Record)
	var order []key

	for _, s := range samples {
		k := key{name: s.Name, ts: s.TimestampNs, kind: s.Kind}
		rec, ok := byKey[k]
		if !ok {
			rec = &aggregator.Record{
				TimestampNs: s.TimestampNs, MetricName: s.Name,
				MetricType: string(s.Kind), Labels: s.Labels,
				IntervalSeconds: intervalSeconds,
			}
			byKey[k] = rec
			order = append(order, k)
		}
		if s.Kind == metrics.KindHistogram || s.Kind == metrics.KindSummary {
			rec.Observations = append(rec.Observations, s.Value)
		} else {
			v := s.Value
			rec.Value = &v
		}
	}

	out := make([]aggregator.Record, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

// ValidateCronSyntax checks five space-separated fields of digits, '*',
// ',', '-', '/'. Actual scheduling is delegated to the host process.
func ValidateCronSyntax(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return errs.New(errs.KindConfiguration, "ValidateCronSyntax", "cron expression must have five fields")
	}
	allowed := regexp.MustCompile(`^[0-9*,/-]+$`)
	for _, f := range fields {
		if !allowed.MatchString(f) {
			return errs.New(errs.KindConfiguration, "ValidateCronSyntax", fmt.Sprintf("invalid cron field %q", f))
		}
	}
	return nil
}
