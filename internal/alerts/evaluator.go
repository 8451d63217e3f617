package alerts

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/blackforestdev/njord-quant-sub000/internal/metrics"
	"github.com/blackforestdev/njord-quant-sub000/pkg/observability"
)

// AlertsTopic is the bus topic firing alerts are published to.
const AlertsTopic = "telemetry.alerts"

// dedupWindowNs is the minimum interval between two firing emissions for
// the same (rule, metric) identity.
const dedupWindowNs = int64(5 * 60 * 1_000_000_000)

// State is one stage of the pending/firing state machine.
type State string

const (
	StatePending State = "pending"
	StateFiring  State = "firing"
)

// Alert is the payload published to AlertsTopic.
type Alert struct {
	RuleName     string            `json:"rule_name"`
	MetricName   string            `json:"metric_name"`
	State        State             `json:"state"`
	CurrentValue float64           `json:"current_value"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	TimestampNs  int64             `json:"timestamp_ns"`
}

type activeAlert struct {
	state         State
	currentValue  float64
	activeSinceNs int64
}

// Evaluator holds rules and the per-identity state tables. Its state
// tables are owned by a single goroutine; EvaluateSample must not be
// called concurrently without external serialization.
type Evaluator struct {
	bus    bus.Bus
	logger *observability.Logger
	rules  []Rule

	mu          sync.Mutex
	active      map[string]*activeAlert
	lastFiredNs map[string]int64
}

// NewEvaluator builds an Evaluator over rules, publishing firing alerts
// through b.
func NewEvaluator(b bus.Bus, rules []Rule, logger *observability.Logger) *Evaluator {
	return &Evaluator{
		bus:         b,
		logger:      logger,
		rules:       rules,
		active:      make(map[string]*activeAlert),
		lastFiredNs: make(map[string]int64),
	}
}

func sortedLabelTuple(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return strings.Join(parts, ",")
}

func alertKey(ruleName, metricName string, labels map[string]string) string {
	return ruleName + ":" + metricName + ":" + sortedLabelTuple(labels)
}

func dedupKey(ruleName, metricName string) string {
	return ruleName + metricName
}

// EvaluateSample iterates every rule targeting sample.Name and advances
// its state machine.
func (e *Evaluator) EvaluateSample(ctx context.Context, sample metrics.Sample) {
	for _, rule := range e.rules {
		if rule.Metric != sample.Name {
			continue
		}
		e.evaluateRule(ctx, rule, sample)
	}
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule Rule, sample metrics.Sample) {
	key := alertKey(rule.Name, sample.Name, sample.Labels)
	matched := rule.condition.Evaluate(sample.Value)

	e.mu.Lock()
	cur, exists := e.active[key]

	switch {
	case !exists && matched && rule.DurationSeconds == 0:
		e.active[key] = &activeAlert{state: StateFiring, currentValue: sample.Value, activeSinceNs: sample.TimestampNs}
		e.mu.Unlock()
		e.emitFiring(ctx, rule, sample)
		return

	case !exists && matched:
		e.active[key] = &activeAlert{state: StatePending, currentValue: sample.Value, activeSinceNs: sample.TimestampNs}
		e.mu.Unlock()
		return

	case exists && cur.state == StatePending && matched:
		elapsedNs := sample.TimestampNs - cur.activeSinceNs
		if elapsedNs >= rule.DurationSeconds*1_000_000_000 {
			cur.state = StateFiring
			cur.currentValue = sample.Value
			e.mu.Unlock()
			e.emitFiring(ctx, rule, sample)
			return
		}
		cur.currentValue = sample.Value
		e.mu.Unlock()
		return

	case exists && cur.state == StatePending && !matched:
		delete(e.active, key)
		e.mu.Unlock()
		return

	case exists && cur.state == StateFiring && matched:
		cur.currentValue = sample.Value
		e.mu.Unlock()
		e.emitFiring(ctx, rule, sample)
		return

	case exists && cur.state == StateFiring && !matched:
		delete(e.active, key)
		e.mu.Unlock()
		if e.logger != nil {
			e.logger.Info(ctx, "alert resolved", map[string]interface{}{
				"rule": rule.Name, "metric": sample.Name, "value": sample.Value,
			})
		}
		return

	default:
		e.mu.Unlock()
	}
}

// emitFiring consults the dedup window before publishing; re-emission
// within the window is logged, not published.
func (e *Evaluator) emitFiring(ctx context.Context, rule Rule, sample metrics.Sample) {
	dk := dedupKey(rule.Name, sample.Name)

	e.mu.Lock()
	last, ok := e.lastFiredNs[dk]
	if ok && sample.TimestampNs-last < dedupWindowNs {
		e.mu.Unlock()
		if e.logger != nil {
			e.logger.Info(ctx, "alert emission suppressed by dedup window", map[string]interface{}{
				"rule": rule.Name, "metric": sample.Name,
			})
		}
		return
	}
	e.lastFiredNs[dk] = sample.TimestampNs
	e.mu.Unlock()

	alert := Alert{
		RuleName:     rule.Name,
		MetricName:   sample.Name,
		State:        StateFiring,
		CurrentValue: sample.Value,
		Labels:       mergeLabels(rule.Labels, sample.Labels),
		Annotations:  renderAnnotations(rule.Annotations, sample.Labels),
		TimestampNs:  sample.TimestampNs,
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn(ctx, "alert marshal failed", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	if err := e.bus.Publish(ctx, AlertsTopic, payload); err != nil {
		if e.logger != nil {
			e.logger.Warn(ctx, "alert publish failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

func mergeLabels(ruleLabels, sampleLabels map[string]string) map[string]string {
	out := make(map[string]string, len(ruleLabels)+len(sampleLabels))
	for k, v := range sampleLabels {
		out[k] = v
	}
	for k, v := range ruleLabels {
		out[k] = v
	}
	return out
}
