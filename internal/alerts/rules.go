// Package alerts evaluates threshold rules against incoming metric
// samples and emits pending/firing/resolved transitions.
package alerts

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blackforestdev/njord-quant-sub000/internal/errs"
	"gopkg.in/yaml.v3"
)

// Condition is a comparison operator and threshold parsed from a rule's
// "condition" string, e.g. "> 10.0".
type Condition struct {
	Op        string
	Threshold float64
}

// Rule is one entry in the rules file.
type Rule struct {
	Name            string            `yaml:"name"`
	Metric          string            `yaml:"metric"`
	ConditionRaw    string            `yaml:"condition"`
	DurationSeconds int64             `yaml:"duration"`
	Labels          map[string]string `yaml:"labels"`
	Annotations     map[string]string `yaml:"annotations"`

	condition Condition
}

// ruleFile is the top-level shape of the YAML rules document.
type ruleFile struct {
	Alerts []Rule `yaml:"alerts"`
}

// LoadRules parses a YAML rules file and pre-parses each rule's condition.
// Missing required fields or a wrong top-level shape are Configuration
// errors surfaced to the caller.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "LoadRules", err, "read rules file")
	}

	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "LoadRules", err, "parse rules yaml")
	}

	for i := range doc.Alerts {
		r := &doc.Alerts[i]
		if r.Name == "" || r.Metric == "" || r.ConditionRaw == "" {
			return nil, errs.New(errs.KindConfiguration, "LoadRules", fmt.Sprintf("rule %d missing required field", i))
		}
		cond, err := parseCondition(r.ConditionRaw)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "LoadRules", err, fmt.Sprintf("rule %q condition", r.Name))
		}
		r.condition = cond
	}
	return doc.Alerts, nil
}

// parseCondition parses "<op> <number>". Unknown operators or
// non-numeric thresholds are rejected at load time.
func parseCondition(raw string) (Condition, error) {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return Condition{}, fmt.Errorf("expected \"<op> <number>\", got %q", raw)
	}
	switch fields[0] {
	case ">", ">=", "<", "<=", "=", "!=":
	default:
		return Condition{}, fmt.Errorf("unknown operator %q", fields[0])
	}
	threshold, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Condition{}, fmt.Errorf("non-numeric threshold %q", fields[1])
	}
	return Condition{Op: fields[0], Threshold: threshold}, nil
}

// Evaluate reports whether value satisfies c.
func (c Condition) Evaluate(value float64) bool {
	switch c.Op {
	case ">":
		return value > c.Threshold
	case ">=":
		return value >= c.Threshold
	case "<":
		return value < c.Threshold
	case "<=":
		return value <= c.Threshold
	case "=":
		return value == c.Threshold
	case "!=":
		return value != c.Threshold
	default:
		return false
	}
}

// renderAnnotations substitutes "{{ $labels.<k> }}" with labels[k] in every
// annotation value. Unresolved placeholders are left untouched.
func renderAnnotations(annotations map[string]string, labels map[string]string) map[string]string {
	if len(annotations) == 0 {
		return nil
	}
	out := make(map[string]string, len(annotations))
	for k, v := range annotations {
		out[k] = renderTemplate(v, labels)
	}
	return out
}

func renderTemplate(template string, labels map[string]string) string {
	result := template
	for k, v := range labels {
		placeholder := fmt.Sprintf("{{ $labels.%s }}", k)
		result = strings.ReplaceAll(result, placeholder, v)
	}
	return result
}
