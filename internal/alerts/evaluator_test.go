package alerts

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/blackforestdev/njord-quant-sub000/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, sub *bus.Subscription) []Alert {
	t.Helper()
	var out []Alert
	for {
		select {
		case msg := <-sub.C:
			var a Alert
			require.NoError(t, json.Unmarshal(msg.Payload, &a))
			out = append(out, a)
		default:
			return out
		}
	}
}

func TestImmediateFireOnZeroDuration(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	sub, err := b.Subscribe(context.Background(), AlertsTopic)
	require.NoError(t, err)

	rules := []Rule{{Name: "r1", Metric: "njord_x", ConditionRaw: "> 10", DurationSeconds: 0, condition: Condition{Op: ">", Threshold: 10}}}
	ev := NewEvaluator(b, rules, nil)

	ev.EvaluateSample(context.Background(), metrics.Sample{Name: "njord_x", Value: 15, TimestampNs: 1000, Kind: metrics.KindGauge})

	alerts := drain(t, sub)
	require.Len(t, alerts, 1)
	assert.Equal(t, StateFiring, alerts[0].State)
}

func TestPendingThenFiringThenResolved(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	sub, err := b.Subscribe(context.Background(), AlertsTopic)
	require.NoError(t, err)

	rules := []Rule{{
		Name: "drawdown", Metric: "njord_drawdown_pct",
		ConditionRaw: "> 10.0", DurationSeconds: 60,
		condition: Condition{Op: ">", Threshold: 10.0},
		Labels:    map[string]string{"severity": "critical"},
	}}
	ev := NewEvaluator(b, rules, nil)
	ctx := context.Background()

	ev.EvaluateSample(ctx, metrics.Sample{Name: "njord_drawdown_pct", Value: 15, TimestampNs: 1_000_000_000, Kind: metrics.KindGauge})
	assert.Empty(t, drain(t, sub))

	ev.EvaluateSample(ctx, metrics.Sample{Name: "njord_drawdown_pct", Value: 15, TimestampNs: 61_000_000_001, Kind: metrics.KindGauge})
	fired := drain(t, sub)
	require.Len(t, fired, 1)
	assert.Equal(t, StateFiring, fired[0].State)

	ev.EvaluateSample(ctx, metrics.Sample{Name: "njord_drawdown_pct", Value: 5, TimestampNs: 62_000_000_000, Kind: metrics.KindGauge})
	assert.Empty(t, drain(t, sub))

	ev.mu.Lock()
	assert.Empty(t, ev.active)
	ev.mu.Unlock()
}

func TestDedupWindowSuppressesReFire(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	sub, err := b.Subscribe(context.Background(), AlertsTopic)
	require.NoError(t, err)

	rules := []Rule{{Name: "r1", Metric: "njord_x", ConditionRaw: "> 10", condition: Condition{Op: ">", Threshold: 10}}}
	ev := NewEvaluator(b, rules, nil)
	ctx := context.Background()

	ev.EvaluateSample(ctx, metrics.Sample{Name: "njord_x", Value: 20, TimestampNs: 0, Kind: metrics.KindGauge})
	require.Len(t, drain(t, sub), 1)

	ev.EvaluateSample(ctx, metrics.Sample{Name: "njord_x", Value: 21, TimestampNs: 1_000_000_000, Kind: metrics.KindGauge})
	assert.Empty(t, drain(t, sub))
}

func TestAnnotationTemplating(t *testing.T) {
	rendered := renderTemplate("symbol {{ $labels.symbol }} breached", map[string]string{"symbol": "BTC/USDT"})
	assert.Equal(t, "symbol BTC/USDT breached", rendered)

	unresolved := renderTemplate("unknown {{ $labels.missing }}", map[string]string{"symbol": "BTC/USDT"})
	assert.Equal(t, "unknown {{ $labels.missing }}", unresolved)
}
