package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/blackforestdev/njord-quant-sub000/internal/config"
	"github.com/blackforestdev/njord-quant-sub000/internal/execution"
	"github.com/blackforestdev/njord-quant-sub000/pkg/observability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{LogLevel: "error", LogFormat: "json"})
}

func TestSelectAlgoUrgencyPrefersPOV(t *testing.T) {
	b := bus.NewMemoryBus()
	r := New(b, testLogger())
	r.Register(execution.AlgoPOV, execution.NewPOVExecutor(1000))
	r.Register(execution.AlgoTWAP, execution.NewTWAPExecutor(5))

	urgency := int64(30)
	algo := r.selectAlgo(ParentIntent{Qty: decimal.NewFromFloat(1)}, &urgency)
	assert.Equal(t, execution.AlgoPOV, algo)
}

func TestSelectAlgoLargeQtyPrefersIceberg(t *testing.T) {
	b := bus.NewMemoryBus()
	r := New(b, testLogger())
	r.Register(execution.AlgoIceberg, execution.NewIcebergExecutor())
	r.Register(execution.AlgoTWAP, execution.NewTWAPExecutor(5))

	algo := r.selectAlgo(ParentIntent{Qty: decimal.NewFromFloat(200), AvgVolume1h: 10}, nil)
	assert.Equal(t, execution.AlgoIceberg, algo)
}

func TestSelectAlgoFallsBackWhenNotRegistered(t *testing.T) {
	b := bus.NewMemoryBus()
	r := New(b, testLogger())
	r.Register(execution.AlgoTWAP, execution.NewTWAPExecutor(5))

	urgency := int64(10)
	algo := r.selectAlgo(ParentIntent{Qty: decimal.NewFromFloat(1)}, &urgency)
	assert.Equal(t, execution.AlgoTWAP, algo)
}

func TestRouteOrderPublishesIntents(t *testing.T) {
	b := bus.NewMemoryBus()
	r := New(b, testLogger())
	r.Register(execution.AlgoTWAP, execution.NewTWAPExecutor(2))

	ctx := context.Background()
	sub, err := b.Subscribe(ctx, IntentTopic)
	require.NoError(t, err)
	defer sub.Close()

	parent := ParentIntent{ID: "parent-1", Symbol: "BTC-USD", Side: execution.SideBuy, Qty: decimal.NewFromFloat(1)}
	executionID, err := r.RouteOrder(ctx, parent, 0, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, executionID)

	for i := 0; i < 4; i++ {
		select {
		case msg := <-sub.C:
			var intent execution.ExecutionIntent
			require.NoError(t, json.Unmarshal(msg.Payload, &intent))
			assert.Equal(t, executionID, intent.Meta.ExecutionID)
			assert.Equal(t, "parent-1", intent.Meta.ParentIntentID)
		default:
			t.Fatalf("expected intent %d on bus", i)
		}
	}

	snap := r.Metrics()
	assert.Equal(t, int64(1), snap.RoutedOrders)
}

func TestRouteOrderRejectsWhenNoExecutor(t *testing.T) {
	b := bus.NewMemoryBus()
	r := New(b, testLogger())

	_, err := r.RouteOrder(context.Background(), ParentIntent{Qty: decimal.NewFromFloat(1)}, 0, nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), r.Metrics().RejectedOrders)
}
