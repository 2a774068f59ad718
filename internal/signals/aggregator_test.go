package signals

import (
	"testing"

	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func sig(symbol string, kind types.SignalKind, strategy string, strength, confidence float64) *types.Signal {
	return &types.Signal{
		Symbol:       symbol,
		Kind:         kind,
		StrategyName: strategy,
		Strength:     decimal.NewFromFloat(strength),
		Confidence:   decimal.NewFromFloat(confidence),
	}
}

func TestCombineBullishWins(t *testing.T) {
	a := NewAggregator(zap.NewNop())

	vote := a.Combine("AAPL", []*types.Signal{
		sig("AAPL", types.SignalBuy, "trend", 0.8, 0.9),
		sig("AAPL", types.SignalStrongBuy, "momentum", 0.9, 0.8),
		sig("AAPL", types.SignalSell, "reversion", 0.3, 0.4),
	}, nil, decimal.NewFromFloat(0.3))

	if vote.Signal == nil {
		t.Fatal("expected a winning signal")
	}
	if vote.Signal.Kind != types.SignalBuy {
		t.Errorf("expected buy, got %s", vote.Signal.Kind)
	}
	if !vote.Bull.GreaterThan(vote.Bear) {
		t.Errorf("bull %s should exceed bear %s", vote.Bull, vote.Bear)
	}
	if !vote.Signal.Actionable() {
		t.Error("merged signal should be actionable")
	}
}

func TestCombineBelowThresholdNoSignal(t *testing.T) {
	a := NewAggregator(zap.NewNop())

	vote := a.Combine("AAPL", []*types.Signal{
		sig("AAPL", types.SignalBuy, "trend", 0.5, 0.5),
		sig("AAPL", types.SignalSell, "reversion", 0.5, 0.5),
	}, nil, decimal.NewFromFloat(0.3))

	if vote.Signal != nil {
		t.Fatalf("dead heat should be silent, got %+v", vote.Signal)
	}
	if !vote.Contested {
		t.Error("expected contested vote")
	}
}

func TestCombineWeightsFlipOutcome(t *testing.T) {
	a := NewAggregator(zap.NewNop())

	in := []*types.Signal{
		sig("AAPL", types.SignalBuy, "trend", 0.8, 0.8),
		sig("AAPL", types.SignalSell, "reversion", 0.8, 0.8),
	}

	// Unweighted: tie, no signal.
	if v := a.Combine("AAPL", in, nil, decimal.NewFromFloat(0.1)); v.Signal != nil {
		t.Fatal("unweighted tie should be silent")
	}

	// Downweighting the bull lets the bear win.
	v := a.Combine("AAPL", in, map[string]float64{"trend": 0.2}, decimal.NewFromFloat(0.1))
	if v.Signal == nil || v.Signal.Kind != types.SignalSell {
		t.Fatalf("expected sell with trend downweighted, got %+v", v.Signal)
	}
}

func TestCombineIgnoresHoldAndOtherSymbols(t *testing.T) {
	a := NewAggregator(zap.NewNop())

	vote := a.Combine("AAPL", []*types.Signal{
		sig("AAPL", types.SignalHold, "trend", 0.9, 0.9),
		sig("MSFT", types.SignalBuy, "trend", 0.9, 0.9),
		nil,
	}, nil, decimal.Zero)

	if vote.Signal != nil || vote.Bull.IsPositive() || vote.Bear.IsPositive() {
		t.Fatalf("hold and foreign symbols must not score: %+v", vote)
	}
}

func TestCombineStrengthBounded(t *testing.T) {
	a := NewAggregator(zap.NewNop())

	vote := a.Combine("AAPL", []*types.Signal{
		sig("AAPL", types.SignalStrongBuy, "s1", 1.0, 1.0),
		sig("AAPL", types.SignalStrongBuy, "s2", 1.0, 1.0),
		sig("AAPL", types.SignalStrongBuy, "s3", 1.0, 1.0),
	}, nil, decimal.Zero)

	if vote.Signal == nil {
		t.Fatal("expected a signal")
	}
	one := decimal.NewFromInt(1)
	if vote.Signal.Strength.GreaterThan(one) || vote.Signal.Confidence.GreaterThan(one) {
		t.Errorf("merged signal out of [0,1]: strength=%s confidence=%s",
			vote.Signal.Strength, vote.Signal.Confidence)
	}
}
