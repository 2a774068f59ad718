package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/quantfleet/engine/internal/seasonal"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func driftBars(n int, start, step float64) []types.OHLCV {
	bars := make([]types.OHLCV, n)
	ts := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)
	price := start
	for i := range bars {
		bars[i] = types.OHLCV{
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
			Open:      decimal.NewFromFloat(price),
			High:      decimal.NewFromFloat(price + 0.5),
			Low:       decimal.NewFromFloat(price - 0.5),
			Close:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromInt(1000),
		}
		price += step
	}
	return bars
}

func neutralSeason() seasonal.Context {
	return seasonal.Context{Multiplier: 1.0}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	if _, ok := r.New("trend"); !ok {
		t.Fatal("built-in trend strategy missing")
	}
	if _, ok := r.New("nope"); ok {
		t.Fatal("unknown strategy resolved")
	}

	r.Register("custom", func(l *zap.Logger) Strategy { return NewTrend(l) })
	if _, ok := r.New("custom"); !ok {
		t.Fatal("registered strategy not found")
	}

	names := r.List()
	if len(names) != 2 {
		t.Errorf("expected 2 strategies, got %v", names)
	}
}

func TestTrendBullishSignal(t *testing.T) {
	s := NewTrend(zap.NewNop())

	// 100 → ~119 over 20 bars: strong upward drift.
	sig, err := s.Analyze(context.Background(), "AAPL", driftBars(20, 100, 1), neutralSeason())
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil {
		t.Fatal("expected a signal")
	}
	if sig.Kind.Direction() != 1 {
		t.Errorf("expected bullish, got %s", sig.Kind)
	}
	if !sig.Actionable() {
		t.Error("signal should be actionable")
	}
}

func TestTrendBearishSignal(t *testing.T) {
	s := NewTrend(zap.NewNop())

	sig, err := s.Analyze(context.Background(), "AAPL", driftBars(20, 120, -1), neutralSeason())
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil || sig.Kind.Direction() != -1 {
		t.Fatalf("expected bearish signal, got %+v", sig)
	}
}

func TestTrendFlatMarketNoSignal(t *testing.T) {
	s := NewTrend(zap.NewNop())

	sig, err := s.Analyze(context.Background(), "AAPL", driftBars(20, 100, 0), neutralSeason())
	if err != nil {
		t.Fatal(err)
	}
	if sig != nil {
		t.Fatalf("flat market should produce no signal, got %+v", sig)
	}
}

func TestTrendInsufficientBars(t *testing.T) {
	s := NewTrend(zap.NewNop())

	sig, err := s.Analyze(context.Background(), "AAPL", driftBars(5, 100, 1), neutralSeason())
	if err != nil || sig != nil {
		t.Fatalf("short window should be silent, got %+v %v", sig, err)
	}
}

func TestTrendSeasonalClamp(t *testing.T) {
	s := NewTrend(zap.NewNop())
	bars := driftBars(20, 100, 0.1)

	neutral, _ := s.Analyze(context.Background(), "AAPL", bars, neutralSeason())
	boosted, _ := s.Analyze(context.Background(), "AAPL", bars, seasonal.Context{Multiplier: 2.0})
	if neutral == nil || boosted == nil {
		t.Fatal("expected signals in both contexts")
	}
	// Clamped to 1.3 per-strategy, so boosted strength is at most 1.3x.
	limit := neutral.Strength.Mul(decimal.NewFromFloat(1.3)).Add(decimal.NewFromFloat(0.0001))
	if boosted.Strength.GreaterThan(limit) {
		t.Errorf("seasonal boost exceeded clamp: %s vs %s", boosted.Strength, neutral.Strength)
	}
}

func TestTrendSetParams(t *testing.T) {
	s := NewTrend(zap.NewNop())

	s.SetParams(map[string]float64{"lookback_bars": 10, "unknown_key": 99})
	params := s.Params()
	if params["lookback_bars"] != 10 {
		t.Errorf("lookback_bars not updated: %v", params["lookback_bars"])
	}
	if _, ok := params["unknown_key"]; ok {
		t.Error("unknown key accepted")
	}
}

func TestTrendCancelledContext(t *testing.T) {
	s := NewTrend(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Analyze(ctx, "AAPL", driftBars(20, 100, 1), neutralSeason()); err == nil {
		t.Fatal("expected context error")
	}
}
