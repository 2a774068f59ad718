package strategy

import (
	"context"
	"sync"

	"github.com/quantfleet/engine/internal/seasonal"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Trend is the shipped reference strategy: a simple close-over-window drift
// check. It exists so paper mode has a working producer and so the Strategy
// contract has a reference implementation; production strategies register
// their own factories.
type Trend struct {
	logger *zap.Logger

	mu     sync.Mutex
	params map[string]float64
}

// NewTrend creates a trend strategy with default parameters.
func NewTrend(logger *zap.Logger) *Trend {
	return &Trend{
		logger: logger.Named("trend"),
		params: map[string]float64{
			"lookback_bars":      20,
			"min_drift_pct":      0.5,
			"seasonal_reduce":    0.7,
			"seasonal_boost":     1.3,
			"min_confidence":     0.4,
			"momentum_threshold": 1.5,
		},
	}
}

// Name implements Strategy.
func (s *Trend) Name() string { return "trend" }

// Params implements Strategy.
func (s *Trend) Params() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// SetParams implements Strategy.
func (s *Trend) SetParams(params map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range params {
		if _, known := s.params[k]; known {
			s.params[k] = v
		}
	}
}

// Analyze implements Strategy. It compares the last close against the close
// lookback_bars ago and signals in the drift direction when the move
// exceeds min_drift_pct.
func (s *Trend) Analyze(ctx context.Context, symbol string, bars []types.OHLCV, seasonalCtx seasonal.Context) (*types.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	lookback := int(s.params["lookback_bars"])
	minDrift := s.params["min_drift_pct"]
	reduceMax := s.params["seasonal_reduce"]
	boostMax := s.params["seasonal_boost"]
	strongAt := s.params["momentum_threshold"]
	s.mu.Unlock()

	if lookback < 2 || len(bars) < lookback {
		return nil, nil
	}

	window := bars[len(bars)-lookback:]
	first := window[0].Close
	last := window[len(window)-1].Close
	if !first.IsPositive() {
		return nil, nil
	}

	driftPct, _ := last.Sub(first).Div(first).Mul(decimal.NewFromInt(100)).Float64()
	magnitude := driftPct
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if magnitude < minDrift {
		return nil, nil
	}

	kind := types.SignalBuy
	if driftPct < 0 {
		kind = types.SignalSell
	}
	if strongAt > 0 && magnitude >= strongAt*minDrift {
		if kind == types.SignalBuy {
			kind = types.SignalStrongBuy
		} else {
			kind = types.SignalStrongSell
		}
	}

	multiplier := seasonal.ClampMultiplier(seasonalCtx.Multiplier, reduceMax, boostMax)
	strength := magnitude / (strongAt * minDrift)
	if strength > 1 {
		strength = 1
	}
	strength *= multiplier
	if strength > 1 {
		strength = 1
	}

	confidence := 0.5 * multiplier
	if confidence > 1 {
		confidence = 1
	}

	return &types.Signal{
		Symbol:       symbol,
		Kind:         kind,
		StrategyName: s.Name(),
		Strength:     decimal.NewFromFloat(strength),
		Confidence:   decimal.NewFromFloat(confidence),
		EntryPrice:   last,
		GeneratedAt:  window[len(window)-1].Timestamp,
	}, nil
}
