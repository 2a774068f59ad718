// Package signals combines the per-strategy signals of one bot cycle into a
// single per-symbol verdict via a weighted vote.
package signals

import (
	"time"

	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Aggregator performs the weighted vote. It holds no cross-cycle state; a
// bot constructs one and calls Combine each cycle.
type Aggregator struct {
	logger *zap.Logger
}

// NewAggregator creates a signal aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{logger: logger.Named("signals")}
}

// Vote is the outcome of combining one symbol's signals.
type Vote struct {
	Signal    *types.Signal   // nil when no side wins
	Bull      decimal.Decimal // aggregate bullish score
	Bear      decimal.Decimal // aggregate bearish score
	Contested bool            // both sides scored but neither won
}

// Combine tallies strength·confidence·weight per side and emits a merged
// signal for the winning direction when the margin exceeds threshold.
// Strategies missing from weights carry weight 1. Hold signals score zero.
func (a *Aggregator) Combine(symbol string, sigs []*types.Signal, weights map[string]float64, threshold decimal.Decimal) Vote {
	vote := Vote{Bull: decimal.Zero, Bear: decimal.Zero}

	var bullStrength, bullConfidence decimal.Decimal
	var bearStrength, bearConfidence decimal.Decimal
	bullCount, bearCount := 0, 0
	var latest time.Time

	for _, sig := range sigs {
		if sig == nil || sig.Symbol != symbol {
			continue
		}
		dir := sig.Kind.Direction()
		if dir == 0 {
			continue
		}

		weight := decimal.NewFromInt(1)
		if w, ok := weights[sig.StrategyName]; ok {
			weight = decimal.NewFromFloat(w)
		}
		score := sig.Strength.Mul(sig.Confidence).Mul(weight)
		if !score.IsPositive() {
			continue
		}

		if dir > 0 {
			vote.Bull = vote.Bull.Add(score)
			bullStrength = bullStrength.Add(sig.Strength.Mul(weight))
			bullConfidence = bullConfidence.Add(sig.Confidence.Mul(weight))
			bullCount++
		} else {
			vote.Bear = vote.Bear.Add(score)
			bearStrength = bearStrength.Add(sig.Strength.Mul(weight))
			bearConfidence = bearConfidence.Add(sig.Confidence.Mul(weight))
			bearCount++
		}
		if sig.GeneratedAt.After(latest) {
			latest = sig.GeneratedAt
		}
	}

	margin := vote.Bull.Sub(vote.Bear).Abs()
	if margin.LessThanOrEqual(threshold) {
		vote.Contested = vote.Bull.IsPositive() && vote.Bear.IsPositive()
		return vote
	}

	kind := types.SignalBuy
	strength := bullStrength
	confidence := bullConfidence
	count := bullCount
	if vote.Bear.GreaterThan(vote.Bull) {
		kind = types.SignalSell
		strength = bearStrength
		confidence = bearConfidence
		count = bearCount
	}
	if count == 0 {
		return vote
	}

	n := decimal.NewFromInt(int64(count))
	one := decimal.NewFromInt(1)
	strength = decimal.Min(strength.Div(n), one)
	confidence = decimal.Min(confidence.Div(n), one)

	vote.Signal = &types.Signal{
		Symbol:       symbol,
		Kind:         kind,
		StrategyName: "vote",
		Strength:     strength,
		Confidence:   confidence,
		Metadata: map[string]any{
			"bull_score": vote.Bull.String(),
			"bear_score": vote.Bear.String(),
			"voters":     count,
		},
		GeneratedAt: latest,
	}
	return vote
}
