// Package sizing converts an actionable signal into an order quantity using
// fixed-fractional sizing against the portfolio value.
package sizing

import (
	"github.com/quantfleet/engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sizer computes order quantities. It holds no market state; callers pass
// the current portfolio value and price per call.
type Sizer struct {
	logger *zap.Logger
}

// NewSizer creates a position sizer.
func NewSizer(logger *zap.Logger) *Sizer {
	return &Sizer{logger: logger.Named("sizing")}
}

// Request carries everything one sizing decision needs.
type Request struct {
	Symbol          string
	Price           decimal.Decimal
	PortfolioValue  decimal.Decimal
	PositionSizePct float64 // of portfolio, 0..100
	MaxPositionSize decimal.Decimal
	MaxPositions    int
	OpenPositions   int
}

// Size returns the whole-share quantity for a request. A zero quantity
// means skip: caps exhausted, no budget, or no usable price.
func (s *Sizer) Size(req Request) decimal.Decimal {
	if !req.Price.IsPositive() || !req.PortfolioValue.IsPositive() {
		return decimal.Zero
	}
	if req.MaxPositions > 0 && req.OpenPositions >= req.MaxPositions {
		s.logger.Debug("position slots exhausted",
			zap.String("symbol", req.Symbol),
			zap.Int("open", req.OpenPositions),
			zap.Int("max", req.MaxPositions))
		return decimal.Zero
	}

	budget := decimal.NewFromFloat(req.PositionSizePct).
		Div(decimal.NewFromInt(100)).
		Mul(req.PortfolioValue)
	if req.MaxPositionSize.IsPositive() {
		budget = utils.ClampDecimal(budget, decimal.Zero, req.MaxPositionSize)
	}

	qty := budget.Div(req.Price).Floor()
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return qty
}
