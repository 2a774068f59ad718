package orders

import (
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
)

// ledger tracks the open cost basis per account and symbol so closing fills
// realize PnL against their entries. Quantities are signed: positive long,
// negative short. Callers synchronize access.
type ledger struct {
	lots map[string]*lot
}

type lot struct {
	qty     decimal.Decimal
	avgCost decimal.Decimal
}

func newLedger() *ledger {
	return &ledger{lots: make(map[string]*lot)}
}

// apply books one fill and returns the realized PnL. Fills that extend a
// position realize nothing and re-weight the average cost; fills against an
// open position realize the price difference over the closed quantity. A fill
// that flips through flat opens the remainder at the fill price.
func (l *ledger) apply(key string, side types.OrderSide, qty, price decimal.Decimal) decimal.Decimal {
	delta := qty
	if side == types.OrderSideSell {
		delta = qty.Neg()
	}
	if delta.IsZero() {
		return decimal.Zero
	}

	pos, ok := l.lots[key]
	if !ok || pos.qty.IsZero() {
		l.lots[key] = &lot{qty: delta, avgCost: price}
		return decimal.Zero
	}

	if pos.qty.Sign() == delta.Sign() {
		total := pos.qty.Abs().Add(delta.Abs())
		pos.avgCost = pos.avgCost.Mul(pos.qty.Abs()).Add(price.Mul(delta.Abs())).Div(total)
		pos.qty = pos.qty.Add(delta)
		return decimal.Zero
	}

	closed := decimal.Min(pos.qty.Abs(), delta.Abs())
	realized := price.Sub(pos.avgCost).Mul(closed)
	if pos.qty.IsNegative() {
		realized = realized.Neg()
	}

	pos.qty = pos.qty.Add(delta)
	switch {
	case pos.qty.IsZero():
		delete(l.lots, key)
	case pos.qty.Sign() == delta.Sign():
		pos.avgCost = price
	}
	return realized
}

// open returns the signed open quantity for a key.
func (l *ledger) open(key string) decimal.Decimal {
	if pos, ok := l.lots[key]; ok {
		return pos.qty
	}
	return decimal.Zero
}
