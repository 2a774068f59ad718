package fees

import (
	"testing"
	"time"

	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testTrade(side types.OrderSide, qty, price int64, broker string, at time.Time) types.Trade {
	return types.Trade{
		Symbol:     "AAPL",
		Side:       side,
		Quantity:   decimal.NewFromInt(qty),
		Price:      decimal.NewFromInt(price),
		Broker:     broker,
		ExecutedAt: at,
	}
}

func TestComputeCommissionSchedule(t *testing.T) {
	s := Schedule{
		Broker:   "ibkr",
		PerShare: decimal.NewFromFloat(0.005),
		MinFee:   decimal.NewFromInt(1),
	}

	// 100 shares * 0.005 = 0.50, topped up to the 1.00 minimum.
	b := s.Compute(testTrade(types.OrderSideBuy, 100, 50, "ibkr", time.Now()))
	if !b.Total.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected 1.00 total, got %s", b.Total)
	}

	// 400 shares * 0.005 = 2.00, above the minimum.
	b = s.Compute(testTrade(types.OrderSideBuy, 400, 50, "ibkr", time.Now()))
	if !b.Total.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected 2.00 total, got %s", b.Total)
	}
}

func TestRegulatoryFeesOnSellsOnly(t *testing.T) {
	s := DefaultSchedule("paper")

	buy := s.Compute(testTrade(types.OrderSideBuy, 100, 150, "paper", time.Now()))
	if !buy.Total.IsZero() {
		t.Errorf("buy should carry no fees on a zero-commission schedule, got %s", buy.Total)
	}

	sell := s.Compute(testTrade(types.OrderSideSell, 100, 150, "paper", time.Now()))
	if !sell.Total.IsPositive() {
		t.Error("sell should carry SEC/TAF regulatory fees")
	}
	if len(sell.Lines) != 1 || sell.Lines[0].Type != FeeRegulatory {
		t.Errorf("expected a single regulatory line, got %+v", sell.Lines)
	}
}

func TestTAFCap(t *testing.T) {
	s := DefaultSchedule("paper")

	// 100,000 shares * 0.000166 = 16.60 TAF uncapped; cap is 8.30.
	b := s.Compute(testTrade(types.OrderSideSell, 100000, 1, "paper", time.Now()))
	taf := s.TAFMaxPerTrade
	sec := s.SECFeePct.Div(decimal.NewFromInt(100)).Mul(decimal.NewFromInt(100000))
	want := sec.Add(taf).RoundUp(2)
	if !b.Total.Equal(want) {
		t.Errorf("expected capped total %s, got %s", want, b.Total)
	}
}

func TestAggregate(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	tr.SetSchedule(Schedule{Broker: "ibkr", PerTrade: decimal.NewFromInt(1)})

	base := time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC)
	tr.Record("bot-1", testTrade(types.OrderSideBuy, 10, 100, "ibkr", base))
	tr.Record("bot-1", testTrade(types.OrderSideSell, 10, 101, "paper", base.Add(time.Hour)))
	tr.Record("bot-2", testTrade(types.OrderSideBuy, 5, 100, "ibkr", base.Add(2*time.Hour)))

	report := tr.Aggregate(base, base.Add(24*time.Hour), ByBot)
	if report.Trades != 3 {
		t.Fatalf("expected 3 trades in window, got %d", report.Trades)
	}
	if report.Groups["bot-1"].LessThanOrEqual(report.Groups["bot-2"]) {
		t.Errorf("bot-1 should carry more fees: %v", report.Groups)
	}

	byBroker := tr.Aggregate(base, base.Add(24*time.Hour), ByBroker)
	if !byBroker.Groups["ibkr"].Equal(decimal.NewFromInt(2)) {
		t.Errorf("ibkr fees: got %s", byBroker.Groups["ibkr"])
	}

	// Outside the window.
	empty := tr.Aggregate(base.Add(48*time.Hour), base.Add(72*time.Hour), ByBroker)
	if empty.Trades != 0 {
		t.Errorf("expected empty report, got %d trades", empty.Trades)
	}
}
