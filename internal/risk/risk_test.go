package risk

import (
	"testing"

	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestManager() *Manager {
	m := NewManager(zap.NewNop(), DefaultConfig())
	m.UpdatePortfolioValue(decimal.NewFromInt(100000))
	return m
}

func TestCheckOrderApproved(t *testing.T) {
	m := newTestManager()

	d := m.CheckOrder("AAPL", decimal.NewFromInt(10), decimal.NewFromInt(150), types.OrderSideBuy)
	if d.Status != StatusApproved {
		t.Fatalf("expected approved, got %s (%s)", d.Status, d.Reason)
	}
	if !d.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("quantity changed: %s", d.Quantity)
	}
}

func TestCheckOrderCapsNotional(t *testing.T) {
	m := newTestManager()

	// 200 * 150 = 30,000 notional against a 10,000 cap.
	d := m.CheckOrder("AAPL", decimal.NewFromInt(200), decimal.NewFromInt(150), types.OrderSideBuy)
	if d.Status != StatusReduced {
		t.Fatalf("expected reduced, got %s", d.Status)
	}
	if !d.Quantity.Equal(decimal.NewFromInt(66)) {
		t.Errorf("expected 66 shares, got %s", d.Quantity)
	}
}

func TestCheckOrderVIXGating(t *testing.T) {
	m := newTestManager()

	m.UpdateVIX(decimal.NewFromInt(40))
	d := m.CheckOrder("AAPL", decimal.NewFromInt(10), decimal.NewFromInt(100), types.OrderSideBuy)
	if d.Status != StatusReduced {
		t.Fatalf("expected reduced at VIX 40, got %s", d.Status)
	}
	if !d.Quantity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected halved quantity 5, got %s", d.Quantity)
	}

	m.UpdateVIX(decimal.NewFromInt(55))
	d = m.CheckOrder("AAPL", decimal.NewFromInt(10), decimal.NewFromInt(100), types.OrderSideBuy)
	if d.Status != StatusRejected {
		t.Fatalf("expected rejected at VIX 55, got %s", d.Status)
	}
}

func TestDailyLossPausesTrading(t *testing.T) {
	m := newTestManager()

	// 3% of 100k = 3000 daily loss limit.
	m.UpdatePnL(decimal.NewFromInt(-3500), decimal.Zero, decimal.Zero)

	d := m.CheckOrder("AAPL", decimal.NewFromInt(1), decimal.NewFromInt(100), types.OrderSideBuy)
	if d.Status != StatusRejected {
		t.Fatalf("expected rejected while paused, got %s", d.Status)
	}

	if !m.ResumeTrading() {
		t.Fatal("resume should succeed when not killed")
	}
	d = m.CheckOrder("AAPL", decimal.NewFromInt(1), decimal.NewFromInt(100), types.OrderSideBuy)
	if d.Status != StatusApproved {
		t.Fatalf("expected approved after resume, got %s", d.Status)
	}
}

func TestKillSwitchSticky(t *testing.T) {
	m := newTestManager()

	// Drawdown 12% over a 10% limit trips the switch.
	m.UpdatePnL(decimal.Zero, decimal.Zero, decimal.NewFromInt(12))
	if !m.Killed() {
		t.Fatal("kill switch not tripped")
	}

	d := m.CheckOrder("AAPL", decimal.NewFromInt(1), decimal.NewFromInt(100), types.OrderSideBuy)
	if d.Status != StatusRejected || d.Reason != "kill switch" {
		t.Fatalf("expected kill switch rejection, got %s (%s)", d.Status, d.Reason)
	}

	if m.ResumeTrading() {
		t.Fatal("resume must not clear the kill switch")
	}
	if !m.Killed() {
		t.Fatal("kill switch cleared by resume")
	}

	m.ResetKillSwitch()
	if m.Killed() {
		t.Fatal("explicit reset did not clear the kill switch")
	}
	d = m.CheckOrder("AAPL", decimal.NewFromInt(1), decimal.NewFromInt(100), types.OrderSideBuy)
	if d.Status != StatusApproved {
		t.Fatalf("expected approved after reset, got %s (%s)", d.Status, d.Reason)
	}
}

func TestZeroQuantityRejected(t *testing.T) {
	m := newTestManager()

	// One share over the cap price cannot be reduced below one.
	d := m.CheckOrder("BRK.A", decimal.NewFromInt(1), decimal.NewFromInt(600000), types.OrderSideBuy)
	if d.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", d.Status)
	}
}

func TestStatusSnapshot(t *testing.T) {
	m := newTestManager()
	m.UpdateVIX(decimal.NewFromInt(20))
	m.UpdatePnL(decimal.NewFromInt(-100), decimal.NewFromInt(-200), decimal.NewFromInt(1))

	st := m.Status()
	if !st.DailyPnL.Equal(decimal.NewFromInt(-100)) {
		t.Errorf("daily pnl %s", st.DailyPnL)
	}
	if !st.VIX.Equal(decimal.NewFromInt(20)) {
		t.Errorf("vix %s", st.VIX)
	}
	if st.Paused || st.Killed {
		t.Error("unexpected paused/killed state")
	}
}
