// Package broker_test provides tests for the broker registry and the
// paper adapter.
package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantfleet/engine/internal/broker"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func paperFactory(t *testing.T) broker.Factory {
	t.Helper()
	return func(logger *zap.Logger, cfg map[string]string) (broker.Broker, error) {
		return broker.NewPaper(logger, cfg, nil)
	}
}

func TestRegistryConnect(t *testing.T) {
	ctx := context.Background()
	reg := broker.NewRegistry(zap.NewNop())

	if err := reg.RegisterFactory("paper", paperFactory(t)); err != nil {
		t.Fatalf("RegisterFactory: %v", err)
	}

	if _, err := reg.Connect(ctx, "ibkr", nil); !errors.Is(err, errs.ErrUnknownBroker) {
		t.Errorf("connecting unknown broker: got %v, want ErrUnknownBroker", err)
	}

	handle, err := reg.Connect(ctx, "paper", map[string]string{"equity": "50000"})
	if err != nil {
		t.Fatalf("Connect(paper): %v", err)
	}
	if handle.Name() != "paper" {
		t.Errorf("handle name = %q", handle.Name())
	}

	if _, err := reg.Connect(ctx, "paper", nil); !errors.Is(err, errs.ErrAlreadyConnected) {
		t.Errorf("double connect: got %v, want ErrAlreadyConnected", err)
	}

	def, err := reg.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if def.Name() != "paper" {
		t.Errorf("first connected broker should be default, got %q", def.Name())
	}

	if _, err := reg.Get("paper"); err != nil {
		t.Errorf("Get(paper): %v", err)
	}
	if _, err := reg.Get("ghost"); err == nil {
		t.Error("Get(ghost) should fail")
	}
}

func TestRegistryDisconnectAll(t *testing.T) {
	ctx := context.Background()
	reg := broker.NewRegistry(zap.NewNop())

	for _, name := range []string{"alpha", "beta"} {
		if err := reg.RegisterFactory(name, paperFactory(t)); err != nil {
			t.Fatalf("RegisterFactory(%s): %v", name, err)
		}
		if _, err := reg.Connect(ctx, name, nil); err != nil {
			t.Fatalf("Connect(%s): %v", name, err)
		}
	}

	if got := reg.Connected(); len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("Connected() = %v, want [alpha beta]", got)
	}

	if failed := reg.DisconnectAll(ctx); len(failed) != 0 {
		t.Fatalf("DisconnectAll: %v", failed)
	}
	if got := reg.Connected(); len(got) != 0 {
		t.Fatalf("Connected() after disconnect = %v", got)
	}
	if _, err := reg.Default(); err == nil {
		t.Error("Default() should fail after DisconnectAll")
	}
}

func TestPaperFillsMarketOrder(t *testing.T) {
	ctx := context.Background()

	quote := func(ctx context.Context, symbol string) (*types.Quote, error) {
		return &types.Quote{Symbol: symbol, Last: decimal.NewFromInt(150), Timestamp: time.Now()}, nil
	}
	paper, err := broker.NewPaper(zap.NewNop(), map[string]string{"equity": "100000"}, quote)
	if err != nil {
		t.Fatalf("NewPaper: %v", err)
	}
	if err := paper.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer paper.Disconnect(ctx)

	order := &types.Order{
		Symbol:        "AAPL",
		Side:          types.OrderSideBuy,
		Type:          types.OrderTypeMarket,
		Quantity:      decimal.NewFromInt(10),
		ClientOrderID: "cli-1",
		Status:        types.OrderStatusPending,
	}
	if err := paper.SubmitOrder(ctx, order); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if order.Status != types.OrderStatusSubmitted {
		t.Errorf("order not acknowledged: status %s", order.Status)
	}

	select {
	case fill := <-paper.Fills():
		if fill.ClientOrderID != "cli-1" {
			t.Errorf("fill client id = %q", fill.ClientOrderID)
		}
		if !fill.Price.Equal(decimal.NewFromInt(150)) {
			t.Errorf("fill price = %s, want 150", fill.Price)
		}
		if !fill.Quantity.Equal(decimal.NewFromInt(10)) {
			t.Errorf("fill qty = %s, want 10", fill.Quantity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fill pushed")
	}

	positions, err := paper.GetPositions(ctx, "paper-1")
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 1 || !positions[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("positions after fill = %+v", positions)
	}
}

func TestPaperRejectsMarketOrderWithoutQuotes(t *testing.T) {
	ctx := context.Background()
	paper, err := broker.NewPaper(zap.NewNop(), nil, nil)
	if err != nil {
		t.Fatalf("NewPaper: %v", err)
	}
	if err := paper.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer paper.Disconnect(ctx)

	order := &types.Order{
		Symbol:   "AAPL",
		Side:     types.OrderSideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(1),
	}
	err = paper.SubmitOrder(ctx, order)
	if err == nil {
		t.Fatal("market order without a price source must fail")
	}
	if !errs.Is(err, errs.KindExternal) {
		t.Errorf("error kind = %s, want external", errs.KindOf(err))
	}
}

func TestPaperCancelIdempotent(t *testing.T) {
	ctx := context.Background()
	paper, err := broker.NewPaper(zap.NewNop(), map[string]string{"fill_delay_ms": "500"}, nil)
	if err != nil {
		t.Fatalf("NewPaper: %v", err)
	}
	if err := paper.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer paper.Disconnect(ctx)

	order := &types.Order{
		Symbol:     "MSFT",
		Side:       types.OrderSideBuy,
		Type:       types.OrderTypeLimit,
		LimitPrice: decimal.NewFromInt(400),
		Quantity:   decimal.NewFromInt(5),
	}
	if err := paper.SubmitOrder(ctx, order); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	if err := paper.CancelOrder(ctx, order.ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if err := paper.CancelOrder(ctx, order.ID); err != nil {
		t.Fatalf("second CancelOrder should be a no-op, got %v", err)
	}

	got, err := paper.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != types.OrderStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	// The delayed fill must observe the cancel and not fire.
	select {
	case fill := <-paper.Fills():
		t.Fatalf("cancelled order filled: %+v", fill)
	case <-time.After(700 * time.Millisecond):
	}
}
