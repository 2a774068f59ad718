// Package marketdata_test provides tests for the data source registry and
// the sim adapter.
package marketdata_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quantfleet/engine/internal/clock"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/internal/marketdata"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// stubSource counts calls and either fails every quote or serves a fixed one.
type stubSource struct {
	name       string
	fail       bool
	quoteCalls atomic.Int64
	barCalls   atomic.Int64
}

func (s *stubSource) Name() string                          { return s.name }
func (s *stubSource) Connect(ctx context.Context) error     { return nil }
func (s *stubSource) Disconnect(ctx context.Context) error  { return nil }
func (s *stubSource) HealthCheck(ctx context.Context) error { return nil }

func (s *stubSource) GetQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	s.quoteCalls.Add(1)
	if s.fail {
		return nil, errs.New(errs.KindExternal, s.name, "get_quote", "upstream down")
	}
	return &types.Quote{
		Symbol:    symbol,
		Last:      decimal.NewFromInt(42),
		Timestamp: time.Now(),
		Source:    s.name,
	}, nil
}

func (s *stubSource) GetBars(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error) {
	s.barCalls.Add(1)
	if s.fail {
		return nil, errs.New(errs.KindExternal, s.name, "get_bars", "upstream down")
	}
	bars := make([]types.OHLCV, limit)
	base := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = types.OHLCV{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      decimal.NewFromInt(42),
			High:      decimal.NewFromInt(43),
			Low:       decimal.NewFromInt(41),
			Close:     decimal.NewFromInt(42),
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return bars, nil
}

func stubFactory(src *stubSource) marketdata.Factory {
	return func(logger *zap.Logger, cfg map[string]string) (marketdata.Source, error) {
		return src, nil
	}
}

func connectStubs(t *testing.T, stubs ...*stubSource) *marketdata.Registry {
	t.Helper()
	reg := marketdata.NewRegistry(zap.NewNop())
	for _, s := range stubs {
		if err := reg.RegisterFactory(s.name, stubFactory(s)); err != nil {
			t.Fatalf("RegisterFactory(%s): %v", s.name, err)
		}
		if _, err := reg.Connect(context.Background(), s.name, nil); err != nil {
			t.Fatalf("Connect(%s): %v", s.name, err)
		}
	}
	return reg
}

func TestQuoteFailoverIsNotSticky(t *testing.T) {
	a := &stubSource{name: "alpha", fail: true}
	b := &stubSource{name: "beta"}
	reg := connectStubs(t, a, b)
	ctx := context.Background()

	quote, err := reg.GetQuote(ctx, "XYZ", "")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if quote.Source != "beta" {
		t.Errorf("quote served by %q, want beta", quote.Source)
	}
	if got := a.quoteCalls.Load(); got != 1 {
		t.Errorf("alpha calls = %d, want 1", got)
	}

	// The failed source keeps its priority slot: the next call must try
	// alpha again before falling back to beta.
	if _, err := reg.GetQuote(ctx, "XYZ", ""); err != nil {
		t.Fatalf("second GetQuote: %v", err)
	}
	if got := a.quoteCalls.Load(); got != 2 {
		t.Errorf("alpha calls after second quote = %d, want 2", got)
	}
	if got := b.quoteCalls.Load(); got != 2 {
		t.Errorf("beta calls = %d, want 2", got)
	}
	if order := reg.Connected(); len(order) != 2 || order[0] != "alpha" {
		t.Errorf("priority order changed: %v", order)
	}
}

func TestQuotePreferredSource(t *testing.T) {
	a := &stubSource{name: "alpha"}
	b := &stubSource{name: "beta"}
	reg := connectStubs(t, a, b)

	quote, err := reg.GetQuote(context.Background(), "XYZ", "beta")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if quote.Source != "beta" {
		t.Errorf("quote served by %q, want preferred beta", quote.Source)
	}
	if a.quoteCalls.Load() != 0 {
		t.Error("priority head called despite preferred hit")
	}
}

func TestQuoteAllSourcesFail(t *testing.T) {
	a := &stubSource{name: "alpha", fail: true}
	b := &stubSource{name: "beta", fail: true}
	reg := connectStubs(t, a, b)

	_, err := reg.GetQuote(context.Background(), "XYZ", "")
	if err == nil {
		t.Fatal("expected error when every source fails")
	}
	if !errs.Is(err, errs.KindExternal) {
		t.Errorf("error kind = %s, want external", errs.KindOf(err))
	}
}

func TestQuoteNoSources(t *testing.T) {
	reg := marketdata.NewRegistry(zap.NewNop())
	_, err := reg.GetQuote(context.Background(), "XYZ", "")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestBarsFailover(t *testing.T) {
	a := &stubSource{name: "alpha", fail: true}
	b := &stubSource{name: "beta"}
	reg := connectStubs(t, a, b)

	bars, err := reg.GetBars(context.Background(), "XYZ", types.Timeframe1m, 5, "")
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(bars) != 5 {
		t.Fatalf("len(bars) = %d, want 5", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			t.Errorf("bars not timestamp-monotone at %d", i)
		}
	}
}

func TestSimDeterministic(t *testing.T) {
	clk := clock.NewFixedClock(time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC))
	mk := func() *marketdata.Sim {
		s, err := marketdata.NewSim(zap.NewNop(), map[string]string{"seed": "7"}, clk)
		if err != nil {
			t.Fatalf("NewSim: %v", err)
		}
		if err := s.Connect(context.Background()); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		return s
	}
	s1, s2 := mk(), mk()
	ctx := context.Background()

	q1, err := s1.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	q2, err := s2.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if !q1.Last.Equal(q2.Last) || !q1.Bid.Equal(q2.Bid) || !q1.Volume.Equal(q2.Volume) {
		t.Errorf("same clock and seed produced different quotes: %+v vs %+v", q1, q2)
	}
	if q1.Bid.GreaterThanOrEqual(q1.Ask) {
		t.Errorf("crossed quote: bid %s ask %s", q1.Bid, q1.Ask)
	}

	bars1, err := s1.GetBars(ctx, "AAPL", types.Timeframe5m, 10)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	bars2, err := s2.GetBars(ctx, "AAPL", types.Timeframe5m, 10)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(bars1) != 10 || len(bars2) != 10 {
		t.Fatalf("bar counts = %d, %d, want 10", len(bars1), len(bars2))
	}
	for i := range bars1 {
		if !bars1[i].Close.Equal(bars2[i].Close) {
			t.Errorf("bar %d close differs: %s vs %s", i, bars1[i].Close, bars2[i].Close)
		}
		if bars1[i].High.LessThan(bars1[i].Low) {
			t.Errorf("bar %d high < low", i)
		}
	}
}
