package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestSizeFixedFractional(t *testing.T) {
	s := NewSizer(zap.NewNop())

	// 5% of 100k = 5000 budget; at $150 that is 33 shares.
	qty := s.Size(Request{
		Symbol:          "AAPL",
		Price:           decimal.NewFromInt(150),
		PortfolioValue:  decimal.NewFromInt(100000),
		PositionSizePct: 5,
		MaxPositionSize: decimal.NewFromInt(10000),
		MaxPositions:    5,
	})
	if !qty.Equal(decimal.NewFromInt(33)) {
		t.Errorf("expected 33 shares, got %s", qty)
	}
}

func TestSizeCappedByMaxPositionSize(t *testing.T) {
	s := NewSizer(zap.NewNop())

	// 10% of 100k = 10000, capped to 3000; at $100 that is 30 shares.
	qty := s.Size(Request{
		Symbol:          "MSFT",
		Price:           decimal.NewFromInt(100),
		PortfolioValue:  decimal.NewFromInt(100000),
		PositionSizePct: 10,
		MaxPositionSize: decimal.NewFromInt(3000),
	})
	if !qty.Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected 30 shares, got %s", qty)
	}
}

func TestSizeSkips(t *testing.T) {
	s := NewSizer(zap.NewNop())

	cases := []struct {
		name string
		req  Request
	}{
		{"slots exhausted", Request{
			Price: decimal.NewFromInt(100), PortfolioValue: decimal.NewFromInt(100000),
			PositionSizePct: 5, MaxPositions: 3, OpenPositions: 3,
		}},
		{"zero price", Request{
			PortfolioValue: decimal.NewFromInt(100000), PositionSizePct: 5,
		}},
		{"budget below one share", Request{
			Price: decimal.NewFromInt(5000), PortfolioValue: decimal.NewFromInt(10000),
			PositionSizePct: 1,
		}},
		{"zero portfolio", Request{
			Price: decimal.NewFromInt(100), PositionSizePct: 5,
		}},
	}

	for _, tc := range cases {
		if qty := s.Size(tc.req); !qty.IsZero() {
			t.Errorf("%s: expected zero, got %s", tc.name, qty)
		}
	}
}
