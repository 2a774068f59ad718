package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantfleet/engine/internal/compliance"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/internal/optimizer"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(zap.NewNop(), filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBotRoundTrip(t *testing.T) {
	s := openTestStore(t)

	cfg := types.DefaultBotConfig("alpha")
	cfg.Symbols = []string{"AAPL", "MSFT"}
	cfg.Strategies = []string{"trend"}
	cfg.Parameters["min_confidence"] = 0.65

	if err := s.SaveBot("bot-1", cfg, types.BotStateRunning); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Overwrite with a new state; the row must upsert, not duplicate.
	if err := s.SaveBot("bot-1", cfg, types.BotStateStopped); err != nil {
		t.Fatalf("resave: %v", err)
	}
	if err := s.SaveBot("bot-2", types.DefaultBotConfig("beta"), types.BotStateCreated); err != nil {
		t.Fatalf("save second: %v", err)
	}

	bots, err := s.LoadBots()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(bots) != 2 {
		t.Fatalf("loaded %d bots, want 2", len(bots))
	}
	got := bots[0]
	if got.BotID != "bot-1" || got.State != types.BotStateStopped {
		t.Errorf("row = %s/%s", got.BotID, got.State)
	}
	if got.Config.Name != "alpha" || len(got.Config.Symbols) != 2 {
		t.Errorf("config = %+v", got.Config)
	}
	if got.Config.Parameters["min_confidence"] != 0.65 {
		t.Errorf("parameters lost: %v", got.Config.Parameters)
	}

	if err := s.DeleteBot("bot-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	bots, _ = s.LoadBots()
	if len(bots) != 1 || bots[0].BotID != "bot-2" {
		t.Errorf("after delete: %+v", bots)
	}
}

func TestComplianceSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)

	snap := &compliance.Snapshot{
		Version:     1,
		Broker:      "alpaca",
		AccountID:   "acct-1",
		AccountType: types.AccountMargin,
		TakenAt:     time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC),
		DayTrades: []types.DayTrade{{
			Symbol:    "INTC",
			TradeDate: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
			Quantity:  decimal.NewFromInt(100),
			BuyPrice:  decimal.NewFromInt(20),
			SellPrice: decimal.NewFromInt(21),
		}},
		TradingStopped: true,
		StopReason:     "pattern day trader restriction",
	}

	if err := s.SaveComplianceSnapshot(snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadComplianceSnapshot("alpaca", "acct-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.AccountType != types.AccountMargin || !got.TradingStopped {
		t.Errorf("snapshot = %+v", got)
	}
	if len(got.DayTrades) != 1 || got.DayTrades[0].Symbol != "INTC" {
		t.Errorf("day trades = %+v", got.DayTrades)
	}
	if !got.DayTrades[0].Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("quantity = %s", got.DayTrades[0].Quantity)
	}

	if _, err := s.LoadComplianceSnapshot("alpaca", "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing account = %v", err)
	}

	all, err := s.LoadComplianceSnapshots()
	if err != nil || len(all) != 1 {
		t.Errorf("load all = %d snapshots, err %v", len(all), err)
	}
}

func TestOptimizerStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	snap := &optimizer.Snapshot{
		Version:  1,
		BotID:    "bot-1",
		Mode:     optimizer.ModeModerate,
		Baseline: map[string]float64{"min_confidence": 0.5},
		Best:     map[string]float64{"min_confidence": 0.6},
		Adjustments: []types.ParameterAdjustment{{
			ParameterName:  "min_confidence",
			OldValue:       0.5,
			NewValue:       0.6,
			AdjustmentType: types.AdjustmentIncrease,
			Reason:         "win rate below floor",
		}},
		AdjustmentsToday: 1,
	}
	if err := s.SaveOptimizerState(snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	states, err := s.LoadOptimizerStates()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := states["bot-1"]
	if !ok {
		t.Fatalf("states = %v", states)
	}
	if got.Mode != optimizer.ModeModerate || got.AdjustmentsToday != 1 {
		t.Errorf("snapshot = %+v", got)
	}
	if len(got.Adjustments) != 1 || got.Adjustments[0].NewValue != 0.6 {
		t.Errorf("adjustments = %+v", got.Adjustments)
	}

	if err := s.DeleteOptimizerState("bot-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	states, _ = s.LoadOptimizerStates()
	if len(states) != 0 {
		t.Errorf("states after delete = %v", states)
	}
}

func TestDeleteBotRemovesOptimizerState(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveBot("bot-1", types.DefaultBotConfig("alpha"), types.BotStateCreated); err != nil {
		t.Fatalf("save bot: %v", err)
	}
	if err := s.SaveOptimizerState(&optimizer.Snapshot{Version: 1, BotID: "bot-1"}); err != nil {
		t.Fatalf("save optimizer: %v", err)
	}

	if err := s.DeleteBot("bot-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	states, _ := s.LoadOptimizerStates()
	if len(states) != 0 {
		t.Error("optimizer state survived bot deletion")
	}
}

func TestLoadBotsRejectsNewerBlobVersion(t *testing.T) {
	s := openTestStore(t)

	row := BotRecord{BotID: "bot-1", Config: []byte(`{"version":99,"config":{}}`), State: "created"}
	if err := s.db.Create(&row).Error; err != nil {
		t.Fatalf("seed row: %v", err)
	}
	if _, err := s.LoadBots(); err == nil {
		t.Error("newer blob version accepted")
	}
}
