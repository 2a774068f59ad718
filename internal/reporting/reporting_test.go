package reporting

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quantfleet/engine/internal/fees"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func sampleEntries() []fees.Entry {
	ts := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)
	return []fees.Entry{
		{BotID: "bot-1", Broker: "alpaca", Symbol: "AAPL", Side: types.OrderSideBuy,
			Total: decimal.NewFromFloat(1.25), Timestamp: ts},
		{BotID: "bot-2", Broker: "paper", Symbol: "MSFT", Side: types.OrderSideSell,
			Total: decimal.NewFromFloat(0.40), Timestamp: ts.Add(time.Hour)},
	}
}

func sampleReport() fees.Report {
	return fees.Report{
		From:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		To:      time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		GroupBy: fees.ByBroker,
		Groups: map[string]decimal.Decimal{
			"alpaca": decimal.NewFromFloat(1.25),
			"paper":  decimal.NewFromFloat(0.40),
		},
		Total:  decimal.NewFromFloat(1.65),
		Trades: 2,
	}
}

func TestFeesCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := NewReporter(zap.NewNop()).FeesCSV(&buf, sampleEntries()); err != nil {
		t.Fatalf("csv: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want header + 2", len(records))
	}
	if records[0][0] != "timestamp" || records[0][5] != "total" {
		t.Errorf("header = %v", records[0])
	}
	if records[1][2] != "alpaca" || records[1][5] != "1.2500" {
		t.Errorf("row = %v", records[1])
	}
}

func TestFeesXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "fees.xlsx")
	if err := NewReporter(zap.NewNop()).FeesXLSX(path, sampleReport(), sampleEntries()); err != nil {
		t.Fatalf("xlsx: %v", err)
	}

	fx, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer fx.Close()

	sheets := fx.GetSheetList()
	if len(sheets) != 2 || sheets[0] != "Summary" || sheets[1] != "Entries" {
		t.Errorf("sheets = %v", sheets)
	}
	if got, _ := fx.GetCellValue("Summary", "B3"); got != "2" {
		t.Errorf("trade count cell = %q", got)
	}
	if got, _ := fx.GetCellValue("Entries", "D2"); got != "AAPL" {
		t.Errorf("symbol cell = %q", got)
	}
	if got, _ := fx.GetCellValue("Entries", "C3"); got != "paper" {
		t.Errorf("broker cell = %q", got)
	}
}

func TestFeesTableRendersGroups(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(zap.NewNop()).FeesTable(&buf, sampleReport())

	out := buf.String()
	for _, want := range []string{"alpaca", "paper", "2 trades", "$1.65"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestFleetTableRendersBots(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(zap.NewNop()).FleetTable(&buf, []types.BotSummary{
		{ID: "bot-1", Name: "alpha", State: types.BotStateRunning,
			Symbols: []string{"AAPL"}, Strategies: []string{"trend"}, TradesToday: 4},
	})

	out := buf.String()
	for _, want := range []string{"bot-1", "alpha", "running", "trend"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
