// Package reporting renders fee and fleet reports to xlsx workbooks, csv
// streams, and console tables. Rendering never mutates engine state.
package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/internal/fees"
	"github.com/quantfleet/engine/pkg/types"
	"go.uber.org/zap"
)

// Reporter renders reports from recorded engine data.
type Reporter struct {
	logger *zap.Logger
}

// NewReporter creates a reporter.
func NewReporter(logger *zap.Logger) *Reporter {
	return &Reporter{logger: logger.Named("reporting")}
}

// sortedGroups returns a report's group keys in stable order.
func sortedGroups(report fees.Report) []string {
	keys := make([]string, 0, len(report.Groups))
	for k := range report.Groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FeesCSV streams the raw fee entries as csv, oldest first.
func (r *Reporter) FeesCSV(w io.Writer, entries []fees.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "bot_id", "broker", "symbol", "side", "total"}); err != nil {
		return errs.Wrap(err, errs.KindInternal, "reporting", "fees_csv", "writing header")
	}
	for _, e := range entries {
		record := []string{
			e.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			e.BotID,
			e.Broker,
			e.Symbol,
			string(e.Side),
			e.Total.StringFixed(4),
		}
		if err := cw.Write(record); err != nil {
			return errs.Wrap(err, errs.KindInternal, "reporting", "fees_csv", "writing entry")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errs.Wrap(err, errs.KindInternal, "reporting", "fees_csv", "flushing")
	}
	return nil
}

// FeesXLSX writes a two-sheet workbook: the period summary and the raw
// entries behind it.
func (r *Reporter) FeesXLSX(path string, report fees.Report, entries []fees.Entry) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.Wrap(err, errs.KindInternal, "reporting", "fees_xlsx", "creating output directory")
		}
	}

	fx, err := buildFeesWorkbook(report, entries)
	if err != nil {
		return err
	}
	defer fx.Close()

	if err := fx.SaveAs(path); err != nil {
		return errs.Wrap(err, errs.KindInternal, "reporting", "fees_xlsx", path)
	}
	r.logger.Info("fee report written",
		zap.String("path", path),
		zap.Int("entries", len(entries)))
	return nil
}

// FeesTable renders the period summary as a console table.
func (r *Reporter) FeesTable(w io.Writer, report fees.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("FEES %s — %s (by %s)",
		report.From.Format("2006-01-02"), report.To.Format("2006-01-02"), report.GroupBy))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{string(report.GroupBy), "Total"})

	for _, key := range sortedGroups(report) {
		t.AppendRow(table.Row{key, "$" + report.Groups[key].StringFixed(2)})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d trades", report.Trades), "$" + report.Total.StringFixed(2)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	t.Render()
}

// FleetTable renders the bot fleet listing as a console table, used for the
// shutdown dump.
func (r *Reporter) FleetTable(w io.Writer, bots []types.BotSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("BOT FLEET")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Name", "State", "Symbols", "Strategies", "Trades Today"})

	for _, b := range bots {
		t.AppendRow(table.Row{
			b.ID,
			b.Name,
			string(b.State),
			strings.Join(b.Symbols, ","),
			strings.Join(b.Strategies, ","),
			b.TradesToday,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, Align: text.AlignRight},
	})
	t.Render()
}

// PerformanceTable renders one bot's realized performance window.
func (r *Reporter) PerformanceTable(w io.Writer, botID string, m types.PerformanceMetrics) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("PERFORMANCE " + botID)
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Total Trades", m.TotalTrades},
		{"Win Rate", fmt.Sprintf("%.1f%%", m.WinRate*100)},
		{"Profit Factor", fmt.Sprintf("%.2f", m.ProfitFactor)},
		{"Total PnL", "$" + m.TotalPnL.StringFixed(2)},
		{"Max Drawdown", "$" + m.MaxDrawdown.StringFixed(2)},
		{"Sharpe Ratio", fmt.Sprintf("%.2f", m.SharpeRatio)},
		{"Trend", string(m.Trend)},
	})
	t.Render()
}
