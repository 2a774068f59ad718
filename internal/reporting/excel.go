package reporting

import (
	"fmt"

	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/internal/fees"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	entriesSheet = "Entries"
)

type workbookStyles struct {
	header   int
	currency int
}

func newWorkbookStyles(fx *excelize.File) (workbookStyles, error) {
	var styles workbookStyles
	var err error

	styles.header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.currency, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7, // $#,##0.00
		Alignment: &excelize.Alignment{Horizontal: "right"},
	})
	return styles, err
}

func buildFeesWorkbook(report fees.Report, entries []fees.Entry) (*excelize.File, error) {
	fx := excelize.NewFile()

	fx.SetSheetName(fx.GetSheetName(0), summarySheet)
	if _, err := fx.NewSheet(entriesSheet); err != nil {
		fx.Close()
		return nil, errs.Wrap(err, errs.KindInternal, "reporting", "fees_xlsx", "creating sheets")
	}

	styles, err := newWorkbookStyles(fx)
	if err != nil {
		fx.Close()
		return nil, errs.Wrap(err, errs.KindInternal, "reporting", "fees_xlsx", "creating styles")
	}

	if err := writeSummarySheet(fx, styles, report); err != nil {
		fx.Close()
		return nil, err
	}
	if err := writeEntriesSheet(fx, styles, entries); err != nil {
		fx.Close()
		return nil, err
	}
	return fx, nil
}

func writeSummarySheet(fx *excelize.File, styles workbookStyles, report fees.Report) error {
	rows := [][]interface{}{
		{"Period", fmt.Sprintf("%s — %s", report.From.Format("2006-01-02"), report.To.Format("2006-01-02"))},
		{"Grouped By", string(report.GroupBy)},
		{"Trades", report.Trades},
		{"Total Fees", report.Total.InexactFloat64()},
		{},
		{string(report.GroupBy), "Total"},
	}
	for _, key := range sortedGroups(report) {
		rows = append(rows, []interface{}{key, report.Groups[key].InexactFloat64()})
	}

	for i, row := range rows {
		cell := fmt.Sprintf("A%d", i+1)
		if err := fx.SetSheetRow(summarySheet, cell, &row); err != nil {
			return errs.Wrap(err, errs.KindInternal, "reporting", "fees_xlsx", "writing summary row")
		}
	}

	fx.SetCellStyle(summarySheet, "A6", "B6", styles.header)
	if len(report.Groups) > 0 {
		last := fmt.Sprintf("B%d", 6+len(report.Groups))
		fx.SetCellStyle(summarySheet, "B7", last, styles.currency)
	}
	fx.SetColWidth(summarySheet, "A", "A", 20)
	fx.SetColWidth(summarySheet, "B", "B", 26)
	return nil
}

func writeEntriesSheet(fx *excelize.File, styles workbookStyles, entries []fees.Entry) error {
	header := []interface{}{"Timestamp", "Bot", "Broker", "Symbol", "Side", "Total"}
	if err := fx.SetSheetRow(entriesSheet, "A1", &header); err != nil {
		return errs.Wrap(err, errs.KindInternal, "reporting", "fees_xlsx", "writing entries header")
	}
	fx.SetCellStyle(entriesSheet, "A1", "F1", styles.header)

	for i, e := range entries {
		row := []interface{}{
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			e.BotID,
			e.Broker,
			e.Symbol,
			string(e.Side),
			e.Total.InexactFloat64(),
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := fx.SetSheetRow(entriesSheet, cell, &row); err != nil {
			return errs.Wrap(err, errs.KindInternal, "reporting", "fees_xlsx", "writing entry row")
		}
	}
	if len(entries) > 0 {
		fx.SetCellStyle(entriesSheet, "F2", fmt.Sprintf("F%d", len(entries)+1), styles.currency)
	}
	fx.SetColWidth(entriesSheet, "A", "A", 20)
	fx.SetColWidth(entriesSheet, "B", "F", 14)
	return nil
}
