package reporting

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/virtual-autotrader/internal/portfolio"
)

const (
	journalSheet = "Journal"
	summarySheet = "Summary"
)

// ExcelStyles holds Excel formatting styles
type ExcelStyles struct {
	HeaderStyle   int
	BaseStyle     int
	CurrencyStyle int
	WinStyle      int
	LossStyle     int
	SummaryStyle  int
}

// WriteJournalXLSX saves the trade journal and an account summary as a workbook
func WriteJournalXLSX(trades []portfolio.ClosedTrade, acct portfolio.Account, path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	fx, err := buildJournalWorkbook(trades, acct)
	if err != nil {
		return err
	}
	defer fx.Close()
	return fx.SaveAs(path)
}

// JournalXLSX returns the workbook bytes, for download
func JournalXLSX(trades []portfolio.ClosedTrade, acct portfolio.Account) (*bytes.Buffer, error) {
	fx, err := buildJournalWorkbook(trades, acct)
	if err != nil {
		return nil, err
	}
	defer fx.Close()
	return fx.WriteToBuffer()
}

func buildJournalWorkbook(trades []portfolio.ClosedTrade, acct portfolio.Account) (*excelize.File, error) {
	fx := excelize.NewFile()
	if err := fx.SetSheetName(fx.GetSheetName(0), journalSheet); err != nil {
		fx.Close()
		return nil, err
	}
	if _, err := fx.NewSheet(summarySheet); err != nil {
		fx.Close()
		return nil, err
	}

	styles, err := createExcelStyles(fx)
	if err != nil {
		fx.Close()
		return nil, err
	}
	if err := writeJournalSheet(fx, trades, styles); err != nil {
		fx.Close()
		return nil, err
	}
	if err := writeSummarySheet(fx, acct, len(trades), styles); err != nil {
		fx.Close()
		return nil, err
	}
	return fx, nil
}

func createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	border := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	// Dark slate header with white text
	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.BaseStyle, err = fx.NewStyle(&excelize.Style{Border: border})
	if err != nil {
		return styles, err
	}

	styles.CurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	styles.WinStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "008000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	styles.LossStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "FF0000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	styles.SummaryStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"E7E6E6"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	return styles, err
}

func writeJournalSheet(fx *excelize.File, trades []portfolio.ClosedTrade, styles ExcelStyles) error {
	for i, h := range journalHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := fx.SetCellValue(journalSheet, cell, h); err != nil {
			return err
		}
		fx.SetCellStyle(journalSheet, cell, cell, styles.HeaderStyle)
	}
	fx.SetColWidth(journalSheet, "A", "B", 21)
	fx.SetColWidth(journalSheet, "C", "L", 13)

	for i, tr := range trades {
		row := i + 2
		values := []interface{}{
			tr.OpenedAt.UTC().Format("2006-01-02 15:04:05"),
			tr.ClosedAt.UTC().Format("2006-01-02 15:04:05"),
			tr.Symbol,
			string(tr.Direction),
			tr.Strategy.Kind.String(),
			tr.Confidence,
			tr.EntryPrice,
			tr.ExitPrice,
			tr.Size,
			tr.Principal,
			tr.RealizedPnL,
			winLoss(tr.RealizedPnL),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := fx.SetCellValue(journalSheet, cell, v); err != nil {
				return err
			}
			fx.SetCellStyle(journalSheet, cell, cell, styles.BaseStyle)
		}

		principal, _ := excelize.CoordinatesToCellName(10, row)
		fx.SetCellStyle(journalSheet, principal, principal, styles.CurrencyStyle)
		pnl, _ := excelize.CoordinatesToCellName(11, row)
		pnlStyle := styles.LossStyle
		if tr.RealizedPnL > 0 {
			pnlStyle = styles.WinStyle
		}
		fx.SetCellStyle(journalSheet, pnl, pnl, pnlStyle)
	}

	if len(trades) > 0 {
		totalRow := len(trades) + 2
		label, _ := excelize.CoordinatesToCellName(10, totalRow)
		total, _ := excelize.CoordinatesToCellName(11, totalRow)
		fx.SetCellValue(journalSheet, label, "Total")
		fx.SetCellFormula(journalSheet, total, fmt.Sprintf("SUM(K2:K%d)", totalRow-1))
		fx.SetCellStyle(journalSheet, label, total, styles.SummaryStyle)
		fx.AutoFilter(journalSheet, fmt.Sprintf("A1:L%d", totalRow-1), []excelize.AutoFilterOptions{})
	}
	return nil
}

func writeSummarySheet(fx *excelize.File, acct portfolio.Account, journaled int, styles ExcelStyles) error {
	rows := [][]interface{}{
		{"Metric", "Value"},
		{"Balance", acct.Balance},
		{"Total PnL", acct.TotalPnL},
		{"Daily PnL", acct.DailyPnL},
		{"Trades Opened", acct.TotalTrades},
		{"Trades Closed", acct.ClosedTrades},
		{"Winning Trades", acct.WinningTrades},
		{"Win Rate %", acct.WinRate},
		{"Active Positions", acct.ActivePositions},
		{"Trades In This Export", journaled},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := fx.SetSheetRow(summarySheet, cell, &row); err != nil {
			return err
		}
	}
	fx.SetCellStyle(summarySheet, "A1", "B1", styles.HeaderStyle)
	fx.SetCellStyle(summarySheet, "B2", "B4", styles.CurrencyStyle)
	fx.SetColWidth(summarySheet, "A", "A", 24)
	fx.SetColWidth(summarySheet, "B", "B", 16)
	return nil
}
