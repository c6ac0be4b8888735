package reporting

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ducminhle1904/virtual-autotrader/internal/portfolio"
)

var journalHeaders = []string{
	"Opened_At",
	"Closed_At",
	"Symbol",
	"Side",
	"Strategy",
	"Confidence_%",
	"Entry_Price",
	"Exit_Price",
	"Size",
	"Principal_$",
	"PnL_$",
	"Win_Loss",
}

// WriteJournal writes closed trades to path. A .xlsx path produces a
// workbook, anything else CSV.
func WriteJournal(trades []portfolio.ClosedTrade, acct portfolio.Account, path string) error {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return WriteJournalXLSX(trades, acct, path)
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(journalHeaders); err != nil {
		return err
	}
	for _, tr := range trades {
		if err := w.Write(journalRecord(tr)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func journalRecord(tr portfolio.ClosedTrade) []string {
	return []string{
		tr.OpenedAt.UTC().Format(time.RFC3339),
		tr.ClosedAt.UTC().Format(time.RFC3339),
		tr.Symbol,
		strings.ToUpper(string(tr.Direction)),
		tr.Strategy.Kind.String(),
		strconv.FormatFloat(tr.Confidence, 'f', 1, 64),
		strconv.FormatFloat(tr.EntryPrice, 'f', -1, 64),
		strconv.FormatFloat(tr.ExitPrice, 'f', -1, 64),
		strconv.FormatFloat(tr.Size, 'f', -1, 64),
		strconv.FormatFloat(tr.Principal, 'f', 2, 64),
		strconv.FormatFloat(tr.RealizedPnL, 'f', 4, 64),
		winLoss(tr.RealizedPnL),
	}
}

func winLoss(pnl float64) string {
	if pnl > 0 {
		return "WIN"
	}
	return "LOSS"
}
