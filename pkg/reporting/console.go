package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/virtual-autotrader/internal/engine"
	"github.com/ducminhle1904/virtual-autotrader/internal/portfolio"
)

// WriteStatus renders the account and open positions as console tables
func WriteStatus(w io.Writer, snap engine.Snapshot) {
	acct := snap.Account

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("VIRTUAL ACCOUNT")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"🚦 Engine", stateLabel(snap)},
		{"🎯 Strategy", snap.Strategy.String()},
		{"📡 Detector", onOff(snap.Detector)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"💰 Balance", fmt.Sprintf("$%.2f", acct.Balance)},
		{"📈 Total PnL", fmt.Sprintf("%+.2f", acct.TotalPnL)},
		{"📅 Daily PnL", fmt.Sprintf("%+.2f", acct.DailyPnL)},
		{"🔄 Trades", fmt.Sprintf("%d opened / %d closed", acct.TotalTrades, acct.ClosedTrades)},
		{"✅ Win Rate", fmt.Sprintf("%.1f%%", acct.WinRate)},
		{"📂 Active", fmt.Sprintf("%d", acct.ActivePositions)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 14, WidthMax: 14, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 40, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Fprintln(w)

	if len(snap.Positions) == 0 {
		fmt.Fprintln(w, "No open positions")
		return
	}
	WritePositions(w, snap.Positions)
}

// WritePositions renders one row per open position
func WritePositions(w io.Writer, positions []portfolio.Position) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("OPEN POSITIONS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Symbol", "Side", "Entry", "Current", "Size", "PnL", "PnL %", "SL", "TP", "Flags"})

	var total float64
	for _, p := range positions {
		total += p.UnrealizedPnL
		t.AppendRow(table.Row{
			p.Symbol,
			strings.ToUpper(string(p.Direction)),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("%.4f", p.CurrentPrice),
			fmt.Sprintf("%.6f", p.Size),
			fmt.Sprintf("%+.2f", p.UnrealizedPnL),
			fmt.Sprintf("%+.2f%%", p.UnrealizedPnLPercent),
			optionalLevel(p.StopLoss),
			optionalLevel(p.TakeProfit),
			flags(p),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", fmt.Sprintf("%+.2f", total)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	t.Render()
}

// WriteJournalTable renders closed trades, oldest first
func WriteJournalTable(w io.Writer, trades []portfolio.ClosedTrade) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("TRADE JOURNAL")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Closed", "Symbol", "Side", "Entry", "Exit", "PnL", "Strategy"})

	var total float64
	for _, tr := range trades {
		total += tr.RealizedPnL
		t.AppendRow(table.Row{
			tr.ClosedAt.Format("2006-01-02 15:04:05"),
			tr.Symbol,
			strings.ToUpper(string(tr.Direction)),
			fmt.Sprintf("%.4f", tr.EntryPrice),
			fmt.Sprintf("%.4f", tr.ExitPrice),
			fmt.Sprintf("%+.2f", tr.RealizedPnL),
			tr.Strategy.Kind.String(),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", fmt.Sprintf("%+.2f", total)})
	t.Render()
}

func stateLabel(snap engine.Snapshot) string {
	label := "🔴 DISABLED"
	if snap.State == engine.Enabled {
		label = "🟢 ENABLED"
	}
	if !snap.Confirmed {
		label += " (unsaved changes)"
	}
	return label
}

func onOff(b bool) string {
	if b {
		return "active"
	}
	return "inactive"
}

func optionalLevel(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

func flags(p portfolio.Position) string {
	var out []string
	if p.Stale {
		out = append(out, "stale")
	}
	switch p.Advisory {
	case portfolio.AdvisoryStopLoss:
		out = append(out, "⚠️ SL hit")
	case portfolio.AdvisoryTakeProfit:
		out = append(out, "🎯 TP hit")
	}
	return strings.Join(out, " ")
}
