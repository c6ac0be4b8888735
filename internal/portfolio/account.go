package portfolio

import "math"

// MinVirtualBalance is the smallest balance a user may set directly
const MinVirtualBalance = 100.0

// DefaultRiskFraction is the share of the current balance committed per trade
const DefaultRiskFraction = 0.02

// Account is the virtual ledger. Only Manager mutates it; everything
// else receives copies.
type Account struct {
	Balance         float64 `json:"balance"`
	TotalPnL        float64 `json:"total_pnl"`
	DailyPnL        float64 `json:"daily_pnl"`
	TotalTrades     int     `json:"total_trades"`     // positions ever opened
	ClosedTrades    int     `json:"closed_trades"`    // positions settled
	WinningTrades   int     `json:"winning_trades"`   // settled with pnl > 0
	WinRate         float64 `json:"win_rate"`         // percent
	ActivePositions int     `json:"active_positions"` // == len(open positions)
}

// NewAccount creates a fresh ledger with the given balance
func NewAccount(balance float64) Account {
	return Account{Balance: balance}
}

func (a Account) debit(amount float64) Account {
	a.Balance -= amount
	a.TotalTrades++
	a.ActivePositions++
	return a
}

// settle credits principal plus realized pnl and folds the result into the
// running win rate. The balance floor is zero: a short can lose more than
// its principal.
func (a Account) settle(principal, pnl float64) Account {
	a.Balance = math.Max(0, a.Balance+principal+pnl)
	a.TotalPnL += pnl
	a.DailyPnL += pnl
	a.ActivePositions--

	win := 0.0
	if pnl > 0 {
		win = 1
		a.WinningTrades++
	}
	// ClosedTrades is never negative, so the denominator is at least 1
	settled := float64(a.ClosedTrades)
	a.WinRate = (settled*a.WinRate/100 + win) / (settled + 1) * 100
	a.ClosedTrades++
	return a
}
