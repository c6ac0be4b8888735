package portfolio

import (
	"time"

	"github.com/ducminhle1904/virtual-autotrader/internal/strategy"
)

// Direction of a simulated position
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Advisory exit levels. They are reported, never enforced.
const (
	AdvisoryNone       = ""
	AdvisoryStopLoss   = "stop_loss"
	AdvisoryTakeProfit = "take_profit"
)

// Order is what the admission filter hands to the manager to open a position
type Order struct {
	Symbol     string
	Direction  Direction
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Confidence float64
}

// Position is one open simulated trade
type Position struct {
	ID                   string            `json:"id"`
	Symbol               string            `json:"symbol"`
	Direction            Direction         `json:"direction"`
	EntryPrice           float64           `json:"entry_price"`
	CurrentPrice         float64           `json:"current_price"`
	Size                 float64           `json:"size"`
	Principal            float64           `json:"principal"`
	UnrealizedPnL        float64           `json:"unrealized_pnl"`
	UnrealizedPnLPercent float64           `json:"unrealized_pnl_percent"`
	Confidence           float64           `json:"confidence"`
	Strategy             strategy.Strategy `json:"strategy"`
	OpenedAt             time.Time         `json:"opened_at"`
	StopLoss             float64           `json:"stop_loss"`
	TakeProfit           float64           `json:"take_profit"`
	Stale                bool              `json:"stale"`
	LastPricedAt         time.Time         `json:"last_priced_at"`
	Advisory             string            `json:"advisory,omitempty"`
}

// ClosedTrade is the journal record written when a position is settled
type ClosedTrade struct {
	Position
	ExitPrice   float64   `json:"exit_price"`
	RealizedPnL float64   `json:"realized_pnl"`
	ClosedAt    time.Time `json:"closed_at"`
}

// pnlAt computes profit/loss and its percent of the position's notional at price
func (p Position) pnlAt(price float64) (float64, float64) {
	var pnl float64
	if p.Direction == Short {
		pnl = (p.EntryPrice - price) * p.Size
	} else {
		pnl = (price - p.EntryPrice) * p.Size
	}
	notional := p.EntryPrice * p.Size
	if notional == 0 {
		return pnl, 0
	}
	return pnl, pnl / notional * 100
}

// AdvisoryAt reports whether price has crossed the stop-loss or take-profit
// level carried from the originating signal.
func (p Position) AdvisoryAt(price float64) string {
	switch p.Direction {
	case Short:
		if p.StopLoss > 0 && price >= p.StopLoss {
			return AdvisoryStopLoss
		}
		if p.TakeProfit > 0 && price <= p.TakeProfit {
			return AdvisoryTakeProfit
		}
	default:
		if p.StopLoss > 0 && price <= p.StopLoss {
			return AdvisoryStopLoss
		}
		if p.TakeProfit > 0 && price >= p.TakeProfit {
			return AdvisoryTakeProfit
		}
	}
	return AdvisoryNone
}
