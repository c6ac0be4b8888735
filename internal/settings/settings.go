package settings

import (
	"context"
	"time"

	"github.com/ducminhle1904/virtual-autotrader/internal/portfolio"
	"github.com/ducminhle1904/virtual-autotrader/internal/strategy"
)

// Settings is everything the engine needs to rebuild itself on reload.
// VirtualBalance and Account.Balance always agree.
type Settings struct {
	VirtualBalance       float64              `json:"virtual_balance"`
	TradingStrategy      strategy.Kind        `json:"trading_strategy"`
	AutoTradingEnabled   bool                 `json:"auto_trading_enabled"`
	SuperBrainMonitoring bool                 `json:"super_brain_monitoring"`
	Account              portfolio.Account    `json:"account"`
	OpenPositions        []portfolio.Position `json:"open_positions"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// Patch is a partial update; nil fields are left untouched
type Patch struct {
	VirtualBalance       *float64
	TradingStrategy      *strategy.Kind
	AutoTradingEnabled   *bool
	SuperBrainMonitoring *bool
	Account              *portfolio.Account
	OpenPositions        *[]portfolio.Position
}

// Store loads and updates persisted settings
type Store interface {
	Load(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, patch Patch) error
}

// Defaults returns first-run settings for a new user
func Defaults(initialBalance float64) Settings {
	return Settings{
		VirtualBalance:  initialBalance,
		TradingStrategy: strategy.Default().Kind,
		Account:         portfolio.NewAccount(initialBalance),
		OpenPositions:   []portfolio.Position{},
	}
}

// Apply returns a copy of s with patch applied
func (s Settings) Apply(patch Patch, now time.Time) Settings {
	out := s.Clone()
	if patch.Account != nil {
		out.Account = *patch.Account
		out.VirtualBalance = patch.Account.Balance
	}
	if patch.VirtualBalance != nil {
		out.VirtualBalance = *patch.VirtualBalance
		out.Account.Balance = *patch.VirtualBalance
	}
	if patch.TradingStrategy != nil {
		out.TradingStrategy = *patch.TradingStrategy
	}
	if patch.AutoTradingEnabled != nil {
		out.AutoTradingEnabled = *patch.AutoTradingEnabled
	}
	if patch.SuperBrainMonitoring != nil {
		out.SuperBrainMonitoring = *patch.SuperBrainMonitoring
	}
	if patch.OpenPositions != nil {
		out.OpenPositions = append([]portfolio.Position{}, (*patch.OpenPositions)...)
	}
	out.UpdatedAt = now
	return out
}

// Clone deep-copies the position slice
func (s Settings) Clone() Settings {
	out := s
	out.OpenPositions = append([]portfolio.Position{}, s.OpenPositions...)
	return out
}

// Strategy resolves the persisted strategy kind, falling back to the default
func (s Settings) Strategy() strategy.Strategy {
	if strat, ok := strategy.Lookup(s.TradingStrategy); ok {
		return strat
	}
	return strategy.Default()
}

// LedgerPatch builds the patch written after every ledger mutation
func LedgerPatch(account portfolio.Account, positions []portfolio.Position) Patch {
	positions = append([]portfolio.Position{}, positions...)
	return Patch{Account: &account, OpenPositions: &positions}
}
