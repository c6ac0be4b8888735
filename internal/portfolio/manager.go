package portfolio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	engerrors "github.com/ducminhle1904/virtual-autotrader/internal/errors"
	"github.com/ducminhle1904/virtual-autotrader/internal/strategy"
)

// Persister stores the ledger externally. Manager only commits a change
// in memory after SaveLedger succeeds.
type Persister interface {
	SaveLedger(ctx context.Context, account Account, positions []Position) error
}

// Option customizes a Manager
type Option func(*Manager)

// WithRiskFraction overrides the share of balance committed per trade
func WithRiskFraction(fraction float64) Option {
	return func(m *Manager) { m.riskFraction = fraction }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides position id generation
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// WithJournalLimit caps how many closed trades are kept in memory
func WithJournalLimit(limit int) Option {
	return func(m *Manager) { m.journalLimit = limit }
}

// Manager owns the open position set and the account ledger
type Manager struct {
	mu           sync.RWMutex
	account      Account
	positions    []Position
	closed       map[string]struct{}
	journal      []ClosedTrade
	journalLimit int
	persister    Persister
	riskFraction float64
	now          func() time.Time
	newID        func() string
}

// NewManager creates a manager from a previously persisted ledger.
// ActivePositions is re-derived from the positions given. Restored
// positions are stale until their first successful reprice.
func NewManager(account Account, positions []Position, persister Persister, opts ...Option) *Manager {
	m := &Manager{
		account:      account,
		positions:    append([]Position(nil), positions...),
		closed:       make(map[string]struct{}),
		journalLimit: 500,
		persister:    persister,
		riskFraction: DefaultRiskFraction,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	for i := range m.positions {
		m.positions[i].Stale = true
	}
	m.account.ActivePositions = len(m.positions)
	return m
}

// Account returns a copy of the ledger
func (m *Manager) Account() Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account
}

// Positions returns copies of the open positions in opening order
func (m *Manager) Positions() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Position(nil), m.positions...)
}

// Position returns a copy of one open position
func (m *Manager) Position(id string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexOf(id); i >= 0 {
		return m.positions[i], true
	}
	return Position{}, false
}

// HasPosition reports whether a position is open for symbol
func (m *Manager) HasPosition(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasSymbol(symbol)
}

// Journal returns the settled trades, oldest first
func (m *Manager) Journal() []ClosedTrade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ClosedTrade(nil), m.journal...)
}

// RiskAmount returns what the next open would commit at the current balance
func (m *Manager) RiskAmount() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account.Balance * m.riskFraction
}

// Open sizes and opens a position for order. The duplicate-symbol check
// runs under the same lock as the mutation.
func (m *Manager) Open(ctx context.Context, order Order, strat strategy.Strategy) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasSymbol(order.Symbol) {
		return Position{}, engerrors.NewAdmissionError("portfolio", "open",
			fmt.Sprintf("position already open for %s", order.Symbol), engerrors.ErrDuplicatePosition)
	}

	riskAmount := m.account.Balance * m.riskFraction
	if order.Entry <= 0 || math.IsNaN(order.Entry) || math.IsInf(order.Entry, 0) {
		return Position{}, engerrors.NewAdmissionError("portfolio", "open",
			fmt.Sprintf("entry price %v is not positive", order.Entry), engerrors.ErrInvalidEntry)
	}
	size := riskAmount / order.Entry
	if math.IsNaN(size) || math.IsInf(size, 0) || size <= 0 {
		return Position{}, engerrors.NewAdmissionError("portfolio", "open",
			fmt.Sprintf("computed size %v is not usable", size), engerrors.ErrInvalidEntry)
	}

	direction := order.Direction
	if direction == "" {
		direction = Long
	}
	now := m.now()
	pos := Position{
		ID:           m.newID(),
		Symbol:       order.Symbol,
		Direction:    direction,
		EntryPrice:   order.Entry,
		CurrentPrice: order.Entry,
		Size:         size,
		Principal:    riskAmount,
		Confidence:   order.Confidence,
		Strategy:     strat,
		OpenedAt:     now,
		StopLoss:     order.StopLoss,
		TakeProfit:   order.TakeProfit,
		LastPricedAt: now,
	}

	nextAccount := m.account.debit(riskAmount)
	nextPositions := append(append([]Position(nil), m.positions...), pos)
	if err := m.save(ctx, nextAccount, nextPositions); err != nil {
		return Position{}, err
	}

	m.account = nextAccount
	m.positions = nextPositions
	return pos, nil
}

// Reprice recomputes unrealized pnl for an open position. A non-finite or
// non-positive price keeps the previous price and marks the position stale.
// Unknown ids are ignored; the position may have closed meanwhile.
func (m *Manager) Reprice(id string, price float64) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return Position{}, false
	}
	pos := &m.positions[i]
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		pos.Stale = true
		return *pos, true
	}

	pos.CurrentPrice = price
	pos.UnrealizedPnL, pos.UnrealizedPnLPercent = pos.pnlAt(price)
	pos.Advisory = pos.AdvisoryAt(price)
	pos.Stale = false
	pos.LastPricedAt = m.now()
	return *pos, true
}

// MarkStale records a failed price refresh; the last price is kept
func (m *Manager) MarkStale(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(id); i >= 0 {
		m.positions[i].Stale = true
	}
}

// Checkpoint persists the ledger as it stands, repriced values included
func (m *Manager) Checkpoint(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.save(ctx, m.account, m.positions)
}

// Close realizes a position's pnl at its current price and removes it.
// Closing is irreversible; a closed id is never found again.
func (m *Manager) Close(ctx context.Context, id string) (ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return ClosedTrade{}, engerrors.NewValidationError("portfolio", "close",
			fmt.Sprintf("no open position %s", id), engerrors.ErrPositionNotFound)
	}
	pos := m.positions[i]
	pnl, _ := pos.pnlAt(pos.CurrentPrice)

	nextAccount := m.account.settle(pos.Principal, pnl)
	nextPositions := make([]Position, 0, len(m.positions)-1)
	nextPositions = append(nextPositions, m.positions[:i]...)
	nextPositions = append(nextPositions, m.positions[i+1:]...)
	if err := m.save(ctx, nextAccount, nextPositions); err != nil {
		return ClosedTrade{}, err
	}

	m.account = nextAccount
	m.positions = nextPositions
	m.closed[id] = struct{}{}

	trade := ClosedTrade{
		Position:    pos,
		ExitPrice:   pos.CurrentPrice,
		RealizedPnL: pnl,
		ClosedAt:    m.now(),
	}
	m.journal = append(m.journal, trade)
	if m.journalLimit > 0 && len(m.journal) > m.journalLimit {
		m.journal = m.journal[len(m.journal)-m.journalLimit:]
	}
	return trade, nil
}

// IsClosed reports whether id belonged to a position closed in this session
func (m *Manager) IsClosed(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.closed[id]
	return ok
}

// SetBalance replaces the virtual balance. Input below MinVirtualBalance,
// NaN or infinite is rejected before anything changes.
func (m *Manager) SetBalance(ctx context.Context, amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < MinVirtualBalance {
		return engerrors.NewValidationError("portfolio", "set_balance",
			fmt.Sprintf("balance must be at least %.2f", MinVirtualBalance), engerrors.ErrBelowMinimumBalance)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.account
	next.Balance = amount
	if err := m.save(ctx, next, m.positions); err != nil {
		return err
	}
	m.account = next
	return nil
}

// ResetDaily zeroes the daily pnl
func (m *Manager) ResetDaily(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.account
	next.DailyPnL = 0
	if err := m.save(ctx, next, m.positions); err != nil {
		return err
	}
	m.account = next
	return nil
}

// CheckInvariants verifies the ledger agrees with the open position set
func (m *Manager) CheckInvariants() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.account.ActivePositions != len(m.positions) {
		return fmt.Errorf("active positions %d != open positions %d", m.account.ActivePositions, len(m.positions))
	}
	if m.account.Balance < 0 || math.IsNaN(m.account.Balance) {
		return fmt.Errorf("balance %v is negative or NaN", m.account.Balance)
	}
	seen := make(map[string]struct{}, len(m.positions))
	for _, p := range m.positions {
		if _, dup := seen[p.Symbol]; dup {
			return fmt.Errorf("more than one open position for %s", p.Symbol)
		}
		seen[p.Symbol] = struct{}{}
	}
	return nil
}

func (m *Manager) save(ctx context.Context, account Account, positions []Position) error {
	if m.persister == nil {
		return nil
	}
	if err := m.persister.SaveLedger(ctx, account, append([]Position(nil), positions...)); err != nil {
		return engerrors.NewPersistenceError("portfolio", "save_ledger", err)
	}
	return nil
}

func (m *Manager) indexOf(id string) int {
	for i := range m.positions {
		if m.positions[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) hasSymbol(symbol string) bool {
	for i := range m.positions {
		if m.positions[i].Symbol == symbol {
			return true
		}
	}
	return false
}
