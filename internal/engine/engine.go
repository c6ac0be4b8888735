package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	engerrors "github.com/ducminhle1904/virtual-autotrader/internal/errors"
	"github.com/ducminhle1904/virtual-autotrader/internal/logger"
	"github.com/ducminhle1904/virtual-autotrader/internal/monitoring"
	"github.com/ducminhle1904/virtual-autotrader/internal/portfolio"
	"github.com/ducminhle1904/virtual-autotrader/internal/pricing"
	"github.com/ducminhle1904/virtual-autotrader/internal/settings"
	"github.com/ducminhle1904/virtual-autotrader/internal/signal"
	"github.com/ducminhle1904/virtual-autotrader/internal/strategy"
)

// State of the engine controller
type State string

const (
	Disabled State = "disabled"
	Enabled  State = "enabled"
)

// Config tunes the engine's background work
type Config struct {
	RepriceInterval   time.Duration
	PriceFetchTimeout time.Duration
	HistoryLimit      int
	DailyResetSpec    string // six-field cron spec, evaluated in UTC
	RiskFraction      float64
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		RepriceInterval:   10 * time.Second,
		PriceFetchTimeout: 5 * time.Second,
		HistoryLimit:      DefaultHistoryLimit,
		DailyResetSpec:    "0 0 0 * * *",
		RiskFraction:      portfolio.DefaultRiskFraction,
	}
}

// Option customizes an Engine
type Option func(*Engine)

// WithConfig replaces the default configuration
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithFeeds registers the signal feeds started while enabled
func WithFeeds(feeds ...signal.Feed) Option {
	return func(e *Engine) { e.feeds = append(e.feeds, feeds...) }
}

// WithPriceSource sets the source used by the reprice loop
func WithPriceSource(src pricing.Source) Option {
	return func(e *Engine) { e.prices = src }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithHealth reports feed and reprice liveness to h
func WithHealth(h *monitoring.HealthChecker) Option {
	return func(e *Engine) { e.health = h }
}

// WithBus publishes events on an existing bus
func WithBus(b *Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Snapshot is a read-only view of the engine
type Snapshot struct {
	State     State                `json:"state"`
	Detector  bool                 `json:"detector_active"`
	Strategy  strategy.Strategy    `json:"strategy"`
	Staged    *strategy.Strategy   `json:"staged_strategy,omitempty"`
	Account   portfolio.Account    `json:"account"`
	Positions []portfolio.Position `json:"positions"`
	History   []HistoryEntry       `json:"history"`
	Confirmed bool                 `json:"settings_confirmed"`
}

// Engine gates signal intake on the enabled state and owns the
// position manager, strategy selector and background loops.
type Engine struct {
	// mu serializes lifecycle transitions and signal processing
	mu        sync.Mutex
	epoch     uint64
	baseCtx   context.Context
	cancelRun context.CancelFunc
	started   bool
	wg        sync.WaitGroup

	stateMu  sync.RWMutex
	state    State
	detector bool

	// settingsMu guards the cached copy of the last confirmed settings
	settingsMu      sync.Mutex
	cached          settings.Settings
	confirmed       bool
	pendingEnabled  *bool
	pendingDetector *bool

	store    settings.Store
	manager  *portfolio.Manager
	selector *strategy.Selector
	filter   *signal.Filter
	history  *History
	bus      *Bus
	feeds    []signal.Feed
	prices   pricing.Source
	health   *monitoring.HealthChecker
	cron     *cron.Cron
	log      *logger.Logger
	cfg      Config
	now      func() time.Time
}

// New builds an engine from the persisted settings. The engine starts
// Disabled; Start restores the persisted enabled flag.
func New(ctx context.Context, store settings.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		baseCtx: context.Background(),
		state:   Disabled,
		store:   store,
		log:     logger.NewNop(),
		cfg:     DefaultConfig(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = NewBus()
	}
	if e.cfg.RiskFraction <= 0 {
		e.cfg.RiskFraction = portfolio.DefaultRiskFraction
	}
	if e.cfg.PriceFetchTimeout <= 0 {
		e.cfg.PriceFetchTimeout = DefaultConfig().PriceFetchTimeout
	}
	if e.cfg.DailyResetSpec == "" {
		e.cfg.DailyResetSpec = DefaultConfig().DailyResetSpec
	}

	s, err := store.Load(ctx)
	if err != nil {
		return nil, engerrors.NewPersistenceError("engine", "load_settings", err)
	}
	e.cached = s.Clone()
	e.confirmed = true
	e.detector = s.SuperBrainMonitoring

	account := s.Account
	account.Balance = s.VirtualBalance
	e.manager = portfolio.NewManager(account, s.OpenPositions, e,
		portfolio.WithRiskFraction(e.cfg.RiskFraction),
		portfolio.WithClock(e.now),
	)
	e.selector = strategy.NewSelector(s.Strategy())
	e.filter = signal.NewFilter(e.manager)
	e.history = NewHistory(e.cfg.HistoryLimit)

	e.cron = cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))
	if _, err := e.cron.AddFunc(e.cfg.DailyResetSpec, e.dailyReset); err != nil {
		return nil, fmt.Errorf("invalid daily reset schedule %q: %w", e.cfg.DailyResetSpec, err)
	}

	acct := e.manager.Account()
	monitoring.UpdateLedger(acct.Balance, acct.WinRate, acct.ActivePositions)
	monitoring.SetEngineEnabled(false)
	return e, nil
}

// Start launches the scheduler and restores the persisted enabled flag.
// A persisted enabled flag without an active detector is cleared.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.baseCtx = ctx
	if !e.started {
		e.cron.Start()
		e.started = true
	}

	e.settingsMu.Lock()
	wantEnabled := e.cached.AutoTradingEnabled
	e.settingsMu.Unlock()
	if !wantEnabled || e.State() == Enabled {
		return nil
	}

	if e.DetectorActive() {
		e.startLocked()
		e.setState(Enabled, ReasonRestore)
		return nil
	}

	disabled := false
	patch := settings.Patch{AutoTradingEnabled: &disabled}
	if err := e.persist(ctx, patch); err != nil {
		e.markUnconfirmed(patch)
		return engerrors.NewPersistenceError("engine", "start", err)
	}
	e.log.Warning("⚠️ Auto-trading was enabled but the signal detector is inactive; staying disabled")
	return nil
}

// Close stops feeds, the reprice loop and the scheduler, and stops
// admitting signals. The persisted enabled flag is left as is so a restart
// resumes trading.
func (e *Engine) Close() {
	e.mu.Lock()
	e.stopLocked()
	started := e.started
	e.started = false
	e.stateMu.Lock()
	e.state = Disabled
	e.stateMu.Unlock()
	monitoring.SetEngineEnabled(false)
	e.mu.Unlock()

	if started {
		<-e.cron.Stop().Done()
	}
	e.wg.Wait()
}

// Enable turns signal intake on. It fails without state change when the
// detector is inactive or the enabled flag cannot be persisted.
func (e *Engine) Enable(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() == Enabled {
		return nil
	}
	if !e.DetectorActive() {
		return engerrors.NewPreconditionError("engine", "enable",
			"signal detector is not active", engerrors.ErrDetectorInactive)
	}

	enabled := true
	if err := e.persist(ctx, settings.Patch{AutoTradingEnabled: &enabled}); err != nil {
		e.log.Warning("Enable not applied: %v", err)
		return engerrors.NewPersistenceError("engine", "enable", err)
	}

	e.startLocked()
	e.setState(Enabled, ReasonUser)
	return nil
}

// Disable stops signal delivery before anything else. If the flag cannot
// be persisted the engine stays disabled and settings are marked unconfirmed.
func (e *Engine) Disable(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() == Disabled {
		return nil
	}
	e.stopLocked()
	e.setState(Disabled, ReasonUser)

	disabled := false
	patch := settings.Patch{AutoTradingEnabled: &disabled}
	if err := e.persist(ctx, patch); err != nil {
		e.markUnconfirmed(patch)
		e.log.Warning("Disable could not be persisted: %v", err)
		return engerrors.NewPersistenceError("engine", "disable", err)
	}
	return nil
}

// SetDetectorActive records the external detector flag. The detector
// going inactive while enabled forces a shutdown; that is not an error.
func (e *Engine) SetDetectorActive(ctx context.Context, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := e.setDetector(active)
	patch := settings.Patch{SuperBrainMonitoring: &active}
	if !active && e.State() == Enabled {
		e.stopLocked()
		e.setState(Disabled, ReasonDetectorInactive)
		disabled := false
		patch.AutoTradingEnabled = &disabled
	}
	if changed {
		e.bus.Publish(Event{Type: EventDetectorChanged, Time: e.now(), Detector: &active})
	}

	if err := e.persist(ctx, patch); err != nil {
		e.markUnconfirmed(patch)
		return engerrors.NewPersistenceError("engine", "set_detector", err)
	}
	return nil
}

// Submit runs a pushed signal through the admission filter
func (e *Engine) Submit(ctx context.Context, sig signal.Signal) signal.Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processLocked(ctx, sig, e.epoch, "push")
}

// SelectStrategy stages a strategy change
func (e *Engine) SelectStrategy(kind strategy.Kind) error {
	if err := e.selector.Select(kind); err != nil {
		return err
	}
	staged := e.selector.Selected()
	e.bus.Publish(Event{Type: EventStrategyStaged, Time: e.now(), Strategy: &staged})
	return nil
}

// ConfirmStrategy persists and activates the staged strategy. Signals
// are not processed while the switch is in progress.
func (e *Engine) ConfirmStrategy(ctx context.Context) (strategy.Strategy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.selector.Active()
	active, err := e.selector.Confirm(ctx, func(ctx context.Context, kind strategy.Kind) error {
		return e.persist(ctx, settings.Patch{TradingStrategy: &kind})
	})
	if errors.Is(err, engerrors.ErrNoStagedStrategy) {
		return active, err
	}
	if err != nil {
		e.log.Warning("Strategy change not applied: %v", err)
		return active, engerrors.NewPersistenceError("engine", "confirm_strategy", err)
	}

	e.history.Add(e.now(), fmt.Sprintf("Strategy changed from %s to %s", prev.Kind, active.Kind))
	e.log.Status("Strategy is now %s", active)
	e.bus.Publish(Event{Type: EventStrategyChanged, Time: e.now(), Strategy: &active})
	return active, nil
}

// CancelStrategyChange discards a staged strategy
func (e *Engine) CancelStrategyChange() {
	e.selector.Cancel()
	active := e.selector.Active()
	e.bus.Publish(Event{Type: EventStrategyStaged, Time: e.now(), Strategy: &active})
}

// SetBalance replaces the virtual balance
func (e *Engine) SetBalance(ctx context.Context, amount float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.manager.SetBalance(ctx, amount); err != nil {
		return err
	}
	acct := e.manager.Account()
	e.history.Add(e.now(), fmt.Sprintf("Virtual balance set to %.2f", amount))
	monitoring.UpdateLedger(acct.Balance, acct.WinRate, acct.ActivePositions)
	e.bus.Publish(Event{Type: EventBalanceChanged, Time: e.now(), Account: &acct})
	return nil
}

// ClosePosition realizes an open position at its current price
func (e *Engine) ClosePosition(ctx context.Context, id string) (portfolio.ClosedTrade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	trade, err := e.manager.Close(ctx, id)
	if err != nil {
		return trade, err
	}

	acct := e.manager.Account()
	msg := fmt.Sprintf("Closed %s %s @ %.2f, pnl %+.2f", trade.Direction, trade.Symbol, trade.ExitPrice, trade.RealizedPnL)
	e.history.Add(e.now(), msg)
	e.log.Trade("%s (balance %.2f, win rate %.1f%%)", msg, acct.Balance, acct.WinRate)
	monitoring.RecordClose(trade.Symbol, trade.RealizedPnL)
	monitoring.UpdateLedger(acct.Balance, acct.WinRate, acct.ActivePositions)
	e.bus.Publish(Event{Type: EventPositionClosed, Time: e.now(), Trade: &trade, Account: &acct})
	return trade, nil
}

// ResetDaily zeroes the daily pnl
func (e *Engine) ResetDaily(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.manager.ResetDaily(ctx); err != nil {
		return err
	}
	acct := e.manager.Account()
	e.bus.Publish(Event{Type: EventDailyReset, Time: e.now(), Account: &acct})
	return nil
}

func (e *Engine) dailyReset() {
	if err := e.ResetDaily(e.baseCtx); err != nil {
		e.log.LogError("daily reset", err)
		return
	}
	e.log.Status("Daily pnl reset")
}

// SaveLedger implements portfolio.Persister by writing the ledger through
// the settings store
func (e *Engine) SaveLedger(ctx context.Context, account portfolio.Account, positions []portfolio.Position) error {
	return e.persist(ctx, settings.LedgerPatch(account, positions))
}

// Snapshot returns a read-only view of the engine
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		State:     e.State(),
		Detector:  e.DetectorActive(),
		Strategy:  e.selector.Active(),
		Account:   e.manager.Account(),
		Positions: e.manager.Positions(),
		History:   e.history.Entries(),
		Confirmed: e.Confirmed(),
	}
	if staged, ok := e.selector.Staged(); ok {
		snap.Staged = &staged
	}
	return snap
}

func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

func (e *Engine) DetectorActive() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.detector
}

// Confirmed is false while an in-memory change has not been persisted
func (e *Engine) Confirmed() bool {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	return e.confirmed
}

// Settings returns the last confirmed settings copy
func (e *Engine) Settings() settings.Settings {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	return e.cached.Clone()
}

func (e *Engine) Bus() *Bus { return e.bus }

func (e *Engine) History() []HistoryEntry { return e.history.Entries() }

// Journal returns trades closed in this session, oldest first
func (e *Engine) Journal() []portfolio.ClosedTrade { return e.manager.Journal() }

func (e *Engine) CheckInvariants() error { return e.manager.CheckInvariants() }

// startLocked opens a new delivery epoch and launches feeds and the
// reprice loop. Caller holds e.mu.
func (e *Engine) startLocked() {
	e.epoch++
	epoch := e.epoch
	runCtx, cancel := context.WithCancel(e.baseCtx)
	e.cancelRun = cancel

	for _, feed := range e.feeds {
		e.wg.Add(1)
		go e.runFeed(runCtx, feed, epoch)
	}
	if e.prices != nil && e.cfg.RepriceInterval > 0 {
		e.wg.Add(1)
		go e.repriceLoop(runCtx)
	}
}

// stopLocked ends the current epoch; deliveries already in flight are
// dropped when they reach the filter. Caller holds e.mu.
func (e *Engine) stopLocked() {
	e.epoch++
	if e.cancelRun != nil {
		e.cancelRun()
		e.cancelRun = nil
	}
}

func (e *Engine) runFeed(ctx context.Context, feed signal.Feed, epoch uint64) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("feed %s panicked: %v", feed.Name(), r)
		}
	}()

	if e.health != nil {
		e.health.SetFeed(feed.Name(), true)
	}
	err := feed.Run(ctx, func(sig signal.Signal) {
		e.deliver(ctx, sig, epoch, feed.Name())
	})

	if e.health == nil {
		return
	}
	if ctx.Err() != nil {
		e.health.RemoveFeed(feed.Name())
		return
	}
	e.health.SetFeed(feed.Name(), false)
	e.log.Warning("feed %s stopped: %v", feed.Name(), err)
}

func (e *Engine) deliver(ctx context.Context, sig signal.Signal, epoch uint64, source string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processLocked(ctx, sig, epoch, source)
}

// processLocked evaluates sig against the state at this instant. Signals
// from an ended epoch see the engine as disabled. Caller holds e.mu.
func (e *Engine) processLocked(ctx context.Context, sig signal.Signal, epoch uint64, source string) signal.Decision {
	live := e.State() == Enabled && epoch == e.epoch
	decision := e.filter.Evaluate(ctx, sig, live, e.selector.Active())

	monitoring.RecordSignal(string(decision.Outcome))
	if !decision.Outcome.Logged() {
		return decision
	}
	if e.health != nil {
		e.health.MarkSignal()
	}
	e.history.Add(e.now(), decision.Reason)

	switch decision.Outcome {
	case signal.OutcomeExecuted:
		acct := e.manager.Account()
		pos := *decision.Position
		e.log.Trade("✅ %s via %s (balance %.2f)", decision.Reason, source, acct.Balance)
		monitoring.RecordOpen(pos.Symbol, string(pos.Direction))
		monitoring.UpdateLedger(acct.Balance, acct.WinRate, acct.ActivePositions)
		e.bus.Publish(Event{Type: EventPositionOpened, Time: e.now(), Position: &pos, Account: &acct})
	case signal.OutcomeFailed:
		e.log.Error("%s", decision.Reason)
	default:
		e.log.Info("%s via %s", decision.Reason, source)
	}

	d := decision
	e.bus.Publish(Event{Type: EventSignalProcessed, Time: e.now(), Decision: &d})
	return decision
}

func (e *Engine) setState(state State, reason string) {
	e.stateMu.Lock()
	e.state = state
	e.stateMu.Unlock()

	var msg string
	switch {
	case state == Enabled && reason == ReasonRestore:
		msg = fmt.Sprintf("Auto-trading resumed with %s strategy", e.selector.Active().Kind)
	case state == Enabled:
		msg = fmt.Sprintf("Auto-trading enabled with %s strategy", e.selector.Active().Kind)
	case reason == ReasonDetectorInactive:
		msg = "Auto-trading stopped: signal detector went inactive"
	default:
		msg = "Auto-trading disabled"
	}

	e.history.Add(e.now(), msg)
	e.log.Status("%s", msg)
	monitoring.SetEngineEnabled(state == Enabled)
	e.bus.Publish(Event{Type: EventEngineStateChanged, Time: e.now(), State: state, Reason: reason})
}

func (e *Engine) setDetector(active bool) bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	changed := e.detector != active
	e.detector = active
	return changed
}

// persist writes patch, folding in any fields a previous failed write
// left unconfirmed. The cache only changes after the store accepts it.
func (e *Engine) persist(ctx context.Context, patch settings.Patch) error {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()

	if patch.AutoTradingEnabled == nil && e.pendingEnabled != nil {
		patch.AutoTradingEnabled = e.pendingEnabled
	}
	if patch.SuperBrainMonitoring == nil && e.pendingDetector != nil {
		patch.SuperBrainMonitoring = e.pendingDetector
	}

	if err := e.store.Update(ctx, patch); err != nil {
		if e.health != nil {
			e.health.RecordError(err.Error())
		}
		return err
	}
	e.cached = e.cached.Apply(patch, e.now())
	e.pendingEnabled, e.pendingDetector = nil, nil
	e.confirmed = true
	if e.health != nil {
		e.health.ClearErrors()
	}
	return nil
}

// markUnconfirmed records fields that changed in memory but not in the store
func (e *Engine) markUnconfirmed(patch settings.Patch) {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	if patch.AutoTradingEnabled != nil {
		v := *patch.AutoTradingEnabled
		e.pendingEnabled = &v
	}
	if patch.SuperBrainMonitoring != nil {
		v := *patch.SuperBrainMonitoring
		e.pendingDetector = &v
	}
	e.confirmed = false
}
