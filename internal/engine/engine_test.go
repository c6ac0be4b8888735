package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/ducminhle1904/virtual-autotrader/internal/errors"
	"github.com/ducminhle1904/virtual-autotrader/internal/portfolio"
	"github.com/ducminhle1904/virtual-autotrader/internal/pricing"
	"github.com/ducminhle1904/virtual-autotrader/internal/settings"
	"github.com/ducminhle1904/virtual-autotrader/internal/signal"
	"github.com/ducminhle1904/virtual-autotrader/internal/strategy"
)

func newTestEngine(t *testing.T, store settings.Store, opts ...Option) *Engine {
	t.Helper()
	e, err := New(context.Background(), store, opts...)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Close)
	return e
}

func enabledEngine(t *testing.T, store settings.Store, opts ...Option) *Engine {
	t.Helper()
	e := newTestEngine(t, store, opts...)
	require.NoError(t, e.SetDetectorActive(context.Background(), true))
	require.NoError(t, e.Enable(context.Background()))
	return e
}

func ethSignal(confidence float64) signal.Signal {
	return signal.Signal{Symbol: "ETH", Action: signal.Buy, Confidence: confidence, Entry: 2000, StopLoss: 1900, TakeProfit: 2200}
}

// countingSource returns no signals and counts fetches
type countingSource struct{ calls int32 }

func (c *countingSource) Fetch(context.Context, signal.Request) ([]signal.Signal, error) {
	atomic.AddInt32(&c.calls, 1)
	return nil, nil
}

func (c *countingSource) Calls() int32 { return atomic.LoadInt32(&c.calls) }

// manualFeed hands its deliver function to the test
type manualFeed struct {
	mu      sync.Mutex
	deliver func(signal.Signal)
	running chan struct{}
}

func newManualFeed() *manualFeed { return &manualFeed{running: make(chan struct{}, 1)} }

func (m *manualFeed) Name() string { return "manual" }

func (m *manualFeed) Run(ctx context.Context, deliver func(signal.Signal)) error {
	m.mu.Lock()
	m.deliver = deliver
	m.mu.Unlock()
	m.running <- struct{}{}
	<-ctx.Done()
	return nil
}

func (m *manualFeed) push(sig signal.Signal) {
	m.mu.Lock()
	deliver := m.deliver
	m.mu.Unlock()
	deliver(sig)
}

func TestScenarioAggressiveETH(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore(settings.Defaults(1000))
	e := newTestEngine(t, store)

	require.NoError(t, e.SetDetectorActive(ctx, true))
	require.NoError(t, e.SelectStrategy(strategy.Aggressive))
	_, err := e.ConfirmStrategy(ctx)
	require.NoError(t, err)
	require.NoError(t, e.Enable(ctx))

	d := e.Submit(ctx, ethSignal(72))
	require.Equal(t, signal.OutcomeExecuted, d.Outcome)

	snap := e.Snapshot()
	require.Len(t, snap.Positions, 1)
	pos := snap.Positions[0]
	assert.Equal(t, "ETH", pos.Symbol)
	assert.InDelta(t, 0.01, pos.Size, 1e-12)
	assert.Equal(t, 1900.0, pos.StopLoss)
	assert.Equal(t, 2200.0, pos.TakeProfit)
	assert.Equal(t, strategy.Aggressive, pos.Strategy.Kind)
	assert.Equal(t, 980.0, snap.Account.Balance)
	assert.Equal(t, 1, snap.Account.TotalTrades)
	assert.Equal(t, 1, snap.Account.ActivePositions)
	require.NoError(t, e.CheckInvariants())

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 980.0, stored.VirtualBalance)
	assert.Len(t, stored.OpenPositions, 1)
}

func TestEnableRequiresDetector(t *testing.T) {
	store := settings.NewMemoryStore(settings.Defaults(1000))
	e := newTestEngine(t, store)

	err := e.Enable(context.Background())
	assert.ErrorIs(t, err, engerrors.ErrDetectorInactive)
	assert.Equal(t, engerrors.ErrorCategoryPrecondition, engerrors.CategoryOf(err))
	assert.Equal(t, Disabled, e.State())
	assert.Empty(t, e.History(), "precondition failures are not trading history")

	s, _ := store.Load(context.Background())
	assert.False(t, s.AutoTradingEnabled)
}

func TestEnablePersistenceFailureStaysDisabled(t *testing.T) {
	store := settings.NewMemoryStore(settings.Defaults(1000))
	src := &countingSource{}
	e := newTestEngine(t, store, WithFeeds(signal.NewPoller("poll", src, signal.Request{}, 5*time.Millisecond)))
	require.NoError(t, e.SetDetectorActive(context.Background(), true))

	store.FailNext(errors.New("store offline"))
	err := e.Enable(context.Background())
	assert.Equal(t, engerrors.ErrorCategoryPersistence, engerrors.CategoryOf(err))
	assert.Equal(t, Disabled, e.State())

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, src.Calls(), "no feed runs while disabled")
}

func TestDisabledEngineIgnoresSignalsSilently(t *testing.T) {
	e := newTestEngine(t, settings.NewMemoryStore(settings.Defaults(1000)))

	d := e.Submit(context.Background(), ethSignal(99))
	assert.Equal(t, signal.OutcomeIgnored, d.Outcome)
	assert.Empty(t, e.History())
	assert.Empty(t, e.Snapshot().Positions)
}

func TestAdmissionOutcomesAreLogged(t *testing.T) {
	ctx := context.Background()
	e := enabledEngine(t, settings.NewMemoryStore(settings.Defaults(1000)))

	assert.Equal(t, signal.OutcomeRejectedConfidence, e.Submit(ctx, ethSignal(84)).Outcome)
	assert.Equal(t, signal.OutcomeExecuted, e.Submit(ctx, ethSignal(85)).Outcome)
	assert.Equal(t, signal.OutcomeRejectedDuplicate, e.Submit(ctx, ethSignal(99)).Outcome)

	history := e.History()
	require.GreaterOrEqual(t, len(history), 3)
	assert.Contains(t, history[0].Message, "already open")
	assert.Contains(t, history[1].Message, "Opened")
	assert.Contains(t, history[2].Message, "short of the conservative strategy minimum of 85%")
}

func TestDetectorInactiveForcesShutdownAndStopsPolling(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore(settings.Defaults(1000))
	src := &countingSource{}
	e := newTestEngine(t, store, WithFeeds(signal.NewPoller("poll", src, signal.Request{}, 5*time.Millisecond)))

	events, unsubscribe := e.Bus().Subscribe(64)
	defer unsubscribe()

	require.NoError(t, e.SetDetectorActive(ctx, true))
	require.NoError(t, e.Enable(ctx))
	assert.Eventually(t, func() bool { return src.Calls() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.SetDetectorActive(ctx, false))
	assert.Equal(t, Disabled, e.State())

	time.Sleep(20 * time.Millisecond)
	stopped := src.Calls()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, stopped, src.Calls(), "no fetches after forced shutdown")

	s, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, s.AutoTradingEnabled)
	assert.False(t, s.SuperBrainMonitoring)

	var reasons []string
	for len(events) > 0 {
		ev := <-events
		if ev.Type == EventEngineStateChanged {
			reasons = append(reasons, fmt.Sprintf("%s/%s", ev.State, ev.Reason))
		}
	}
	assert.Equal(t, []string{"enabled/user", "disabled/detector_inactive"}, reasons)
}

func TestInFlightSignalsAreDroppedAfterDisable(t *testing.T) {
	ctx := context.Background()
	feed := newManualFeed()
	e := enabledEngine(t, settings.NewMemoryStore(settings.Defaults(1000)), WithFeeds(feed))
	<-feed.running

	feed.push(signal.Signal{Symbol: "BTC", Action: signal.Buy, Confidence: 90, Entry: 50000})
	require.Len(t, e.Snapshot().Positions, 1)

	require.NoError(t, e.Disable(ctx))
	before := len(e.History())

	// a delivery that was already in flight when the engine disabled
	feed.push(ethSignal(99))
	assert.Len(t, e.Snapshot().Positions, 1)
	assert.Len(t, e.History(), before)

	require.NoError(t, e.Enable(ctx))
	<-feed.running
	feed.push(ethSignal(99))
	assert.Len(t, e.Snapshot().Positions, 2, "the new epoch's deliver func is live")
}

func TestStaleEpochDeliveryAfterReenable(t *testing.T) {
	ctx := context.Background()
	feed := newManualFeed()
	e := enabledEngine(t, settings.NewMemoryStore(settings.Defaults(1000)), WithFeeds(feed))
	<-feed.running

	feed.mu.Lock()
	oldDeliver := feed.deliver
	feed.mu.Unlock()

	require.NoError(t, e.Disable(ctx))
	require.NoError(t, e.Enable(ctx))
	<-feed.running

	oldDeliver(ethSignal(99))
	assert.Empty(t, e.Snapshot().Positions)
}

func TestIdempotentReload(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore(settings.Defaults(1000))

	first, err := New(ctx, store)
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.SetDetectorActive(ctx, true))
	require.NoError(t, first.SelectStrategy(strategy.Aggressive))
	_, err = first.ConfirmStrategy(ctx)
	require.NoError(t, err)
	require.NoError(t, first.SetBalance(ctx, 1500))
	require.NoError(t, first.Enable(ctx))
	require.Equal(t, signal.OutcomeExecuted, first.Submit(ctx, ethSignal(75)).Outcome)
	want := first.Snapshot()
	first.Close()

	for i := 0; i < 2; i++ {
		reloaded := newTestEngine(t, store)
		got := reloaded.Snapshot()

		assert.Equal(t, want.State, got.State)
		assert.Equal(t, want.Detector, got.Detector)
		assert.Equal(t, want.Strategy, got.Strategy)
		assert.Equal(t, want.Account, got.Account)
		require.Len(t, got.Positions, len(want.Positions))
		for i, pos := range got.Positions {
			assert.True(t, pos.Stale, "restored positions wait for a fresh price")
			pos.Stale = false
			assert.Equal(t, want.Positions[i], pos)
		}
		assert.True(t, got.Confirmed)
		reloaded.Close()
	}
}

func TestReloadKeepsRepricedPnL(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore(settings.Defaults(1000))
	cfg := DefaultConfig()
	cfg.RepriceInterval = 0
	prices := pricing.NewStaticSource(map[string]float64{"ETH": 2100})

	first := enabledEngine(t, store, WithPriceSource(prices), WithConfig(cfg))
	require.Equal(t, signal.OutcomeExecuted, first.Submit(ctx, ethSignal(90)).Outcome)
	require.Equal(t, 1, first.RefreshPrices())
	first.Close()

	reloaded := newTestEngine(t, store, WithConfig(cfg))
	positions := reloaded.Snapshot().Positions
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.Equal(t, 2100.0, pos.CurrentPrice)
	assert.InDelta(t, 1.0, pos.UnrealizedPnL, 1e-9)
	assert.True(t, pos.Stale)

	trade, err := reloaded.ClosePosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, trade.RealizedPnL, 1e-9)
	assert.InDelta(t, 1001.0, reloaded.Snapshot().Account.Balance, 1e-9)
}

func TestSubmitAfterCloseIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore(settings.Defaults(1000))
	e := enabledEngine(t, store)
	e.Close()

	assert.Equal(t, Disabled, e.State())
	d := e.Submit(ctx, ethSignal(99))
	assert.Equal(t, signal.OutcomeIgnored, d.Outcome)
	assert.Empty(t, e.Snapshot().Positions)

	s, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, s.AutoTradingEnabled, "closing keeps the persisted flag")
}

func TestStartClearsEnabledFlagWithoutDetector(t *testing.T) {
	ctx := context.Background()
	initial := settings.Defaults(1000)
	initial.AutoTradingEnabled = true
	store := settings.NewMemoryStore(initial)

	e := newTestEngine(t, store)
	assert.Equal(t, Disabled, e.State())

	s, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, s.AutoTradingEnabled)
}

func TestDisablePersistenceFailureMarksUnconfirmed(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore(settings.Defaults(1000))
	e := enabledEngine(t, store)

	store.FailNext(errors.New("store offline"))
	err := e.Disable(ctx)
	require.Error(t, err)
	assert.Equal(t, Disabled, e.State(), "delivery stops even when the write fails")
	assert.False(t, e.Confirmed())
	assert.True(t, e.Settings().AutoTradingEnabled, "cache holds the last confirmed value")

	// the next successful write carries the pending flag
	require.NoError(t, e.SetBalance(ctx, 900))
	assert.True(t, e.Confirmed())
	s, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, s.AutoTradingEnabled)
	assert.Equal(t, 900.0, s.VirtualBalance)
}

func TestConfirmStrategyPersistenceFailureKeepsPrior(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore(settings.Defaults(1000))
	e := enabledEngine(t, store)

	require.NoError(t, e.SelectStrategy(strategy.Aggressive))
	store.FailNext(errors.New("store offline"))
	active, err := e.ConfirmStrategy(ctx)
	require.Error(t, err)
	assert.Equal(t, strategy.Conservative, active.Kind)
	assert.Equal(t, signal.OutcomeRejectedConfidence, e.Submit(ctx, ethSignal(72)).Outcome)

	snap := e.Snapshot()
	require.NotNil(t, snap.Staged)
	assert.Equal(t, strategy.Aggressive, snap.Staged.Kind)

	e.CancelStrategyChange()
	assert.Nil(t, e.Snapshot().Staged)

	_, err = e.ConfirmStrategy(ctx)
	assert.ErrorIs(t, err, engerrors.ErrNoStagedStrategy)
}

func TestStrategySwitchDoesNotTouchOpenPositions(t *testing.T) {
	ctx := context.Background()
	e := enabledEngine(t, settings.NewMemoryStore(settings.Defaults(1000)))
	require.Equal(t, signal.OutcomeExecuted, e.Submit(ctx, ethSignal(90)).Outcome)

	require.NoError(t, e.SelectStrategy(strategy.Aggressive))
	_, err := e.ConfirmStrategy(ctx)
	require.NoError(t, err)

	positions := e.Snapshot().Positions
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.Equal(t, strategy.Conservative, pos.Strategy.Kind)
	assert.Equal(t, 85, pos.Strategy.MinConfidence)
}

func TestSetBalanceValidation(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore(settings.Defaults(1000))
	e := newTestEngine(t, store)

	err := e.SetBalance(ctx, 50)
	assert.ErrorIs(t, err, engerrors.ErrBelowMinimumBalance)
	assert.Equal(t, 1000.0, e.Snapshot().Account.Balance)

	store.FailNext(errors.New("store offline"))
	require.Error(t, e.SetBalance(ctx, 500))
	assert.Equal(t, 1000.0, e.Snapshot().Account.Balance)

	require.NoError(t, e.SetBalance(ctx, 500))
	assert.Equal(t, 500.0, e.Snapshot().Account.Balance)
}

func TestRiskSizingTracksBalanceThroughEngine(t *testing.T) {
	ctx := context.Background()
	e := enabledEngine(t, settings.NewMemoryStore(settings.Defaults(1000)))

	d := e.Submit(ctx, ethSignal(90))
	require.Equal(t, signal.OutcomeExecuted, d.Outcome)
	assert.Equal(t, 20.0, d.Position.Principal)

	require.NoError(t, e.SetBalance(ctx, 500))
	d = e.Submit(ctx, signal.Signal{Symbol: "BTC", Action: signal.Buy, Confidence: 90, Entry: 100})
	require.Equal(t, signal.OutcomeExecuted, d.Outcome)
	assert.Equal(t, 10.0, d.Position.Principal)
}

func TestClosePositionSettlesLedger(t *testing.T) {
	ctx := context.Background()
	prices := pricing.NewStaticSource(map[string]float64{"ETH": 2100})
	e := enabledEngine(t, settings.NewMemoryStore(settings.Defaults(1000)), WithPriceSource(prices))

	d := e.Submit(ctx, ethSignal(90))
	require.Equal(t, signal.OutcomeExecuted, d.Outcome)
	require.Equal(t, 1, e.RefreshPrices())

	trade, err := e.ClosePosition(ctx, d.Position.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, trade.RealizedPnL, 1e-9)

	acct := e.Snapshot().Account
	assert.InDelta(t, 1001.0, acct.Balance, 1e-9)
	assert.Equal(t, 100.0, acct.WinRate)
	assert.Equal(t, 0, acct.ActivePositions)
	assert.Contains(t, e.History()[0].Message, "Closed long ETH")
	assert.Len(t, e.Journal(), 1)

	_, err = e.ClosePosition(ctx, d.Position.ID)
	assert.ErrorIs(t, err, engerrors.ErrPositionNotFound)
}

func TestRefreshPricesIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	prices := newSlowSource(map[string]float64{"ETH": 2100, "SOL": 110})
	prices.block("BTC")
	prices.fail("SOL")

	cfg := DefaultConfig()
	cfg.RepriceInterval = 0
	cfg.PriceFetchTimeout = 30 * time.Millisecond
	e := enabledEngine(t, settings.NewMemoryStore(settings.Defaults(1000)), WithPriceSource(prices), WithConfig(cfg))

	for _, sig := range []signal.Signal{
		ethSignal(90),
		{Symbol: "BTC", Action: signal.Buy, Confidence: 90, Entry: 50000},
		{Symbol: "SOL", Action: signal.Sell, Confidence: 90, Entry: 100},
	} {
		require.Equal(t, signal.OutcomeExecuted, e.Submit(ctx, sig).Outcome)
	}

	start := time.Now()
	assert.Equal(t, 1, e.RefreshPrices())
	assert.Less(t, time.Since(start), time.Second, "a hung fetch is bounded by its timeout")

	bySymbol := map[string]portfolio.Position{}
	for _, p := range e.Snapshot().Positions {
		bySymbol[p.Symbol] = p
	}
	assert.Equal(t, 2100.0, bySymbol["ETH"].CurrentPrice)
	assert.False(t, bySymbol["ETH"].Stale)
	assert.Equal(t, 50000.0, bySymbol["BTC"].CurrentPrice)
	assert.True(t, bySymbol["BTC"].Stale)
	assert.Equal(t, 100.0, bySymbol["SOL"].CurrentPrice)
	assert.True(t, bySymbol["SOL"].Stale)
}

func TestRepriceLoopStopsWithEngine(t *testing.T) {
	ctx := context.Background()
	prices := pricing.NewStaticSource(map[string]float64{"ETH": 2100})
	cfg := DefaultConfig()
	cfg.RepriceInterval = 5 * time.Millisecond
	e := enabledEngine(t, settings.NewMemoryStore(settings.Defaults(1000)), WithPriceSource(prices), WithConfig(cfg))
	require.Equal(t, signal.OutcomeExecuted, e.Submit(ctx, ethSignal(90)).Outcome)

	assert.Eventually(t, func() bool { return prices.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	positions := e.Snapshot().Positions
	require.Len(t, positions, 1)
	assert.Equal(t, 2100.0, positions[0].CurrentPrice)

	require.NoError(t, e.Disable(ctx))
	time.Sleep(20 * time.Millisecond)
	stopped := prices.Calls()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, prices.Calls())
}

func TestHistoryIsBoundedThroughEngine(t *testing.T) {
	ctx := context.Background()
	e := enabledEngine(t, settings.NewMemoryStore(settings.Defaults(1000)))

	for i := 0; i < 30; i++ {
		e.Submit(ctx, signal.Signal{Symbol: fmt.Sprintf("C%d", i), Action: signal.Buy, Confidence: 10, Entry: 1})
	}
	history := e.History()
	assert.Len(t, history, DefaultHistoryLimit)
	assert.Contains(t, history[0].Message, "C29")
}

func TestResetDaily(t *testing.T) {
	ctx := context.Background()
	prices := pricing.NewStaticSource(map[string]float64{"ETH": 1900})
	e := enabledEngine(t, settings.NewMemoryStore(settings.Defaults(1000)), WithPriceSource(prices))

	d := e.Submit(ctx, ethSignal(90))
	e.RefreshPrices()
	_, err := e.ClosePosition(ctx, d.Position.ID)
	require.NoError(t, err)
	require.Less(t, e.Snapshot().Account.DailyPnL, 0.0)

	require.NoError(t, e.ResetDaily(ctx))
	assert.Zero(t, e.Snapshot().Account.DailyPnL)
	assert.Less(t, e.Snapshot().Account.TotalPnL, 0.0)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyResetSpec = "every tuesday"
	_, err := New(context.Background(), settings.NewMemoryStore(settings.Defaults(1000)), WithConfig(cfg))
	assert.Error(t, err)
}

// slowSource blocks or fails chosen symbols
type slowSource struct {
	*pricing.StaticSource
	mu      sync.Mutex
	blocked map[string]bool
}

func newSlowSource(prices map[string]float64) *slowSource {
	return &slowSource{StaticSource: pricing.NewStaticSource(prices), blocked: map[string]bool{}}
}

func (s *slowSource) block(symbol string) {
	s.mu.Lock()
	s.blocked[symbol] = true
	s.mu.Unlock()
}

func (s *slowSource) fail(symbol string) {
	s.StaticSource.Fail(symbol, errors.New("upstream 503"))
}

func (s *slowSource) Price(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	blocked := s.blocked[symbol]
	s.mu.Unlock()
	if blocked {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.StaticSource.Price(ctx, symbol)
}
