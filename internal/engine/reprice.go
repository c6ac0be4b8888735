package engine

import (
	"context"
	"sync"
	"time"

	"github.com/ducminhle1904/virtual-autotrader/internal/monitoring"
	"github.com/ducminhle1904/virtual-autotrader/internal/portfolio"
)

// repriceLoop refreshes prices every RepriceInterval until ctx ends. A
// cycle already running when ctx ends completes, but no new one starts.
func (e *Engine) repriceLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.RepriceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			e.RefreshPrices()
		}
	}
}

// RefreshPrices reprices every open position concurrently and returns how
// many got a fresh price. Each fetch has its own timeout; a slow or failing
// symbol only marks its own position stale.
func (e *Engine) RefreshPrices() int {
	if e.prices == nil {
		return 0
	}

	positions := e.manager.Positions()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		updated int
	)
	for _, pos := range positions {
		wg.Add(1)
		go func(pos portfolio.Position) {
			defer wg.Done()
			if e.repriceOne(pos) {
				mu.Lock()
				updated++
				mu.Unlock()
			}
		}(pos)
	}
	wg.Wait()

	if updated > 0 {
		e.checkpoint()
	}
	if e.health != nil {
		e.health.MarkReprice()
	}
	return updated
}

// checkpoint saves repriced positions so a restart resumes from the last
// known prices
func (e *Engine) checkpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PriceFetchTimeout)
	defer cancel()
	if err := e.manager.Checkpoint(ctx); err != nil {
		e.log.Warning("⚠️ could not persist repriced positions: %v", err)
	}
}

func (e *Engine) repriceOne(pos portfolio.Position) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("reprice %s panicked: %v", pos.Symbol, r)
			e.manager.MarkStale(pos.ID)
			ok = false
		}
	}()

	// Not derived from the run context: an in-flight cycle may finish
	// after the engine is disabled.
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PriceFetchTimeout)
	defer cancel()

	price, err := e.prices.Price(ctx, pos.Symbol)
	if err != nil {
		monitoring.RecordFetchError("price")
		e.log.Debug("price fetch for %s failed, keeping %.4f: %v", pos.Symbol, pos.CurrentPrice, err)
		e.manager.MarkStale(pos.ID)
		return false
	}

	repriced, found := e.manager.Reprice(pos.ID, price)
	if !found {
		// closed while the fetch was in flight
		return false
	}
	if repriced.Stale {
		e.log.Debug("rejected price %v for %s", price, pos.Symbol)
		return false
	}

	monitoring.UpdatePrice(repriced.Symbol, repriced.CurrentPrice)
	e.bus.Publish(Event{Type: EventPositionRepriced, Time: e.now(), Position: &repriced})
	return true
}
