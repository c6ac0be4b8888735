package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/virtual-autotrader/internal/engine"
	"github.com/ducminhle1904/virtual-autotrader/internal/logger"
)

// Relay turns engine events into alerts
type Relay struct {
	notifier Notifier
	log      *logger.Logger
	timeout  time.Duration
}

func NewRelay(n Notifier, log *logger.Logger) *Relay {
	if log == nil {
		log = logger.NewNop()
	}
	return &Relay{notifier: n, log: log, timeout: 10 * time.Second}
}

// Run forwards alerts until ctx ends or events is closed. A failed send is
// logged and the relay moves on.
func (r *Relay) Run(ctx context.Context, events <-chan engine.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			level, msg, notify := Describe(ev)
			if !notify {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
			if err := r.notifier.SendAlert(sendCtx, level, msg); err != nil {
				r.log.Warning("alert not delivered: %v", err)
			}
			cancel()
		}
	}
}

// Describe reports whether ev deserves an alert, and with what text
func Describe(ev engine.Event) (level, message string, notify bool) {
	switch ev.Type {
	case engine.EventEngineStateChanged:
		switch {
		case ev.Reason == engine.ReasonDetectorInactive:
			return LevelWarning, "Auto-trading stopped: the signal detector went inactive", true
		case ev.State == engine.Enabled && ev.Reason == engine.ReasonRestore:
			return LevelInfo, "Auto-trading resumed after restart", true
		case ev.State == engine.Enabled:
			return LevelInfo, "Auto-trading enabled", true
		default:
			return LevelInfo, "Auto-trading disabled", true
		}
	case engine.EventPositionOpened:
		if ev.Position == nil {
			return "", "", false
		}
		p := ev.Position
		return LevelSuccess, fmt.Sprintf("Opened %s %s @ %.2f\nSize: %.6f\nStrategy: %s",
			p.Direction, p.Symbol, p.EntryPrice, p.Size, p.Strategy.Kind), true
	case engine.EventPositionClosed:
		if ev.Trade == nil {
			return "", "", false
		}
		tr := ev.Trade
		level = LevelSuccess
		if tr.RealizedPnL < 0 {
			level = LevelWarning
		}
		return level, fmt.Sprintf("Closed %s %s @ %.2f\nPnL: %+.2f",
			tr.Direction, tr.Symbol, tr.ExitPrice, tr.RealizedPnL), true
	case engine.EventStrategyChanged:
		if ev.Strategy == nil {
			return "", "", false
		}
		return LevelInfo, fmt.Sprintf("Strategy changed to %s", ev.Strategy.Kind), true
	}
	return "", "", false
}
