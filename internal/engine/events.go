package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ducminhle1904/virtual-autotrader/internal/portfolio"
	"github.com/ducminhle1904/virtual-autotrader/internal/signal"
	"github.com/ducminhle1904/virtual-autotrader/internal/strategy"
)

// EventType names what happened
type EventType string

const (
	EventEngineStateChanged EventType = "engine_state_changed"
	EventDetectorChanged    EventType = "detector_changed"
	EventSignalProcessed    EventType = "signal_processed"
	EventPositionOpened     EventType = "position_opened"
	EventPositionRepriced   EventType = "position_repriced"
	EventPositionClosed     EventType = "position_closed"
	EventStrategyStaged     EventType = "strategy_staged"
	EventStrategyChanged    EventType = "strategy_changed"
	EventBalanceChanged     EventType = "balance_changed"
	EventDailyReset         EventType = "daily_reset"
)

// Shutdown reasons carried on EngineStateChanged
const (
	ReasonUser             = "user"
	ReasonDetectorInactive = "detector_inactive"
	ReasonRestore          = "restore"
)

// Event is published on the bus after a state change has been applied
type Event struct {
	Type     EventType              `json:"type"`
	Time     time.Time              `json:"time"`
	State    State                  `json:"state,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	Detector *bool                  `json:"detector,omitempty"`
	Decision *signal.Decision       `json:"decision,omitempty"`
	Position *portfolio.Position    `json:"position,omitempty"`
	Trade    *portfolio.ClosedTrade `json:"trade,omitempty"`
	Strategy *strategy.Strategy     `json:"strategy,omitempty"`
	Account  *portfolio.Account     `json:"account,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	closed  bool
	dropped uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that unsubscribes
func (b *Bus) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber with room for it
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			atomic.AddUint64(&b.dropped, 1)
		}
	}
}

// Dropped counts events lost to slow subscribers
func (b *Bus) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// Close closes every subscriber channel
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
