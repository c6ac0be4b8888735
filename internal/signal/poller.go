package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/virtual-autotrader/internal/logger"
	"github.com/ducminhle1904/virtual-autotrader/internal/monitoring"
	"github.com/ducminhle1904/virtual-autotrader/internal/safety"
)

// DefaultPollInterval is how often the poller asks the source for signals
const DefaultPollInterval = 30 * time.Second

// Poller periodically fetches signals from a Source. Fetches run on the
// poller's own goroutine, so a slow request delays the next tick instead
// of overlapping it.
type Poller struct {
	name     string
	source   Source
	request  Request
	interval time.Duration
	breaker  *safety.CircuitBreaker
	log      *logger.Logger
}

// PollerOption customizes a Poller
type PollerOption func(*Poller)

// WithBreaker replaces the default circuit breaker
func WithBreaker(cb *safety.CircuitBreaker) PollerOption {
	return func(p *Poller) { p.breaker = cb }
}

// WithPollerLogger sets the logger
func WithPollerLogger(l *logger.Logger) PollerOption {
	return func(p *Poller) { p.log = l }
}

func NewPoller(name string, source Source, request Request, interval time.Duration, opts ...PollerOption) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &Poller{
		name:     name,
		source:   source,
		request:  request,
		interval: interval,
		breaker:  safety.NewCircuitBreaker(name, safety.CircuitBreakerConfig{FailureThreshold: 5, Cooldown: 2 * time.Minute}),
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) Name() string { return p.name }

// Run polls immediately and then every interval until ctx is done
func (p *Poller) Run(ctx context.Context, deliver func(Signal)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx, deliver)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx, deliver)
		}
	}
}

func (p *Poller) poll(ctx context.Context, deliver func(Signal)) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("poll %s panicked: %v", p.name, r)
		}
	}()

	// The ticker may fire in the same instant ctx is cancelled
	if ctx.Err() != nil {
		return
	}

	var signals []Signal
	err := p.breaker.Call(func() error {
		var fetchErr error
		signals, fetchErr = p.source.Fetch(ctx, p.request)
		return fetchErr
	})
	if err != nil {
		if ctx.Err() == nil {
			monitoring.RecordFetchError(p.name)
			p.log.Debug("poll %s skipped: %v", p.name, err)
		}
		return
	}

	for _, sig := range signals {
		if ctx.Err() != nil {
			return
		}
		deliver(sig)
	}
}

func (p *Poller) String() string {
	return fmt.Sprintf("poller(%s every %s)", p.name, p.interval)
}
