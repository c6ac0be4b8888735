package signal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/virtual-autotrader/internal/safety"
)

type fakeSource struct {
	mu       sync.Mutex
	calls    int32
	inFlight int32
	maxSeen  int32
	delay    time.Duration
	err      error
	signals  []Signal
}

func (f *fakeSource) Fetch(ctx context.Context, _ Request) ([]Signal, error) {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	if n > f.maxSeen {
		f.maxSeen = n
	}
	delay, err, signals := f.delay, f.err, f.signals
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return signals, err
}

func (f *fakeSource) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

func TestPollerDeliversAndStops(t *testing.T) {
	src := &fakeSource{signals: []Signal{{Symbol: "ETH"}, {Symbol: "BTC"}}}
	p := NewPoller("test", src, Request{Symbols: []string{"ETH", "BTC"}}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var got []string
	done := make(chan error)
	go func() {
		done <- p.Run(ctx, func(s Signal) {
			mu.Lock()
			got = append(got, s.Symbol)
			mu.Unlock()
		})
	}()

	assert.Eventually(t, func() bool { return src.Calls() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	stopped := src.Calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, src.Calls(), "no fetches after cancellation")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ETH", "BTC"}, got[:2], "arrival order is preserved")
}

func TestPollerNeverOverlapsRequests(t *testing.T) {
	src := &fakeSource{delay: 30 * time.Millisecond}
	p := NewPoller("slow", src, Request{}, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx, func(Signal) {}))

	assert.Equal(t, int32(1), src.maxSeen)
	assert.GreaterOrEqual(t, src.Calls(), 2)
}

func TestPollerSkipsFailedCycles(t *testing.T) {
	src := &fakeSource{err: errors.New("unreachable")}
	cb := safety.NewCircuitBreaker("flaky", safety.CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Hour})
	p := NewPoller("flaky", src, Request{}, 5*time.Millisecond, WithBreaker(cb))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	delivered := 0
	require.NoError(t, p.Run(ctx, func(Signal) { delivered++ }))

	assert.Zero(t, delivered)
	assert.Equal(t, 3, src.Calls(), "breaker stops hammering a dead source")
	assert.Equal(t, safety.StateOpen, cb.State())
}

type panickingSource struct{ calls int32 }

func (p *panickingSource) Fetch(context.Context, Request) ([]Signal, error) {
	atomic.AddInt32(&p.calls, 1)
	panic("decoder bug")
}

func TestPollerRecoversFromPanics(t *testing.T) {
	src := &panickingSource{}
	p := NewPoller("panicky", src, Request{}, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx, func(Signal) {}))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&src.calls), int32(2))
}
