package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe(4)
	b, unsubB := bus.Subscribe(4)
	defer unsubB()

	bus.Publish(Event{Type: EventDailyReset})
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	ev := <-a
	assert.Equal(t, EventDailyReset, ev.Type)
	assert.False(t, ev.Time.IsZero(), "publish stamps a missing time")

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)

	bus.Publish(Event{Type: EventBalanceChanged})
	assert.Len(t, b, 2)
}

func TestBusCountsDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			bus.Publish(Event{Type: EventSignalProcessed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(4), bus.Dropped())
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	bus.Close()
	bus.Close()
	unsub()

	_, open := <-ch
	assert.False(t, open)

	late, _ := bus.Subscribe(1)
	_, open = <-late
	assert.False(t, open, "subscribing after close yields a closed channel")
	bus.Publish(Event{Type: EventDailyReset})
}

func TestHistory(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		limit int
		adds  int
		want  int
	}{
		{name: "under limit", limit: 20, adds: 5, want: 5},
		{name: "at limit", limit: 20, adds: 20, want: 20},
		{name: "over limit", limit: 20, adds: 45, want: 20},
		{name: "non-positive limit uses default", limit: 0, adds: 30, want: DefaultHistoryLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHistory(tt.limit)
			for i := 0; i < tt.adds; i++ {
				h.Add(base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("entry %d", i))
			}
			entries := h.Entries()
			require.Len(t, entries, tt.want)
			assert.Equal(t, tt.want, h.Len())
			assert.Equal(t, fmt.Sprintf("entry %d", tt.adds-1), entries[0].Message, "most recent first")
			for i := 1; i < len(entries); i++ {
				assert.True(t, entries[i-1].Time.After(entries[i].Time))
			}
		})
	}
}

func TestHistoryEntriesAreCopies(t *testing.T) {
	h := NewHistory(5)
	h.Add(time.Now(), "first")
	entries := h.Entries()
	entries[0].Message = "changed"
	assert.Equal(t, "first", h.Entries()[0].Message)
}
