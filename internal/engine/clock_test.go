package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogicalClock_StartsAtStart(t *testing.T) {
	c := NewLogicalClock(1000, 10)
	assert.Equal(t, int64(1000), c.Current(), "new clock should read its start")
}

func TestLogicalClock_Now_Incrementing(t *testing.T) {
	c := NewLogicalClock(1000, 10)

	assert.Equal(t, int64(1010), c.Now())
	assert.Equal(t, int64(1020), c.Now())
	assert.Equal(t, int64(1030), c.Now())

	assert.Equal(t, int64(1030), c.Current())
	assert.Equal(t, int64(1030), c.Current(), "Current should not advance")
}

func TestLogicalClock_ThreadSafe(t *testing.T) {
	c := NewLogicalClock(0, 1)
	const goroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	stamps := make(chan int64, goroutines*callsPerGoroutine)

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range callsPerGoroutine {
				stamps <- c.Now()
			}
		}()
	}

	wg.Wait()
	close(stamps)

	seen := make(map[int64]bool)
	for ts := range stamps {
		assert.False(t, seen[ts], "timestamp %d handed out twice", ts)
		seen[ts] = true
	}
	assert.Len(t, seen, goroutines*callsPerGoroutine)
	assert.Equal(t, int64(goroutines*callsPerGoroutine), c.Current())
}

func TestSystemClock_Now(t *testing.T) {
	before := time.Now().UnixMilli()
	got := SystemClock{}.Now()
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, got, before)
	assert.LessOrEqual(t, got, after)
}

func TestEngine_BlocksUseClock(t *testing.T) {
	clock := NewLogicalClock(5000, 100)
	e := newTestEngine(t, WithClock(clock))
	mod := publish(t, e, "echo")
	pid := spawn(t, e, mod, "")

	tx, err := e.Store().TxHeader(context.Background(), pid)
	assert.NoError(t, err)
	// The module took the first reading.
	assert.Equal(t, int64(5200), tx.Timestamp)
}
