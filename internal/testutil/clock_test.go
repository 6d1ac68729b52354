package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/aosim/internal/engine"
)

var _ engine.Clock = (*DeterministicClock)(nil)

func TestDeterministicClock_BlockTimestamps(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Zero(t, clock.Current())

	first := clock.Now()
	assert.Equal(t, DefaultEpoch+DefaultStep, first)
	assert.Equal(t, "2024-01-01T00:00:01Z", time.UnixMilli(first).UTC().Format(time.RFC3339))
	assert.Equal(t, first+DefaultStep, clock.Now())
	assert.Equal(t, int64(2), clock.Current(), "Now counts as a reading")
}

func TestDeterministicClock_CustomEpoch(t *testing.T) {
	tests := []struct {
		name        string
		epoch, step int64
		want        []int64
	}{
		{"zero epoch", 0, 1, []int64{1, 2, 3}},
		{"one minute steps", 1_000, 60_000, []int64{61_000, 121_000, 181_000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewDeterministicClockAt(tt.epoch, tt.step)
			got := make([]int64, 0, len(tt.want))
			for range tt.want {
				got = append(got, clock.Now())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeterministicClock_ResetReplaysReadings(t *testing.T) {
	clock := NewDeterministicClock()
	first := []int64{clock.Now(), clock.Now(), clock.Next()}

	clock.Reset()
	assert.Zero(t, clock.Current())
	assert.Equal(t, first, []int64{clock.Now(), clock.Now(), clock.Next()})
}

func TestDeterministicClock_ConcurrentReadingsAreDistinct(t *testing.T) {
	clock := NewDeterministicClock()
	const readers, reads = 20, 50

	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range reads {
				ts := clock.Now()
				mu.Lock()
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, readers*reads)
	assert.Equal(t, int64(readers*reads), clock.Current())
}
