package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aosim/internal/engine"
)

var _ engine.FlowTokenGenerator = (*FixedFlowGenerator)(nil)

func TestFixedFlowGenerator_NumbersTokens(t *testing.T) {
	gen := NewFixedFlowGenerator("counter")

	assert.Equal(t, "counter-0001", gen.Generate())
	assert.Equal(t, "counter-0002", gen.Generate())
	assert.Equal(t, "counter-0003", gen.Generate())
	assert.Equal(t, 3, gen.Issued())
}

func TestFixedFlowGenerator_EmptyPrefixDefault(t *testing.T) {
	gen := NewFixedFlowGenerator("")
	assert.Equal(t, "test-flow-0001", gen.Generate())
}

func TestFixedFlowGenerator_Deterministic(t *testing.T) {
	a := NewFixedFlowGenerator("run")
	b := NewFixedFlowGenerator("run")
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Generate(), b.Generate())
	}
}

func TestFixedFlowGenerator_ThreadSafe(t *testing.T) {
	gen := NewFixedFlowGenerator("thread-safe")

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				token := gen.Generate()
				mu.Lock()
				seen[token] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 1000)
	assert.Equal(t, 1000, gen.Issued())
}
