package engine

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Tokens(t *testing.T) {
	token := UUIDv7Tokens.Generate()

	parsed, err := uuid.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[0-9a-f]{4}-[0-9a-f]{12}$`, token)
}

func TestUUIDv7Tokens_SortByIssue(t *testing.T) {
	tokens := make([]string, 200)
	for i := range tokens {
		tokens[i] = UUIDv7Tokens.Generate()
	}
	assert.True(t, sort.StringsAreSorted(tokens))
}

func TestUUIDv7Tokens_UniqueAcrossGoroutines(t *testing.T) {
	const goroutines = 50
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token := UUIDv7Tokens.Generate()
			mu.Lock()
			defer mu.Unlock()
			seen[token] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, goroutines)
}

// countingTokens returns a generator numbering its tokens and a func
// reporting how many it issued.
func countingTokens() (FlowTokenGenerator, func() int) {
	var mu sync.Mutex
	n := 0
	gen := FlowTokenFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("flow-%d", n)
	})
	return gen, func() int {
		mu.Lock()
		defer mu.Unlock()
		return n
	}
}

func TestEngine_CallsTakeFlowTokens(t *testing.T) {
	gen, issued := countingTokens()
	e := newTestEngine(t, WithFlowGenerator(gen))

	mod := publish(t, e, "echo")
	assert.Zero(t, issued(), "publishing is not a call")

	pid := spawn(t, e, mod, "")
	send(t, e, user, pid, "x")
	assert.Equal(t, 2, issued(), "the spawn and the message each take one")

	_, err := e.DryRun(t.Context(), DryRunRequest{Process: pid, Data: "y"})
	require.NoError(t, err)
	assert.Equal(t, 2, issued(), "dry runs dispatch nothing")
	assert.Equal(t, 0, e.cycles.HistorySize())
}
