package testutil

import (
	"fmt"
	"sync"
)

// FixedFlowGenerator numbers flow tokens under a fixed prefix:
// "<prefix>-0001", "<prefix>-0002", and so on.
//
// Every top-level engine call takes one token, so a scenario replayed
// with the same prefix tags the same calls with the same tokens.
//
// Implements engine.FlowTokenGenerator.
type FixedFlowGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedFlowGenerator creates a generator for prefix. The prefix usually
// comes from a scenario:
//
//	flow_token: counter-flow
//
// If prefix is empty, tokens are numbered under "test-flow".
func NewFixedFlowGenerator(prefix string) *FixedFlowGenerator {
	if prefix == "" {
		prefix = "test-flow"
	}
	return &FixedFlowGenerator{prefix: prefix}
}

// Generate returns the next token.
func (g *FixedFlowGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Issued returns how many tokens have been handed out.
func (g *FixedFlowGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
