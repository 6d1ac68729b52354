package engine

import "sync"

// CycleDetector tracks which messages each call has assigned to which
// processes.
//
// A cycle occurs when effects route a message back into a process that
// already ran it during the same top-level call:
//
//	user → A runs m → A assigns m to B → B runs m
//	→ B assigns m to A → A would run m again ← CYCLE DETECTED
//
// The detector keeps per-call history of (process, message) pairs. Before
// each assignment, WouldCycle checks whether the pair was seen in this call.
// History is dropped with Clear when the call returns; a later call may
// assign the same message again.
type CycleDetector struct {
	mu      sync.Mutex
	history map[string]map[string]bool // map[flow_token]map[process:message]bool
}

// NewCycleDetector creates a new cycle detector.
func NewCycleDetector() *CycleDetector {
	return &CycleDetector{
		history: make(map[string]map[string]bool),
	}
}

func cycleKey(process, message string) string {
	return process + ":" + message
}

// WouldCycle reports whether message was already assigned to process in
// this call.
func (c *CycleDetector) WouldCycle(flowToken, process, message string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.history[flowToken] == nil {
		return false
	}
	return c.history[flowToken][cycleKey(process, message)]
}

// Record marks the pair as assigned in this call.
func (c *CycleDetector) Record(flowToken, process, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.history[flowToken] == nil {
		c.history[flowToken] = make(map[string]bool)
	}
	c.history[flowToken][cycleKey(process, message)] = true
}

// Visit records the pair and reports whether it was new.
func (c *CycleDetector) Visit(flowToken, process, message string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := c.history[flowToken]
	if seen == nil {
		seen = make(map[string]bool)
		c.history[flowToken] = seen
	}
	key := cycleKey(process, message)
	if seen[key] {
		return false
	}
	seen[key] = true
	return true
}

// Clear removes all history for a flow token.
func (c *CycleDetector) Clear(flowToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.history, flowToken)
}

// HistorySize returns the number of calls with tracked history.
func (c *CycleDetector) HistorySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.history)
}

// FlowHistorySize returns the number of pairs tracked for a call.
func (c *CycleDetector) FlowHistorySize(flowToken string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.history[flowToken])
}
