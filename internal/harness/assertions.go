package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/aosim/internal/engine"
	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/queryir"
	"github.com/roach88/aosim/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", event.Seq, event.Label())
			if event.Output != "" {
				fmt.Fprintf(&buf, " output=%q", event.Output)
			}
			if event.Error != "" {
				fmt.Fprintf(&buf, " error=%q", event.Error)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// matches reports whether event satisfies the non-empty filters of a.
func matches(event TraceEvent, a Assertion) bool {
	if a.Kind != "" && event.Kind != a.Kind {
		return false
	}
	if a.Process != "" && event.Process != a.Process {
		return false
	}
	if a.Message != "" && event.Message != a.Message {
		return false
	}
	if a.Output != nil && event.Output != *a.Output {
		return false
	}
	if a.Error != "" && !strings.Contains(event.Error, a.Error) {
		return false
	}
	return true
}

func describe(a Assertion) string {
	var parts []string
	for _, f := range []struct{ name, value string }{
		{"kind", a.Kind},
		{"process", a.Process},
		{"message", a.Message},
		{"error", a.Error},
	} {
		if f.value != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", f.name, f.value))
		}
	}
	if a.Output != nil {
		parts = append(parts, fmt.Sprintf("output=%q", *a.Output))
	}
	return strings.Join(parts, " ")
}

// assertTraceContains checks that some event matches the assertion.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matches(event, assertion) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event with %s", describe(assertion)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that labelled events appear in the specified
// order. Events don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// Step 1: Find first position of each expected event
	positions := make(map[string]int)
	for i, event := range trace {
		label := event.Label()
		if positions[label] == 0 {
			positions[label] = i + 1 // 1-indexed for readability
		}
	}

	// Step 2: Verify all events found
	for _, label := range assertion.Events {
		if positions[label] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", label),
				Trace:    trace,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(assertion.Events); i++ {
		prev := assertion.Events[i-1]
		curr := assertion.Events[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that exactly Count events match.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, assertion) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d events with %s", assertion.Count, describe(assertion)),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

// AssertionContext provides engine and ledger access for assertions on
// final state.
type AssertionContext struct {
	Ctx    context.Context
	Engine *engine.Engine
	Store  *store.Store
	// Resolve maps a scenario alias to its id.
	Resolve func(alias string) (string, error)
	// Expand replaces alias references in tag values.
	Expand func(Tags) (ir.Tags, error)
}

// assertFinalState checks the persisted state of a process. Only the
// fields named in Expect are compared.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	pid, err := actx.Resolve(assertion.Process)
	if err != nil {
		return err
	}
	p, err := actx.Engine.Process(actx.Ctx, pid)
	if err != nil {
		return err
	}
	if p == nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("process %s", assertion.Process),
			Actual:   "process not found",
		}
	}

	for _, key := range sortedKeys(assertion.Expect) {
		expected := assertion.Expect[key]
		var actual any
		switch key {
		case "height":
			actual = p.Height
		case "results":
			actual = int64(len(p.Results))
		case "epochs":
			actual = int64(len(p.Epochs))
		case "halted":
			actual = p.Halted != ""
		case "hash_chain":
			actual = actx.Engine.VerifyHashChain(actx.Ctx, pid) == nil
		default:
			return fmt.Errorf("final_state: unknown field %q", key)
		}

		if !stateValuesEqual(expected, actual) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v", assertion.Process, key, expected),
				Actual:   fmt.Sprintf("%s.%s = %v", assertion.Process, key, actual),
			}
		}
	}
	return nil
}

// assertResult checks the stored result of a message in a process.
func assertResult(actx *AssertionContext, assertion Assertion) error {
	pid, err := actx.Resolve(assertion.Process)
	if err != nil {
		return err
	}
	mid, err := actx.Resolve(assertion.Message)
	if err != nil {
		return err
	}
	out, err := actx.Engine.Result(actx.Ctx, pid, mid)
	if err != nil {
		return err
	}
	if out == nil {
		return &AssertionError{
			Type:     AssertResult,
			Expected: fmt.Sprintf("result of %s in %s", assertion.Message, assertion.Process),
			Actual:   "no result",
		}
	}
	if assertion.Output != nil && out.Output != *assertion.Output {
		return &AssertionError{
			Type:     AssertResult,
			Expected: fmt.Sprintf("output %q", *assertion.Output),
			Actual:   fmt.Sprintf("output %q", out.Output),
		}
	}
	if assertion.Error != "" && !strings.Contains(out.Error, assertion.Error) {
		return &AssertionError{
			Type:     AssertResult,
			Expected: fmt.Sprintf("error containing %q", assertion.Error),
			Actual:   fmt.Sprintf("error %q", out.Error),
		}
	}
	return nil
}

// assertLedgerCount counts committed transactions carrying every tag.
func assertLedgerCount(actx *AssertionContext, assertion Assertion) error {
	tags, err := actx.Expand(assertion.Tags)
	if err != nil {
		return err
	}
	preds := make([]queryir.Predicate, 0, len(tags))
	for _, t := range tags {
		preds = append(preds, queryir.TagEquals{Name: t.Name, Value: t.Value})
	}
	txs, err := actx.Store.Query(actx.Ctx, queryir.Filter{Where: queryir.All(preds...)})
	if err != nil {
		return err
	}
	if len(txs) != assertion.Count {
		return &AssertionError{
			Type:     AssertLedgerCount,
			Expected: fmt.Sprintf("%d transactions tagged %v", assertion.Count, tags),
			Actual:   fmt.Sprintf("%d transactions", len(txs)),
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares a YAML-decoded expected value with a state
// field. YAML integers decode as int.
func stateValuesEqual(expected, actual any) bool {
	switch exp := expected.(type) {
	case int:
		a, ok := actual.(int64)
		return ok && int64(exp) == a
	case int64:
		a, ok := actual.(int64)
		return ok && exp == a
	case bool:
		a, ok := actual.(bool)
		return ok && exp == a
	case string:
		return fmt.Sprint(actual) == exp
	default:
		return false
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides engine access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState, AssertResult, AssertLedgerCount:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: %s requires engine context", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertFinalState:
				err = assertFinalState(actx, assertion)
			case AssertResult:
				err = assertResult(actx, assertion)
			default:
				err = assertLedgerCount(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
