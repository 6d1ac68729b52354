package engine

import (
	"fmt"
)

// effectBudget counts the effects a call dispatches, by kind. The cycle
// detector refuses a message that comes back to a process that already ran
// it; the budget refuses chains of fresh messages, like two processes
// answering each other forever.
type effectBudget struct {
	limit  int
	spent  int
	byKind map[WorkKind]int
}

func newEffectBudget(limit int) *effectBudget {
	return &effectBudget{limit: limit, byKind: make(map[WorkKind]int)}
}

// spend charges one effect of kind w to the call. Once the limit is used up
// it returns a StepsExceededError and charges nothing.
func (b *effectBudget) spend(token string, w WorkKind, pending int) error {
	if b.spent >= b.limit {
		return &StepsExceededError{
			FlowToken: token,
			Steps:     b.spent + 1,
			Limit:     b.limit,
			Refused:   w.String(),
			Pending:   pending,
		}
	}
	b.spent++
	b.byKind[w]++
	return nil
}

// summary lists the spent effects as log attributes.
func (b *effectBudget) summary() []any {
	return []any{
		"steps", b.spent,
		"messages", b.byKind[WorkMessage],
		"spawns", b.byKind[WorkSpawn],
		"assigns", b.byKind[WorkAssign],
	}
}

// StepsExceededError reports a call that ran out of effect budget. The
// effects already dispatched stay on the ledger; Pending of them, starting
// with Refused, were dropped.
type StepsExceededError struct {
	FlowToken string
	Steps     int
	Limit     int
	Refused   string
	Pending   int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("flow %s exceeded max steps quota: %d steps > %d limit (dropped %d pending effect(s), first %s)",
		e.FlowToken, e.Steps, e.Limit, e.Pending, e.Refused)
}
