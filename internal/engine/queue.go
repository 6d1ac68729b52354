package engine

import "github.com/roach88/aosim/internal/ir"

// WorkKind distinguishes the effects a host can produce.
type WorkKind int

const (
	// WorkMessage delivers an outbound message to its target.
	WorkMessage WorkKind = iota + 1
	// WorkSpawn spawns a new process.
	WorkSpawn
	// WorkAssign assigns an existing message to one process.
	WorkAssign
)

func (k WorkKind) String() string {
	switch k {
	case WorkMessage:
		return "message"
	case WorkSpawn:
		return "spawn"
	case WorkAssign:
		return "assign"
	}
	return "unknown"
}

// Work is one pending effect of a call.
type Work struct {
	Kind WorkKind
	// Source is the process whose execution produced the effect.
	Source string
	// Trigger is the message whose execution produced the effect.
	Trigger string

	Message ir.OutMessage
	Spawn   ir.SpawnEffect
	// AssignMessage and AssignProcess name one target of an assignment effect.
	AssignMessage string
	AssignProcess string
}

// workQueue is the FIFO of effects one top-level call still has to
// dispatch. Effects run breadth-first: every effect of a message is
// queued before any effect of the messages it causes.
//
// A workQueue is owned by a single call and is not safe for concurrent use.
type workQueue struct {
	items []Work
}

func newWorkQueue() *workQueue {
	return &workQueue{items: make([]Work, 0, 16)}
}

// Enqueue adds an effect to the back of the queue.
func (q *workQueue) Enqueue(w Work) {
	q.items = append(q.items, w)
}

// EnqueueOutput queues every effect of one execution in the order
// messages, spawns, assignments.
func (q *workQueue) EnqueueOutput(source, trigger string, out *ir.Output) {
	for _, m := range out.Messages {
		q.Enqueue(Work{Kind: WorkMessage, Source: source, Trigger: trigger, Message: m})
	}
	for _, s := range out.Spawns {
		q.Enqueue(Work{Kind: WorkSpawn, Source: source, Trigger: trigger, Spawn: s})
	}
	for _, a := range out.Assignments {
		for _, pid := range a.Processes {
			q.Enqueue(Work{
				Kind:          WorkAssign,
				Source:        source,
				Trigger:       trigger,
				AssignMessage: a.Message,
				AssignProcess: pid,
			})
		}
	}
}

// TryDequeue removes and returns the front effect.
// Returns (Work{}, false) if the queue is empty.
func (q *workQueue) TryDequeue() (Work, bool) {
	if len(q.items) == 0 {
		return Work{}, false
	}
	w := q.items[0]
	q.items[0] = Work{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return w, true
}

// Len returns the current queue length.
func (q *workQueue) Len() int {
	return len(q.items)
}
