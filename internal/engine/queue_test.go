package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aosim/internal/ir"
)

func TestWorkQueue_EnqueueDequeue(t *testing.T) {
	q := newWorkQueue()

	q.Enqueue(Work{Kind: WorkMessage, Source: "p1", Message: ir.OutMessage{Target: "p2"}})

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, WorkMessage, got.Kind)
	assert.Equal(t, "p2", got.Message.Target)
}

func TestWorkQueue_FIFO(t *testing.T) {
	q := newWorkQueue()

	for _, id := range []string{"A", "B", "C"} {
		q.Enqueue(Work{Kind: WorkMessage, Trigger: id})
	}

	for _, want := range []string{"A", "B", "C"} {
		w, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, w.Trigger)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestWorkQueue_TryDequeue_Empty(t *testing.T) {
	q := newWorkQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestWorkQueue_Len(t *testing.T) {
	q := newWorkQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(Work{Kind: WorkSpawn})
	q.Enqueue(Work{Kind: WorkSpawn})
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestWorkQueue_EnqueueOutputOrder(t *testing.T) {
	q := newWorkQueue()
	q.EnqueueOutput("src", "m1", &ir.Output{
		Assignments: []ir.AssignmentEffect{{Message: "m0", Processes: []string{"p3", "p4"}}},
		Spawns:      []ir.SpawnEffect{{Tags: ir.T("Module", "mod")}},
		Messages: []ir.OutMessage{
			{Target: "p1"},
			{Target: "p2"},
		},
	})

	var kinds []WorkKind
	var targets []string
	for {
		w, ok := q.TryDequeue()
		if !ok {
			break
		}
		assert.Equal(t, "src", w.Source)
		assert.Equal(t, "m1", w.Trigger)
		kinds = append(kinds, w.Kind)
		switch w.Kind {
		case WorkMessage:
			targets = append(targets, w.Message.Target)
		case WorkSpawn:
			targets = append(targets, w.Spawn.Tags.Value("Module"))
		case WorkAssign:
			assert.Equal(t, "m0", w.AssignMessage)
			targets = append(targets, w.AssignProcess)
		}
	}

	assert.Equal(t, []WorkKind{WorkMessage, WorkMessage, WorkSpawn, WorkAssign, WorkAssign}, kinds)
	assert.Equal(t, []string{"p1", "p2", "mod", "p3", "p4"}, targets)
}

func TestWorkKind_String(t *testing.T) {
	assert.Equal(t, "message", WorkMessage.String())
	assert.Equal(t, "spawn", WorkSpawn.String())
	assert.Equal(t, "assign", WorkAssign.String())
	assert.Equal(t, "unknown", WorkKind(0).String())
}
