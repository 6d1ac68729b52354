package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/queryir"
)

func TestPostSchedulerLocation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id, err := e.PostSchedulerLocation(ctx, "http://localhost:8734")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	tx, err := e.Store().Tx(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, e.Scheduler(), tx.Owner)
	assert.Equal(t, ir.TypeSchedulerLocation, tx.Tags.Value("Type"))
	assert.Equal(t, "http://localhost:8734", tx.Tags.Value("Url"))
	assert.Equal(t, "1000000000", tx.Tags.Value("Time-To-Live"))

	height, err := e.Store().Height(ctx)
	require.NoError(t, err)

	again, err := e.PostSchedulerLocation(ctx, "http://localhost:8734")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	after, err := e.Store().Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, height, after, "a repeated announcement posts nothing")

	other, err := e.PostSchedulerLocation(ctx, "http://su.example:9000")
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	txs, err := e.Store().Query(ctx, queryir.Filter{Where: queryir.All(queryir.Tags("Type", ir.TypeSchedulerLocation)...)})
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestPostSchedulerLocation_RequiresURL(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.PostSchedulerLocation(context.Background(), "")
	assert.True(t, IsConfigError(err))
}
