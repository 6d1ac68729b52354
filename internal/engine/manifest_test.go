package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aosim/internal/ir"
)

func TestPublishManifest_Native(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mod, err := e.PublishManifest(ctx, &ir.ModuleSpec{
		Name:         "counter",
		Format:       "native/counter",
		Builtin:      "counter",
		Extension:    "WeaveDrive",
		Availability: "Individual",
		MemoryLimit:  "512-mb",
		ComputeLimit: "100",
		Tags:         ir.T("Name", "Counter"),
	}, "", nil)
	require.NoError(t, err)

	tx, err := e.Store().Tx(ctx, mod)
	require.NoError(t, err)
	assert.Equal(t, "counter", string(tx.Data))
	assert.Equal(t, "native/counter", tx.Tags.Value("Module-Format"))
	assert.Equal(t, "Individual", tx.Tags.Value("Availability-Type"))
	assert.Equal(t, "512-mb", tx.Tags.Value("Memory-Limit"))
	assert.Equal(t, []string{"100"}, tx.Tags.Values("Compute-Limit"))
	assert.Equal(t, "Counter", tx.Tags.Value("Name"))
	assert.Equal(t, e.Messenger(), tx.Owner)
}

func TestPublishManifest_MissingWasmSource(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.PublishManifest(context.Background(), &ir.ModuleSpec{
		Name:   "lua",
		Format: "wasm64-unknown-emscripten-draft_2024_02_15",
		Source: "process.wasm",
	}, t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "module lua")
}

func TestSpawnManifest(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mod, err := e.PublishManifest(ctx, &ir.ModuleSpec{Name: "counter", Format: "native/counter"}, "", nil)
	require.NoError(t, err)

	pid, err := e.SpawnManifest(ctx, &ir.ProcessSpec{
		Name:         "ticker",
		Module:       "counter",
		OnBoot:       "Data",
		Data:         "7",
		CronInterval: "1-hour",
		CronTags:     ir.T("Action", "Add", "Plus", "1"),
		Tags:         ir.T("Name", "ticker"),
	}, mod, testUser())
	require.NoError(t, err)

	assert.Equal(t, "7", dryGet(t, e, pid))

	p := loadProcess(t, e, pid)
	assert.Equal(t, mod, p.Module)
	assert.Equal(t, int64(3600000), p.Span)
	assert.Equal(t, ir.T("Action", "Add", "Plus", "1"), p.CronTags)

	tx, err := e.Store().TxHeader(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, "ticker", tx.Tags.Value("Name"))
	assert.Equal(t, e.Scheduler(), tx.Tags.Value("Scheduler"))
}
