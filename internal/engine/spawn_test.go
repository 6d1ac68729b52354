package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aosim/internal/ir"
)

func TestSpawn_RequiresModuleAndScheduler(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Spawn(ctx, SpawnRequest{Scheduler: e.Scheduler()})
	assert.True(t, IsConfigError(err))

	_, err = e.Spawn(ctx, SpawnRequest{Module: "mod"})
	assert.True(t, IsConfigError(err))

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "scheduler", ce.Field)
}

func TestSpawn_UnknownModule(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Spawn(context.Background(), SpawnRequest{Module: "missing", Scheduler: e.Scheduler()})
	assert.True(t, IsSpawnError(err))
}

func TestSpawn_UnknownProgramIsSpawnError(t *testing.T) {
	e := newTestEngine(t)
	mod := publish(t, e, "no-such-program")

	_, err := e.Spawn(context.Background(), SpawnRequest{Module: mod, Scheduler: e.Scheduler()})
	require.Error(t, err)
	assert.True(t, IsSpawnError(err))
}

func TestSpawn_CanonicalTags(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mod := publish(t, e, "echo")

	pid, err := e.Spawn(ctx, SpawnRequest{
		Module:    mod,
		Scheduler: e.Scheduler(),
		Tags:      ir.T("Module", "ignored", "Name", "alpha", "Type", "Process"),
		Signer:    testUser(),
	})
	require.NoError(t, err)

	tx, err := e.Store().TxHeader(ctx, pid)
	require.NoError(t, err)
	tags := tx.Tags
	assert.Equal(t, ir.DataProtocol, tags.Value("Data-Protocol"))
	assert.Equal(t, ir.Variant, tags.Value("Variant"))
	assert.Equal(t, ir.TypeProcess, tags.Value("Type"))
	assert.Equal(t, ir.SDK, tags.Value("SDK"))
	assert.Equal(t, mod, tags.Value("Module"))
	assert.Equal(t, []string{mod}, tags.Values("Module"))
	assert.Equal(t, e.Scheduler(), tags.Value("Scheduler"))
	assert.Equal(t, e.Messenger(), tags.Value("Authority"))
	assert.Equal(t, "alpha", tags.Value("Name"))
	assert.False(t, tags.Contains("Pushed-For"))

	p := loadProcess(t, e, pid)
	assert.Equal(t, testUser().Address(), p.Owner)
	assert.Equal(t, pid, p.Hash)
	assert.Equal(t, "native/echo", p.Format)
	assert.Equal(t, ir.WeaveDriveProtocol, p.Extension)
	assert.Empty(t, p.Epochs)
	assert.Empty(t, p.Results)
	assert.Equal(t, int64(0), p.Height)
}

func TestSpawn_CallerAuthorityWins(t *testing.T) {
	e := newTestEngine(t)
	mod := publish(t, e, "echo")
	pid := spawn(t, e, mod, "", "Authority", "someone")

	tx, err := e.Store().TxHeader(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, []string{"someone"}, tx.Tags.Values("Authority"))
}

func TestSpawn_BootIsNotAStep(t *testing.T) {
	e := newTestEngine(t)
	mod := publish(t, e, "counter")
	pid := spawn(t, e, mod, "40", "On-Boot", "Data")

	p := loadProcess(t, e, pid)
	assert.Equal(t, int64(0), p.Height)
	assert.Empty(t, p.Results)
	assert.JSONEq(t, `{"count":40}`, string(p.Memory))

	out, err := e.Result(context.Background(), pid, pid)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "booted", out.Output)
}

func TestSpawn_OnBootFromStoredItem(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mod := publish(t, e, "counter")

	src, err := e.Upload(ctx, []byte("7"), ir.T("Content-Type", "text/plain"), nil)
	require.NoError(t, err)

	pid := spawn(t, e, mod, "ignored", "On-Boot", src)
	assert.Equal(t, "7", dryGet(t, e, pid))
}

func TestSpawn_WithoutOnBootStartsEmpty(t *testing.T) {
	e := newTestEngine(t)
	mod := publish(t, e, "counter")
	pid := spawn(t, e, mod, "12")

	p := loadProcess(t, e, pid)
	assert.Nil(t, p.Memory)
	assert.Equal(t, "0", dryGet(t, e, pid))
}

func TestSpawn_BootErrorKeepsEmptyMemory(t *testing.T) {
	e := newTestEngine(t)
	mod := publish(t, e, "counter")
	pid := spawn(t, e, mod, "not-a-number", "On-Boot", "Data")

	p := loadProcess(t, e, pid)
	assert.Nil(t, p.Memory)

	out, err := e.Result(context.Background(), pid, pid)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Contains(t, out.Error, "invalid initial count")
}

func TestSpawn_CronConfig(t *testing.T) {
	e := newTestEngine(t)
	mod := publish(t, e, "counter")
	pid := spawn(t, e, mod, "",
		"Cron-Interval", "10-seconds",
		"Cron-Tag-Action", "Add",
		"Cron-Tag-Plus", "1",
	)

	p := loadProcess(t, e, pid)
	assert.Equal(t, int64(10000), p.Span)
	assert.Equal(t, ir.T("Action", "Add", "Plus", "1"), p.CronTags)
}

func TestSpawn_BadCronIntervalPostsNothing(t *testing.T) {
	for _, interval := range []string{"3-fortnights", "300-years"} {
		t.Run(interval, func(t *testing.T) {
			e := newTestEngine(t)
			ctx := context.Background()
			mod := publish(t, e, "counter")

			before, err := e.Store().Height(ctx)
			require.NoError(t, err)

			_, err = e.Spawn(ctx, SpawnRequest{
				Module:    mod,
				Scheduler: e.Scheduler(),
				Tags:      ir.T("Cron-Interval", interval),
			})
			assert.True(t, IsConfigError(err), "got %v", err)

			after, err := e.Store().Height(ctx)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestParseCronInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"250-milliseconds", 250, false},
		{"1-second", 1000, false},
		{"2-minutes", 120000, false},
		{"1-hour", 3600000, false},
		{"1-day", 86400000, false},
		{"1-month", 30 * 86400000, false},
		{"1-year", 365 * 86400000, false},
		{"5-Seconds", 5000, false},
		{"5", 0, true},
		{"x-seconds", 0, true},
		{"0-seconds", 0, true},
		{"1-week", 0, true},
		{"292-years", 292 * 365 * 86400000, false},
		{"300-years", 0, true},
		{"9223372036854775807-milliseconds", 0, true},
		{"9223372036854775-seconds", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCronInterval(tt.in)
			if tt.wantErr {
				assert.True(t, IsConfigError(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCronUnit_String(t *testing.T) {
	for _, name := range []string{"millisecond", "second", "minute", "hour", "day", "month", "year"} {
		u, err := ParseCronUnit(name)
		require.NoError(t, err)
		assert.Equal(t, name, u.String())
	}
	assert.Equal(t, "unknown", CronUnit(0).String())
	assert.Equal(t, int64(0), CronUnit(0).Millis())
}
