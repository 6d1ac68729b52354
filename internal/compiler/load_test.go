package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterManifest = `
module: counter: builtin: "counter"
module: echo: {
	builtin: "echo"
	availability: "Individual"
}
process: total: {
	module: "counter"
	on_boot: "Data"
	data: "10"
}
process: mirror: module: "echo"
`

func writeManifest(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "app.cue", counterManifest)

	m, errs := LoadDir(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 1, m.FileCount)

	require.Len(t, m.Modules, 2)
	assert.Equal(t, "counter", m.Modules[0].Name)
	assert.Equal(t, "echo", m.Modules[1].Name)

	require.Len(t, m.Processes, 2)
	assert.Equal(t, "total", m.Processes[0].Name)
	assert.Equal(t, "mirror", m.Processes[1].Name)

	echo, ok := m.Module("echo")
	require.True(t, ok)
	assert.Equal(t, "Individual", echo.Availability)

	total, ok := m.Process("total")
	require.True(t, ok)
	assert.Equal(t, "10", total.Data)

	_, ok = m.Process("missing")
	assert.False(t, ok)
}

func TestLoadDirErrors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		_, errs := LoadDir(filepath.Join(t.TempDir(), "nope"), LoadModeFailFast)
		require.Len(t, errs, 1)
		var le *LoadError
		require.ErrorAs(t, errs[0], &le)
		assert.Equal(t, ErrCodeNotFound, le.Code)
	})

	t.Run("no cue files", func(t *testing.T) {
		_, errs := LoadDir(t.TempDir(), LoadModeFailFast)
		require.Len(t, errs, 1)
		var le *LoadError
		require.ErrorAs(t, errs[0], &le)
		assert.Equal(t, ErrCodeNoFiles, le.Code)
	})

	t.Run("syntax error", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, "bad.cue", `module: {`)
		_, errs := LoadDir(dir, LoadModeFailFast)
		require.NotEmpty(t, errs)
	})
}

func TestLoadSourceCollectsAll(t *testing.T) {
	src := `
module: good: builtin: "echo"
module: bad: source: "x.wasm"
process: a: module: "good"
process: b: module: "ghost"
`
	m, errs := LoadSource("inline.cue", src, LoadModeCollectAll)
	require.Len(t, errs, 2)

	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, ErrModuleFormat, le.Code)

	var ve ValidationError
	require.ErrorAs(t, errs[1], &ve)
	assert.Equal(t, ErrUnknownModule, ve.Code)

	assert.Len(t, m.Modules, 1)
	assert.Len(t, m.Processes, 2)
}

func TestLoadSourceFailFast(t *testing.T) {
	src := `
module: bad: source: "x.wasm"
process: b: module: "ghost"
`
	_, errs := LoadSource("inline.cue", src, LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoadSourceEmpty(t *testing.T) {
	_, errs := LoadSource("inline.cue", `other: 1`, LoadModeCollectAll)
	require.Len(t, errs, 1)
	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, ErrCodeGeneric, le.Code)
}

func TestFindCUEFiles(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.cue", "x: 1")
	writeManifest(t, dir, "b.txt", "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeManifest(t, filepath.Join(dir, "sub"), "c.cue", "y: 1")

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestMapFieldToErrorCode(t *testing.T) {
	assert.Equal(t, ErrModuleFormat, MapFieldToErrorCode("format"))
	assert.Equal(t, ErrModuleLimit, MapFieldToErrorCode("compute_limit"))
	assert.Equal(t, ErrCronInterval, MapFieldToErrorCode("cron.interval"))
	assert.Equal(t, ErrCodeGeneric, MapFieldToErrorCode("cue"))
}
