package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workflowManifest = `
module: counter: builtin: "counter"

process: total: {
	module:  "counter"
	on_boot: "Data"
	data:    "10"
}

module: library: {
	builtin:      "reader"
	availability: "Library"
}

process: shelf: module: "library"
`

// envelope decodes a CLIResponse keeping the payload raw.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	require.Equal(t, "ok", env.Status, out)
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v), out)
	return v
}

func decodeError(t *testing.T, out string) *CLIError {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	require.Equal(t, "error", env.Status, out)
	require.NotNil(t, env.Error)
	return env.Error
}

type workspace struct {
	t         *testing.T
	dir       string
	db        string
	manifests string
}

func newWorkspace(t *testing.T, manifest string) *workspace {
	t.Helper()
	dir := t.TempDir()
	manifests := filepath.Join(dir, "manifests")
	require.NoError(t, os.MkdirAll(manifests, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(manifests, "app.cue"), []byte(manifest), 0o644))
	return &workspace{t: t, dir: dir, db: filepath.Join(dir, "ledger.db"), manifests: manifests}
}

// run executes a command against the workspace ledger with JSON output.
func (w *workspace) run(args ...string) (string, error) {
	w.t.Helper()
	return execute(w.t, append([]string{"--db", w.db, "--format", "json"}, args...)...)
}

func (w *workspace) ok(args ...string) string {
	w.t.Helper()
	out, err := w.run(args...)
	require.NoError(w.t, err, out)
	return out
}

// publish publishes and spawns the workspace manifests and returns the
// process ids by manifest name.
func (w *workspace) publish() map[string]string {
	w.t.Helper()
	res := decode[PublishResult](w.t, w.ok("module", "publish", w.manifests, "--spawn"))
	pids := make(map[string]string, len(res.Processes))
	for _, p := range res.Processes {
		pids[p.Name] = p.ID
	}
	return pids
}

func TestWorkflow_PublishAndSpawn(t *testing.T) {
	w := newWorkspace(t, workflowManifest)

	res := decode[PublishResult](t, w.ok("module", "publish", w.manifests, "--spawn"))
	require.Len(t, res.Modules, 2)
	assert.Equal(t, "counter", res.Modules[0].Name)
	assert.Equal(t, "library", res.Modules[1].Name)
	require.Len(t, res.Processes, 2)
	assert.Equal(t, "total", res.Processes[0].Name)
	assert.NotEqual(t, res.Processes[0].ID, res.Processes[1].ID)

	boot := decode[MessageResult](t, w.ok("result", res.Processes[0].ID, res.Processes[0].ID))
	require.NotNil(t, boot.Result)
	assert.Equal(t, "booted", boot.Result.Output)

	spawned := decode[SpawnResult](t, w.ok("spawn", res.Modules[0].ID, "--tag", "On-Boot=Data", "--data", "3"))
	assert.NotEmpty(t, spawned.Process)
	assert.Equal(t, "booted", spawned.Output)

	got := decode[MessageResult](t, w.ok("dryrun", spawned.Process, "-t", "Action=Get"))
	assert.Equal(t, "3", got.Result.Output)
}

func TestWorkflow_MessageResultsTraceVerify(t *testing.T) {
	w := newWorkspace(t, workflowManifest)
	total := w.publish()["total"]

	sent := decode[MessageResult](t, w.ok("message", total, "-t", "Action=Add", "-t", "Plus=5"))
	require.NotEmpty(t, sent.Message)
	require.NotNil(t, sent.Result)
	assert.Equal(t, "15", sent.Result.Output)

	dry := decode[MessageResult](t, w.ok("dryrun", total, "-t", "Action=Get"))
	assert.Equal(t, "15", dry.Result.Output)
	assert.Len(t, dry.Result.Messages, 1)
	assert.Empty(t, dry.Message)

	page := decode[ResultsPage](t, w.ok("results", total))
	require.Len(t, page.Edges, 1)
	assert.Equal(t, sent.Message, page.Edges[0].Cursor)
	assert.Equal(t, "15", page.Edges[0].Node.Output)

	second := decode[MessageResult](t, w.ok("message", total, "-t", "Action=Add", "-t", "Plus=1"))
	desc := decode[ResultsPage](t, w.ok("results", total, "--sort", "desc", "--limit", "1"))
	require.Len(t, desc.Edges, 1)
	assert.Equal(t, second.Message, desc.Edges[0].Cursor)

	trace := decode[TraceResult](t, w.ok("trace", total))
	require.Len(t, trace.Timeline, 2)
	assert.Equal(t, int64(0), trace.Timeline[0].Epoch)
	assert.Equal(t, sent.Message, trace.Timeline[0].Message)
	assert.Equal(t, int64(1), trace.Timeline[1].Epoch)
	assert.Equal(t, trace.Hash, trace.Timeline[1].HashChain)
	assert.NotEmpty(t, trace.Timeline[0].From)
	assert.Equal(t, "16", trace.Timeline[1].Result.Output)
	assert.Equal(t, 2, trace.Stats.Assignments)
	assert.Equal(t, 2, trace.Stats.Results)

	verify := decode[VerifyResult](t, w.ok("verify"))
	assert.Equal(t, 2, verify.Valid)
	assert.Zero(t, verify.Invalid)
}

func TestWorkflow_Errors(t *testing.T) {
	w := newWorkspace(t, workflowManifest)
	total := w.publish()["total"]

	out, err := w.run("message", "missing-process", "-t", "Action=Add")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, CodeNotFound, decodeError(t, out).Code)

	out, err = w.run("message", total, "-t", "no-equals")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, decodeError(t, out).Message, `invalid tag "no-equals"`)

	out, err = w.run("results", total, "--sort", "sideways")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, CodeConfig, decodeError(t, out).Code)

	out, err = w.run("result", total, "missing-message")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, CodeNotFound, decodeError(t, out).Code)

	out, err = w.run("verify", "missing-process")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	res := decode[VerifyResult](t, out)
	assert.Equal(t, 1, res.Invalid)
}

func TestWorkflow_LibraryHaltAttestResume(t *testing.T) {
	w := newWorkspace(t, workflowManifest)
	shelf := w.publish()["shelf"]

	book := filepath.Join(w.dir, "book.txt")
	require.NoError(t, os.WriteFile(book, []byte("shelved"), 0o644))
	item := decode[LedgerItem](t, w.ok("upload", book, "-t", "Content-Type=text/plain"))
	require.NotEmpty(t, item.ID)

	out, err := w.run("message", shelf, "-t", "Action=Read", "-t", "ID="+item.ID)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, CodeHalted, decodeError(t, out).Code)

	trace := decode[TraceResult](t, w.ok("trace", shelf))
	assert.NotEmpty(t, trace.Stats.Halted)

	out, err = w.run("message", shelf, "-t", "Action=Read", "-t", "ID="+item.ID)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, CodeHalted, decodeError(t, out).Code)

	att := decode[LedgerItem](t, w.ok("attest", item.ID))
	assert.Equal(t, "attestation", att.Kind)
	w.ok("resume", shelf)

	read := decode[MessageResult](t, w.ok("message", shelf, "-t", "Action=Read", "-t", "ID="+item.ID))
	assert.Equal(t, "shelved", read.Result.Output)
}

func TestWorkflow_Wallet(t *testing.T) {
	w := newWorkspace(t, workflowManifest)
	total := w.publish()["total"]
	path := filepath.Join(w.dir, "alice.json")

	created := decode[WalletInfo](t, w.ok("wallet", "new", path))
	require.NotEmpty(t, created.Address)

	shown := decode[WalletInfo](t, w.ok("--wallet", path, "wallet", "address"))
	assert.Equal(t, created.Address, shown.Address)
	assert.Equal(t, created.PublicKey, shown.PublicKey)

	_, err := w.run("wallet", "new", path)
	assert.Equal(t, ExitCommandError, GetExitCode(err), "existing wallet must not be overwritten")

	w.ok("--wallet", path, "message", total, "-t", "Action=Add", "-t", "Plus=1")
	trace := decode[TraceResult](t, w.ok("trace", total))
	require.Len(t, trace.Timeline, 1)
	assert.Equal(t, created.Address, trace.Timeline[0].From)

	_, err = w.run("--wallet", filepath.Join(w.dir, "missing.json"), "message", total)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestWorkflow_TextOutput(t *testing.T) {
	w := newWorkspace(t, workflowManifest)
	total := w.publish()["total"]

	out, err := execute(t, "--db", w.db, "message", total, "-t", "Action=Add", "-t", "Plus=2")
	require.NoError(t, err)
	assert.Contains(t, out, "output: 12\n")

	out, err = execute(t, "--db", w.db, "dryrun", total, "-t", "Action=Get")
	require.NoError(t, err)
	assert.Contains(t, out, "output: 12\n")
	assert.Contains(t, out, "  -> message ")

	out, err = execute(t, "--db", w.db, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "2 verified, 0 mismatched")
}
