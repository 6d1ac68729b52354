package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/weavedrive"
)

func read(t *testing.T, e *Engine, pid, id string) (string, *ir.Output, error) {
	t.Helper()
	mid, err := e.Message(context.Background(), MessageRequest{
		Process: pid,
		Tags:    ir.T("Action", "Read", "ID", id),
		Signer:  user,
	})
	if err != nil {
		return mid, nil, err
	}
	out, rerr := e.Result(context.Background(), pid, mid)
	require.NoError(t, rerr)
	return mid, out, nil
}

func TestDrive_AssignmentsModeNeedsAttestation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mod := publish(t, e, "reader")
	pid := spawn(t, e, mod, "")

	content, err := e.Upload(ctx, []byte("hello weave"), ir.T("Content-Type", "text/plain"), nil)
	require.NoError(t, err)

	_, out, err := read(t, e, pid, content)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Contains(t, out.Error, weavedrive.ErrNotAdmissible.Error())

	_, err = e.Attest(ctx, content, nil)
	require.NoError(t, err)

	_, out, err = read(t, e, pid, content)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Empty(t, out.Error)
	assert.Equal(t, "hello weave", out.Output)
}

func TestDrive_AttestationFromUnknownSignerIsIgnored(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mod := publish(t, e, "reader")
	pid := spawn(t, e, mod, "")

	content, err := e.Upload(ctx, []byte("secret"), nil, nil)
	require.NoError(t, err)
	_, err = e.Attest(ctx, content, user)
	require.NoError(t, err)

	_, out, err := read(t, e, pid, content)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Error)
}

func TestDrive_AttestorTagAdmits(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mod := publish(t, e, "reader")
	pid := spawn(t, e, mod, "", "Attestor", user.Address())

	content, err := e.Upload(ctx, []byte("vouched"), nil, nil)
	require.NoError(t, err)
	_, err = e.Attest(ctx, content, user)
	require.NoError(t, err)

	_, out, err := read(t, e, pid, content)
	require.NoError(t, err)
	assert.Equal(t, "vouched", out.Output)
}

func TestDrive_IndividualModeAcceptsAvailable(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mod := publish(t, e, "reader")
	pid := spawn(t, e, mod, "", "Availability-Type", "Individual")

	content, err := e.Upload(ctx, []byte("on demand"), nil, nil)
	require.NoError(t, err)
	_, err = e.Avail(ctx, content, nil)
	require.NoError(t, err)

	_, out, err := read(t, e, pid, content)
	require.NoError(t, err)
	assert.Equal(t, "on demand", out.Output)
}

func TestDrive_LibraryModeHaltsProcess(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mod := publish(t, e, "reader")
	pid := spawn(t, e, mod, "", "Availability-Type", "Library")

	content, err := e.Upload(ctx, []byte("shelved"), nil, nil)
	require.NoError(t, err)

	// Dry runs report the halt without halting.
	_, err = e.DryRun(ctx, DryRunRequest{Process: pid, Tags: ir.T("Action", "Read", "ID", content), Signer: user})
	require.Error(t, err)
	assert.True(t, IsCapabilityHalt(err))
	assert.Empty(t, loadProcess(t, e, pid).Halted)

	_, _, err = read(t, e, pid, content)
	require.Error(t, err)
	assert.True(t, IsCapabilityHalt(err))

	p := loadProcess(t, e, pid)
	assert.NotEmpty(t, p.Halted)
	assert.Equal(t, int64(0), p.Height)
	assert.Empty(t, p.Results)

	_, _, err = read(t, e, pid, content)
	assert.True(t, IsHaltedError(err), "got %v", err)
	assert.Len(t, loadProcess(t, e, pid).Epochs, 1)

	require.NoError(t, e.Resume(ctx, pid))
	assert.Empty(t, loadProcess(t, e, pid).Halted)

	_, err = e.Attest(ctx, content, nil)
	require.NoError(t, err)
	_, out, err := read(t, e, pid, content)
	require.NoError(t, err)
	assert.Equal(t, "shelved", out.Output)
	require.NoError(t, e.VerifyHashChain(ctx, pid))
}

func TestResume_UnknownProcess(t *testing.T) {
	e := newTestEngine(t)
	assert.True(t, IsNotFound(e.Resume(context.Background(), "missing")))
}

func TestDrive_HeaderReads(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mod := publish(t, e, "reader")
	pid := spawn(t, e, mod, "")

	mid, err := e.Message(ctx, MessageRequest{
		Process: pid,
		Tags:    ir.T("Action", "Read", "Kind", "tx", "ID", mod),
		Signer:  user,
	})
	require.NoError(t, err)
	out, err := e.Result(ctx, pid, mid)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Empty(t, out.Error)
	assert.Contains(t, out.Output, mod)
}
