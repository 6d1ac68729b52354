// Package vm defines the contract between the engine and the runtimes that
// execute process code.
//
// A Host instantiates module bytecode into a Handle. The engine owns each
// Handle exclusively and calls it once per message with the process memory
// to restore. Handles never keep memory between calls: the snapshot they
// return is the only state that survives, and the engine decides whether to
// persist it.
package vm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/aosim/internal/ir"
)

// Drive is the virtual filesystem a process reads ledger content through.
// Read returns at most n bytes; a short or empty slice means end of file.
// Reset rewinds fd to the start and drops anything read ahead for it.
type Drive interface {
	Open(ctx context.Context, path string) (int, error)
	Read(ctx context.Context, fd int, n int) ([]byte, error)
	Seek(ctx context.Context, fd int, offset int64, whence int) (int64, error)
	Reset(ctx context.Context, fd int) error
	Close(ctx context.Context, fd int) error
}

// Options describe the process a handle is instantiated for.
type Options struct {
	Format    string
	Extension string
	// Spawn is the process's spawn transaction.
	Spawn *ir.Transaction
	// Module is the module transaction the bytecode was published in.
	Module *ir.Transaction
	// Drive is nil when the process has no filesystem extension.
	Drive  Drive
	Logger *slog.Logger
}

// Host turns module bytecode into executable handles.
type Host interface {
	Instantiate(ctx context.Context, bytecode []byte, opts Options) (Handle, error)
}

// Handle executes messages for one process.
type Handle interface {
	// Handle runs msg against the given memory snapshot. The returned
	// output carries the post-call memory in Output.Memory.
	Handle(ctx context.Context, memory []byte, msg ir.Message, env ir.Environment) (*ir.Output, error)
	Close(ctx context.Context) error
}

// ErrUnsupportedFormat is returned when no host is registered for a format.
var ErrUnsupportedFormat = errors.New("vm: unsupported module format")

// ErrNoDrive is returned by drive calls made by a process without one.
var ErrNoDrive = errors.New("vm: process has no drive")

// IsFatal reports whether a drive error must abort the running call
// instead of being reported to the process as a failed read.
func IsFatal(err error) bool {
	var f interface{ Fatal() bool }
	return errors.As(err, &f) && f.Fatal()
}
