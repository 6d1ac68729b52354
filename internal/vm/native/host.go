// Package native runs built-in Go programs as process code.
//
// A module with format "native/<name>" executes the program registered under
// name. Programs are pure functions of (state, message, environment) plus
// the process drive, which keeps simulations deterministic without a wasm
// toolchain.
package native

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/vm"
)

// FormatPrefix is the module format prefix served by this host.
const FormatPrefix = "native/"

// Call is the input a program sees for one message.
type Call struct {
	State []byte
	Msg   ir.Message
	Env   ir.Environment
	Drive vm.Drive
}

// Program handles one message and returns the next state.
// Content errors belong in Output.Error; a returned error aborts the call.
type Program interface {
	Handle(ctx context.Context, call Call) (state []byte, out *ir.Output, err error)
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(ctx context.Context, call Call) ([]byte, *ir.Output, error)

// Handle implements Program.
func (f ProgramFunc) Handle(ctx context.Context, call Call) ([]byte, *ir.Output, error) {
	return f(ctx, call)
}

// Host instantiates registered programs.
type Host struct {
	programs map[string]Program
}

// NewHost creates a host with the built-in programs registered.
func NewHost() *Host {
	h := &Host{programs: make(map[string]Program)}
	h.Register("counter", ProgramFunc(counter))
	h.Register("echo", ProgramFunc(echo))
	h.Register("spawner", ProgramFunc(spawner))
	h.Register("reader", ProgramFunc(reader))
	h.Register("relay", ProgramFunc(relay))
	return h
}

// Register adds or replaces a program.
func (h *Host) Register(name string, p Program) {
	h.programs[name] = p
}

// Programs lists registered program names in sorted order.
func (h *Host) Programs() []string {
	names := make([]string, 0, len(h.programs))
	for name := range h.programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instantiate implements vm.Host. Bytecode is ignored; the program is
// selected by format.
func (h *Host) Instantiate(_ context.Context, _ []byte, opts vm.Options) (vm.Handle, error) {
	name, ok := strings.CutPrefix(opts.Format, FormatPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: %q", vm.ErrUnsupportedFormat, opts.Format)
	}
	p, ok := h.programs[name]
	if !ok {
		return nil, fmt.Errorf("native: unknown program %q", name)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &handle{name: name, program: p, drive: opts.Drive, logger: logger}, nil
}

type handle struct {
	name    string
	program Program
	drive   vm.Drive
	logger  *slog.Logger
}

func (h *handle) Handle(ctx context.Context, memory []byte, msg ir.Message, env ir.Environment) (*ir.Output, error) {
	state := append([]byte(nil), memory...)
	next, out, err := h.program.Handle(ctx, Call{State: state, Msg: msg, Env: env, Drive: h.drive})
	if err != nil {
		return nil, fmt.Errorf("native %s: %w", h.name, err)
	}
	if out == nil {
		out = &ir.Output{}
	}
	out.Memory = next
	h.logger.Debug("native program handled message",
		"program", h.name,
		"message", msg.ID,
		"messages", len(out.Messages),
		"spawns", len(out.Spawns),
		"assignments", len(out.Assignments),
	)
	return out.Normalize(), nil
}

func (h *handle) Close(context.Context) error {
	return nil
}
