package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/roach88/aosim/internal/bundle"
	"github.com/roach88/aosim/internal/compiler"
	"github.com/roach88/aosim/internal/engine"
	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/store"
	"github.com/roach88/aosim/internal/testutil"
)

// Wallet names with a fixed meaning in scenarios.
const (
	DefaultSigner   = "user"
	SchedulerSigner = "scheduler"
	MessengerSigner = "messenger"
)

// walletSeedPrefix namespaces scenario wallets, so "alice" in one scenario
// is "alice" in every scenario.
const walletSeedPrefix = "aosim-scenario/"

// Harness runs one scenario against a fresh engine and ledger.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	clock    *testutil.DeterministicClock
	flowGen  *testutil.FixedFlowGenerator
	logger   *slog.Logger
	manifest *compiler.Manifest
	// sourceDir resolves module sources named by the manifest.
	sourceDir string

	modules map[string]string // module manifest name -> module id
	ids     map[string]string // alias -> id
	names   map[string]string // id -> alias
	wallets map[string]*bundle.Wallet
	sent    map[string]int // messages sent per process alias
	unnamed int

	// height is the ledger head already traced.
	height int64
	result *Result
}

// Option configures a harness run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger sends engine logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh ledger in a temporary directory.
// Wallets, the clock and flow tokens are deterministic, so the same
// scenario always produces the same ledger ids and the same trace.
//
// Execution flow:
//  1. Compile the manifests
//  2. Publish every module and spawn every process
//  3. Run the steps, checking each step's expectations
//  4. Evaluate the assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext is Run with a caller context.
func RunContext(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	manifest, sourceDir, err := loadManifest(scenario)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "aosim-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "ledger.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:     st,
		clock:     testutil.NewDeterministicClock(),
		flowGen:   testutil.NewFixedFlowGenerator(scenario.FlowToken),
		logger:    cfg.logger,
		manifest:  manifest,
		sourceDir: sourceDir,
		modules:   make(map[string]string),
		ids:       make(map[string]string),
		names:     make(map[string]string),
		wallets:   make(map[string]*bundle.Wallet),
		sent:      make(map[string]int),
		result:    NewResult(),
	}

	engineOpts := []engine.Option{
		engine.WithClock(h.clock),
		engine.WithFlowGenerator(h.flowGen),
		engine.WithMessenger(h.wallet(MessengerSigner)),
		engine.WithScheduler(h.wallet(SchedulerSigner)),
		engine.WithLogger(h.logger),
	}
	if scenario.MaxSteps > 0 {
		engineOpts = append(engineOpts, engine.WithMaxSteps(scenario.MaxSteps))
	}
	h.engine = engine.New(st, engineOpts...)
	defer h.engine.Close(ctx)

	if err := h.setup(ctx); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	for i := range scenario.Steps {
		if err := h.runStep(ctx, i, &scenario.Steps[i]); err != nil {
			return nil, fmt.Errorf("failed to execute steps[%d]: %w", i, err)
		}
	}

	actx := &AssertionContext{
		Ctx:     ctx,
		Engine:  h.engine,
		Store:   st,
		Resolve: h.resolve,
		Expand:  h.expandTags,
	}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}

	for alias, id := range h.ids {
		h.result.Aliases[alias] = id
	}
	return h.result, nil
}

// loadManifest compiles the scenario's manifests and returns the
// directory module sources are resolved against.
func loadManifest(s *Scenario) (*compiler.Manifest, string, error) {
	var (
		m    *compiler.Manifest
		errs []error
		dir  string
	)
	if s.Manifest != "" {
		m, errs = compiler.LoadSource(s.Name+".cue", s.Manifest, compiler.LoadModeCollectAll)
		dir = s.BaseDir
	} else {
		m, errs = compiler.LoadDir(s.Manifests, compiler.LoadModeCollectAll)
		dir = s.Manifests
	}
	if len(errs) > 0 {
		return nil, "", fmt.Errorf("failed to load manifests: %w", errors.Join(errs...))
	}
	return m, dir, nil
}

// wallet returns the deterministic wallet for a scenario signer name.
func (h *Harness) wallet(name string) *bundle.Wallet {
	if w, ok := h.wallets[name]; ok {
		return w
	}
	w := bundle.WalletFromSeed([]byte(walletSeedPrefix+name), bundle.WithDeterministicAnchors())
	h.wallets[name] = w
	return w
}

// signer returns the wallet for name, or def when name is empty.
func (h *Harness) signer(name, def string) bundle.Signer {
	if name == "" {
		name = def
	}
	return h.wallet(name)
}

// bind records alias for id. Later bindings of an alias win.
func (h *Harness) bind(alias, id string) {
	h.ids[alias] = id
	if _, ok := h.names[id]; !ok {
		h.names[id] = alias
	}
}

// resolve returns the id bound to a process, message or content alias,
// or the id of a module manifest.
func (h *Harness) resolve(alias string) (string, error) {
	if id, ok := h.ids[alias]; ok {
		return id, nil
	}
	if id, ok := h.modules[alias]; ok {
		return id, nil
	}
	return "", fmt.Errorf("unknown alias %q", alias)
}

// name returns the alias of id, inventing one for ids the scenario never
// named.
func (h *Harness) name(id, prefix string) string {
	if alias, ok := h.names[id]; ok {
		return alias
	}
	h.unnamed++
	alias := fmt.Sprintf("%s-%d", prefix, h.unnamed)
	h.bind(alias, id)
	return alias
}

var aliasRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expand replaces ${alias} references with ids.
func (h *Harness) expand(s string) (string, error) {
	var err error
	out := aliasRef.ReplaceAllStringFunc(s, func(ref string) string {
		id, rerr := h.resolve(aliasRef.FindStringSubmatch(ref)[1])
		if rerr != nil && err == nil {
			err = rerr
		}
		return id
	})
	return out, err
}

func (h *Harness) expandTags(tags Tags) (ir.Tags, error) {
	out := make(ir.Tags, 0, len(tags))
	for _, t := range tags {
		v, err := h.expand(t.Value)
		if err != nil {
			return nil, fmt.Errorf("tag %s: %w", t.Name, err)
		}
		out = append(out, ir.Tag{Name: t.Name, Value: v})
	}
	return out, nil
}

// setup publishes every module and spawns every process of the manifest.
func (h *Harness) setup(ctx context.Context) error {
	for i := range h.manifest.Modules {
		spec := &h.manifest.Modules[i]
		id, err := h.engine.PublishManifest(ctx, spec, h.sourceDir, nil)
		if err != nil {
			return err
		}
		h.modules[spec.Name] = id
		h.result.AddEvent(TraceEvent{Kind: EventPublish, Module: spec.Name})
	}
	if err := h.traceEffects(ctx, nil); err != nil {
		return err
	}

	for i := range h.manifest.Processes {
		spec := &h.manifest.Processes[i]
		if err := h.spawn(ctx, spec, spec.Name, h.wallet(DefaultSigner)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) spawn(ctx context.Context, spec *ir.ProcessSpec, alias string, signer bundle.Signer) error {
	module, ok := h.modules[spec.Module]
	if !ok {
		return fmt.Errorf("process %s: unknown module %q", spec.Name, spec.Module)
	}
	pid, err := h.engine.SpawnManifest(ctx, spec, module, signer)
	if err != nil {
		return fmt.Errorf("process %s: %w", spec.Name, err)
	}
	h.bind(alias, pid)

	ev := TraceEvent{Kind: EventSpawn, Process: alias}
	if out, err := h.engine.Result(ctx, pid, pid); err != nil {
		return err
	} else if out != nil {
		ev.Output, ev.Error = out.Output, out.Error
	}
	h.result.AddEvent(ev)
	return h.traceEffects(ctx, map[string]bool{pid: true})
}

// runStep executes one step. Failed expectations are recorded on the
// result; a returned error means the scenario itself is broken.
func (h *Harness) runStep(ctx context.Context, index int, step *Step) error {
	op, target := step.Op()
	data, err := h.expand(step.Data)
	if err != nil {
		return err
	}
	tags, err := h.expandTags(step.Tags)
	if err != nil {
		return err
	}

	switch op {
	case OpMessage:
		pid, err := h.resolve(target)
		if err != nil {
			return err
		}
		h.sent[target]++
		alias := step.As
		if alias == "" {
			alias = fmt.Sprintf("%s#%d", target, h.sent[target])
		}
		mid, callErr := h.engine.Message(ctx, engine.MessageRequest{
			Process: pid,
			Tags:    tags,
			Data:    data,
			Signer:  h.signer(step.From, DefaultSigner),
		})
		if mid != "" {
			h.bind(alias, mid)
		}
		out, err := h.engine.Result(ctx, pid, mid)
		if err != nil {
			return err
		}
		h.record(index, op, step, TraceEvent{Kind: EventMessage, Process: target, Message: alias}, out, callErr)
		return h.traceEffects(ctx, map[string]bool{pid + "/" + mid: true})

	case OpDryRun:
		pid, err := h.resolve(target)
		if err != nil {
			return err
		}
		out, callErr := h.engine.DryRun(ctx, engine.DryRunRequest{
			Process: pid,
			Tags:    tags,
			Data:    data,
			Signer:  h.signer(step.From, DefaultSigner),
		})
		h.record(index, op, step, TraceEvent{Kind: EventDryRun, Process: target}, out, callErr)
		return nil

	case OpAssign:
		pid, err := h.resolve(target)
		if err != nil {
			return err
		}
		mid, err := h.resolve(step.Ref)
		if err != nil {
			return err
		}
		req := engine.AssignRequest{Process: pid, Message: mid}
		if step.From != "" {
			req.Signer = h.wallet(step.From)
		}
		_, callErr := h.engine.Assign(ctx, req)
		out, err := h.engine.Result(ctx, pid, mid)
		if err != nil {
			return err
		}
		h.record(index, op, step, TraceEvent{Kind: EventAssign, Process: target, Message: step.Ref}, out, callErr)
		return h.traceEffects(ctx, map[string]bool{pid + "/" + mid: true})

	case OpSpawn:
		spec, ok := h.manifest.Process(target)
		if !ok {
			return fmt.Errorf("unknown process manifest %q", target)
		}
		cp := *spec
		cp.Tags = append(spec.Tags.Clone(), tags...)
		if data != "" {
			cp.Data = data
		}
		return h.spawn(ctx, &cp, step.As, h.signer(step.From, DefaultSigner))

	case OpUpload:
		id, err := h.engine.Upload(ctx, []byte(data), tags, h.signer(step.From, DefaultSigner))
		if err != nil {
			return err
		}
		h.bind(target, id)
		h.result.AddEvent(TraceEvent{Kind: EventUpload, Message: target})
		return h.traceEffects(ctx, nil)

	case OpAttest, OpAvail:
		id, err := h.resolve(target)
		if err != nil {
			return err
		}
		var signer bundle.Signer
		if step.From != "" {
			signer = h.wallet(step.From)
		}
		kind := EventAttest
		if op == OpAttest {
			_, err = h.engine.Attest(ctx, id, signer)
		} else {
			kind = EventAvail
			_, err = h.engine.Avail(ctx, id, signer)
		}
		if err != nil {
			return err
		}
		h.result.AddEvent(TraceEvent{Kind: kind, Message: target})
		return h.traceEffects(ctx, nil)

	case OpResume:
		pid, err := h.resolve(target)
		if err != nil {
			return err
		}
		if err := h.engine.Resume(ctx, pid); err != nil {
			return err
		}
		h.result.AddEvent(TraceEvent{Kind: EventResume, Process: target})
		return nil
	}
	return fmt.Errorf("unsupported operation %q", op)
}

// record adds the step's event and checks its expectations.
func (h *Harness) record(index int, op string, step *Step, ev TraceEvent, out *ir.Output, callErr error) {
	if out != nil {
		ev.Output, ev.Error = out.Output, out.Error
	}
	if callErr != nil {
		ev.Error = callFailure(callErr)
	}
	h.result.AddEvent(ev)

	for _, msg := range checkExpect(step.Expect, out, callErr) {
		h.result.AddError(fmt.Sprintf("steps[%d] %s %s: %s", index, op, ev.Label(), msg))
	}
}

// callFailure names a failed call without ids, so traces stay stable.
func callFailure(err error) string {
	if isHalt(err) {
		return "halted"
	}
	return "failed"
}

func isHalt(err error) bool {
	return engine.IsHaltedError(err) || engine.IsCapabilityHalt(err)
}

// checkExpect compares a step's outcome with its expectation.
func checkExpect(ex *Expect, out *ir.Output, callErr error) []string {
	if callErr != nil {
		switch {
		case ex != nil && ex.Halted && isHalt(callErr):
			return nil
		case ex != nil && ex.Error != "" && strings.Contains(callErr.Error(), ex.Error):
			return nil
		default:
			return []string{fmt.Sprintf("call failed: %v", callErr)}
		}
	}
	if ex == nil {
		return nil
	}
	if ex.Halted {
		return []string{"expected the process to halt"}
	}
	if out == nil {
		if ex.Output != nil || ex.Error != "" || ex.Messages != nil {
			return []string{"no result recorded"}
		}
		return nil
	}

	var errs []string
	if ex.Output != nil && out.Output != *ex.Output {
		errs = append(errs, fmt.Sprintf("output = %q, expected %q", out.Output, *ex.Output))
	}
	if ex.Error != "" && !strings.Contains(out.Error, ex.Error) {
		errs = append(errs, fmt.Sprintf("error = %q, expected it to contain %q", out.Error, ex.Error))
	}
	if ex.Messages != nil && len(out.Messages) != *ex.Messages {
		errs = append(errs, fmt.Sprintf("%d outbound messages, expected %d", len(out.Messages), *ex.Messages))
	}
	return errs
}

// traceEffects walks the ledger committed since the last walk and traces
// what the engine did on its own: spawns and assignments no step asked
// for. skip holds the spawn ids and pid/mid pairs the step already traced.
func (h *Harness) traceEffects(ctx context.Context, skip map[string]bool) error {
	head, err := h.store.Height(ctx)
	if err != nil {
		return err
	}
	err = h.store.Walk(ctx, h.height+1, func(_ int64, id string) error {
		tx, err := h.store.TxHeader(ctx, id)
		if err != nil {
			return err
		}
		switch tx.Tags.Value("Type") {
		case ir.TypeProcess:
			if skip[id] {
				return nil
			}
			if name := tx.Tags.Value("Name"); name != "" {
				if _, taken := h.ids[name]; !taken {
					h.bind(name, id)
				}
			}
			ev := TraceEvent{Kind: EventSpawn, Process: h.name(id, "proc")}
			out, err := h.engine.Result(ctx, id, id)
			if err != nil {
				return err
			}
			if out != nil {
				ev.Output, ev.Error = out.Output, out.Error
			}
			h.result.AddEvent(ev)

		case ir.TypeAssignment:
			pid, mid := tx.Tags.Value("Process"), tx.Tags.Value("Message")
			if skip[pid+"/"+mid] {
				return nil
			}
			ev := TraceEvent{
				Kind:    EventResult,
				Process: h.name(pid, "proc"),
				Message: h.name(mid, "msg"),
			}
			out, err := h.engine.Result(ctx, pid, mid)
			if err != nil {
				return err
			}
			if out != nil {
				ev.Output, ev.Error = out.Output, out.Error
			}
			h.result.AddEvent(ev)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("trace effects: %w", err)
	}
	h.height = head
	return nil
}
