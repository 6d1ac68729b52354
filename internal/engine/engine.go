package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/aosim/internal/bundle"
	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/metrics"
	"github.com/roach88/aosim/internal/store"
	"github.com/roach88/aosim/internal/vm"
	"github.com/roach88/aosim/internal/vm/native"
	"github.com/roach88/aosim/internal/vm/wasm"
	"github.com/roach88/aosim/internal/weavedrive"
)

// DefaultMaxSteps is the default maximum number of effects one top-level
// call may dispatch.
const DefaultMaxSteps = 1000

// Seeds of the default unit wallets. Addresses derived from them are stable
// across runs, so attestations signed by the scheduler stay valid when a
// ledger is reopened.
var (
	messengerSeed = []byte("aosim/messenger-unit")
	schedulerSeed = []byte("aosim/scheduler-unit")
)

// Engine is the compute unit. It owns process lifecycle, orders messages
// through per-process hash chains and dispatches the effects processes
// produce.
//
// Thread-safety model:
//   - every exported method is safe for concurrent use
//   - operations touching one process id are serialized by that process's mutex
//   - each top-level call drains its own effect queue; effects of concurrent
//     calls interleave only across different processes
type Engine struct {
	store     *store.Store
	host      vm.Host
	messenger bundle.Signer
	scheduler bundle.Signer
	clock     Clock
	flowGen   FlowTokenGenerator
	cycles    *CycleDetector
	maxSteps  int
	source    weavedrive.Source
	driveOpts []weavedrive.Option
	logger    *slog.Logger
	metrics   *metrics.Metrics
	closers   []func(context.Context) error

	procMu sync.Mutex
	procs  map[string]*procEntry

	cron *cronRegistry
}

// procEntry is the in-memory half of a process: the lazily created host
// handle and the mutex that serializes work on it.
type procEntry struct {
	mu     sync.Mutex
	handle vm.Handle
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithMaxSteps sets the maximum effects quota per top-level call.
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// WithClock sets the clock that stamps blocks and messages.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithFlowGenerator sets the generator of per-call flow tokens.
func WithFlowGenerator(g FlowTokenGenerator) Option {
	return func(e *Engine) {
		e.flowGen = g
	}
}

// WithHost replaces the default loader of native and wasm hosts.
func WithHost(h vm.Host) Option {
	return func(e *Engine) {
		e.host = h
	}
}

// WithMessenger sets the wallet that signs effects and cron ticks.
func WithMessenger(s bundle.Signer) Option {
	return func(e *Engine) {
		e.messenger = s
	}
}

// WithScheduler sets the wallet that signs assignments. Its address is the
// default Scheduler of spawned processes.
func WithScheduler(s bundle.Signer) Option {
	return func(e *Engine) {
		e.scheduler = s
	}
}

// WithDriveSource serves process drives from src instead of the local ledger.
func WithDriveSource(src weavedrive.Source) Option {
	return func(e *Engine) {
		e.source = src
	}
}

// WithDriveOptions adds options to every drive the engine creates.
func WithDriveOptions(opts ...weavedrive.Option) Option {
	return func(e *Engine) {
		e.driveOpts = append(e.driveOpts, opts...)
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics records engine activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine over the given ledger store.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		clock:    SystemClock{},
		flowGen:  UUIDv7Tokens,
		cycles:   NewCycleDetector(),
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
		procs:    make(map[string]*procEntry),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.messenger == nil {
		e.messenger = bundle.WalletFromSeed(messengerSeed)
	}
	if e.scheduler == nil {
		e.scheduler = bundle.WalletFromSeed(schedulerSeed)
	}
	if e.source == nil {
		e.source = weavedrive.NewLedgerSource(s)
	}
	if e.host == nil {
		wh := wasm.NewHost(wasm.WithLogger(e.logger))
		e.closers = append(e.closers, wh.Close)
		e.host = vm.NewLoader().
			Register(native.FormatPrefix, native.NewHost()).
			Register("wasm32-", wh).
			Register("wasm64-", wh)
	}
	e.cron = newCronRegistry()
	return e
}

// Messenger returns the address that signs effects and cron ticks.
func (e *Engine) Messenger() string {
	return e.messenger.Address()
}

// Scheduler returns the default scheduler address.
func (e *Engine) Scheduler() string {
	return e.scheduler.Address()
}

// Store returns the ledger store the engine writes to.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Close stops every cron timer and releases host handles.
func (e *Engine) Close(ctx context.Context) error {
	e.cron.stopAll()

	e.procMu.Lock()
	entries := e.procs
	e.procs = make(map[string]*procEntry)
	e.procMu.Unlock()

	var errs []error
	for pid, entry := range entries {
		entry.mu.Lock()
		if entry.handle != nil {
			if err := entry.handle.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close handle %s: %w", pid, err))
			}
			entry.handle = nil
		}
		entry.mu.Unlock()
	}
	for _, c := range e.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// entry returns the in-memory entry of a process, creating it on first use.
func (e *Engine) entry(pid string) *procEntry {
	e.procMu.Lock()
	defer e.procMu.Unlock()

	p, ok := e.procs[pid]
	if !ok {
		p = &procEntry{}
		e.procs[pid] = p
	}
	return p
}

// Process loads the persisted state of a process.
// Returns (nil, nil) for an unknown process.
func (e *Engine) Process(ctx context.Context, pid string) (*ir.Process, error) {
	var p ir.Process
	ok, err := e.store.Get(ctx, store.CategoryEnv, pid, &p)
	if err != nil {
		return nil, fmt.Errorf("load process %s: %w", pid, err)
	}
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (e *Engine) saveProcess(ctx context.Context, p *ir.Process) error {
	if err := e.store.Set(ctx, store.CategoryEnv, p.ID, p); err != nil {
		return fmt.Errorf("save process %s: %w", p.ID, err)
	}
	return nil
}

func (e *Engine) loadMessage(ctx context.Context, mid string) (*ir.MessageRecord, error) {
	var rec ir.MessageRecord
	ok, err := e.store.Get(ctx, store.CategoryMsgs, mid, &rec)
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", mid, err)
	}
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (e *Engine) saveMessage(ctx context.Context, rec *ir.MessageRecord) error {
	return e.saveMessageAt(ctx, rec.ID, rec)
}

func (e *Engine) saveMessageAt(ctx context.Context, key string, rec *ir.MessageRecord) error {
	if err := e.store.Set(ctx, store.CategoryMsgs, key, rec); err != nil {
		return fmt.Errorf("save message %s: %w", key, err)
	}
	return nil
}

// resultKey is the msgs key of the output a process produced for a message
// it was not the target of.
func resultKey(pid, mid string) string {
	return pid + "/" + mid
}

// txTags returns the stored tags of a transaction, or no tags when it is
// not on the ledger.
func (e *Engine) txTags(ctx context.Context, id string) (ir.Tags, error) {
	tx, err := e.store.TxHeader(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Tags{}, nil
	}
	if err != nil {
		return nil, err
	}
	return tx.Tags, nil
}

// environment reads process and module tags at call time, so tag changes
// on the ledger are visible to the next message.
func (e *Engine) environment(ctx context.Context, p *ir.Process) (ir.Environment, error) {
	ptags, err := e.txTags(ctx, p.ID)
	if err != nil {
		return ir.Environment{}, fmt.Errorf("environment %s: %w", p.ID, err)
	}
	mtags, err := e.txTags(ctx, p.Module)
	if err != nil {
		return ir.Environment{}, fmt.Errorf("environment %s: %w", p.ID, err)
	}
	return ir.Environment{
		Process: ir.EnvProcess{ID: p.ID, Owner: p.Owner, Tags: ptags},
		Module:  ir.EnvModule{ID: p.Module, Tags: mtags},
	}, nil
}

// handleFor returns the cached handle of a process, instantiating it on
// first use. The caller holds entry.mu.
func (e *Engine) handleFor(ctx context.Context, entry *procEntry, p *ir.Process) (vm.Handle, error) {
	if entry.handle != nil {
		return entry.handle, nil
	}

	mod, ok, err := e.store.Module(ctx, p.Module)
	if err != nil {
		return nil, fmt.Errorf("load module %s: %w", p.Module, err)
	}
	if !ok {
		return nil, &SpawnError{Process: p.ID, Module: p.Module, Reason: "module bytecode not found"}
	}
	spawnTx, err := e.store.TxHeader(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load spawn %s: %w", p.ID, err)
	}
	moduleTx, err := e.store.TxHeader(ctx, p.Module)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load module tx %s: %w", p.Module, err)
	}

	opts := vm.Options{
		Format:    p.Format,
		Extension: p.Extension,
		Spawn:     spawnTx,
		Module:    moduleTx,
		Logger:    e.logger.With("process", p.ID),
	}
	if p.Extension == ir.WeaveDriveProtocol {
		subject := weavedrive.Subject{
			ProcessID:   p.ID,
			ProcessTags: spawnTx.Tags,
			ModuleID:    p.Module,
		}
		if moduleTx != nil {
			subject.ModuleTags = moduleTx.Tags
		}
		driveOpts := append([]weavedrive.Option{
			weavedrive.WithLogger(opts.Logger),
			weavedrive.WithMetrics(e.metrics),
			weavedrive.WithHeight(e.store.Height),
		}, e.driveOpts...)
		opts.Drive = weavedrive.New(e.source, subject, driveOpts...)
	}

	h, err := e.host.Instantiate(ctx, mod.Bytecode, opts)
	if err != nil {
		return nil, &SpawnError{Process: p.ID, Module: p.Module, Reason: "instantiate host", Err: err}
	}
	entry.handle = h
	return h, nil
}

// execute runs one message through the process host. The caller holds
// entry.mu. Nothing is persisted here.
func (e *Engine) execute(ctx context.Context, entry *procEntry, p *ir.Process, msg ir.Message) (*ir.Output, error) {
	h, err := e.handleFor(ctx, entry, p)
	if err != nil {
		return nil, err
	}
	env, err := e.environment(ctx, p)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := h.Handle(weavedrive.WithBlockHeight(ctx, msg.BlockHeight), p.Memory, msg, env)
	e.metrics.ObserveExecute(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return out.Normalize(), nil
}

// post commits items as one bundle and reports the new ledger height.
func (e *Engine) post(ctx context.Context, items ...ir.DataItem) (*ir.Block, error) {
	block, err := e.store.PostBundle(ctx, e.clock.Now(), items...)
	if err != nil {
		return nil, err
	}
	e.metrics.SetLedgerHeight(block.Height)
	return block, nil
}

// call is the state of one top-level call: its effect queue, quota and
// cycle history.
type call struct {
	token string
	queue *workQueue
	quota *effectBudget
}

func (e *Engine) newCall() *call {
	return &call{
		token: e.flowGen.Generate(),
		queue: newWorkQueue(),
		quota: newEffectBudget(e.maxSteps),
	}
}

// finish drains the call's effects and drops its cycle history.
//
// Downstream failures never undo the message that triggered them: each
// failed effect is logged and the drain moves on. Exceeding the quota stops
// the drain.
func (e *Engine) finish(ctx context.Context, c *call) {
	defer e.cycles.Clear(c.token)

	for {
		w, ok := c.queue.TryDequeue()
		if !ok {
			if c.quota.spent > 0 {
				e.logger.Debug("effects drained", append([]any{"flow", c.token}, c.quota.summary()...)...)
			}
			return
		}
		if err := c.quota.spend(c.token, w.Kind, c.queue.Len()+1); err != nil {
			e.metrics.IncSkippedEffects("quota")
			e.logger.Warn("effect quota exceeded", "flow", c.token, "error", err)
			return
		}
		e.metrics.IncEffects(w.Kind.String())
		if err := e.dispatch(ctx, c, w); err != nil {
			e.logger.Warn("effect failed",
				"flow", c.token,
				"kind", w.Kind.String(),
				"source", w.Source,
				"trigger", w.Trigger,
				"error", err,
			)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, c *call, w Work) error {
	switch w.Kind {
	case WorkMessage:
		target, err := e.Process(ctx, w.Message.Target)
		if err != nil {
			return err
		}
		if target == nil {
			e.metrics.IncSkippedEffects("unknown_target")
			e.logger.Debug("message to unknown process dropped",
				"flow", c.token,
				"source", w.Source,
				"target", w.Message.Target,
			)
			return nil
		}
		_, err = e.message(ctx, c, MessageRequest{
			Process:   w.Message.Target,
			Tags:      w.Message.Tags,
			Data:      w.Message.Data,
			Signer:    e.messenger,
			From:      w.Source,
			PushedFor: w.Trigger,
		})
		return err

	case WorkSpawn:
		scheduler := w.Spawn.Tags.Value("Scheduler")
		if scheduler == "" {
			scheduler = e.scheduler.Address()
		}
		_, err := e.spawn(ctx, c, SpawnRequest{
			Module:    w.Spawn.Tags.Value("Module"),
			Scheduler: scheduler,
			Tags:      w.Spawn.Tags,
			Data:      w.Spawn.Data,
			Signer:    e.messenger,
			From:      w.Source,
			PushedFor: w.Trigger,
		})
		return err

	case WorkAssign:
		_, err := e.assign(ctx, c, AssignRequest{
			Process: w.AssignProcess,
			Message: w.AssignMessage,
			Signer:  e.scheduler,
			From:    w.Source,
		})
		return err
	}
	return fmt.Errorf("unknown effect kind %d", w.Kind)
}
