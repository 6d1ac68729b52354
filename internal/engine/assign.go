package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/aosim/internal/bundle"
	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/store"
)

// MessageRequest describes a message to send to a process.
type MessageRequest struct {
	Process string
	Tags    ir.Tags
	Data    string
	// Signer signs the message item. Defaults to the messenger unit.
	Signer bundle.Signer
	// From overrides the sender seen by the process. Defaults to the
	// signer's address.
	From string
	// PushedFor is the message whose execution produced this one. When set,
	// From is the sending process and provenance tags are attached.
	PushedFor string
	// Cron marks a tick of the process's cron timer.
	Cron bool
}

// provenanceTags are stamped by the engine on effects. Copies a process
// wrote into its own effect tags are dropped first.
var provenanceTags = []string{"Pushed-For", "From-Process", "From-Module"}

// AssignRequest orders an existing message into a process.
type AssignRequest struct {
	Process string
	Message string
	// Signer signs the assignment. Defaults to the scheduler unit.
	Signer bundle.Signer
	// Item is the message item when it still has to be posted. It lands in
	// the same bundle as the assignment.
	Item *ir.DataItem
	// From is the sender used when the stored message names none.
	From string
}

// Message signs a message for a process, stores it and assigns it.
// Returns "" for an unknown process.
//
// Effects of the message are dispatched before Message returns. Their
// failures are logged and never fail the call.
func (e *Engine) Message(ctx context.Context, req MessageRequest) (string, error) {
	c := e.newCall()
	mid, err := e.message(ctx, c, req)
	e.finish(ctx, c)
	return mid, err
}

// Assign orders message mid into a process and executes it.
// Returns "" when the process or message is unknown, or when execution
// failed in the host. A capability halt is returned as an error and halts
// the process.
func (e *Engine) Assign(ctx context.Context, req AssignRequest) (string, error) {
	c := e.newCall()
	mid, err := e.assign(ctx, c, req)
	e.finish(ctx, c)
	return mid, err
}

func (e *Engine) message(ctx context.Context, c *call, req MessageRequest) (string, error) {
	p, err := e.Process(ctx, req.Process)
	if err != nil {
		return "", err
	}
	if p == nil {
		e.logger.Debug("message to unknown process", "flow", c.token, "process", req.Process)
		return "", nil
	}

	tags := req.Tags.WithDefaults(ir.T(
		"Data-Protocol", ir.DataProtocol,
		"Variant", ir.Variant,
		"Type", ir.TypeMessage,
		"SDK", ir.SDK,
	))
	if req.PushedFor != "" {
		tags = tags.Without(provenanceTags...)
		tags = tags.Append("Pushed-For", req.PushedFor)
		tags = tags.Append("From-Process", req.From)
		ftags, err := e.txTags(ctx, req.From)
		if err != nil {
			return "", fmt.Errorf("message: %w", err)
		}
		if module := ftags.Value("Module"); module != "" {
			tags = tags.Append("From-Module", module)
		}
	}

	signer := req.Signer
	if signer == nil {
		signer = e.messenger
	}
	item, err := signer.Sign(ctx, []byte(req.Data), tags, p.ID)
	if err != nil {
		return "", fmt.Errorf("message: %w", err)
	}

	rec := &ir.MessageRecord{
		ID:        item.ID,
		Process:   p.ID,
		Owner:     item.Owner,
		From:      req.From,
		PushedFor: req.PushedFor,
		Tags:      item.Tags,
		Data:      req.Data,
		Cron:      req.Cron,
	}
	if err := e.saveMessage(ctx, rec); err != nil {
		return "", err
	}

	if _, err := e.assign(ctx, c, AssignRequest{
		Process: p.ID,
		Message: item.ID,
		Item:    &item,
		From:    item.Owner,
	}); err != nil {
		return item.ID, err
	}
	return item.ID, nil
}

func (e *Engine) assign(ctx context.Context, c *call, req AssignRequest) (string, error) {
	p, err := e.Process(ctx, req.Process)
	if err != nil {
		return "", err
	}
	if p == nil || req.Process == "" {
		e.logger.Debug("assign to unknown process", "flow", c.token, "process", req.Process)
		return "", nil
	}
	if p.Halted != "" {
		return "", NewHaltedError(p.ID, p.Halted)
	}
	if !e.cycles.Visit(c.token, p.ID, req.Message) {
		e.metrics.IncSkippedEffects("cycle")
		e.logger.Warn("assignment skipped",
			"flow", c.token,
			"error", NewCycleError(c.token, p.ID, req.Message),
		)
		return "", nil
	}

	rec, err := e.resolveMessage(ctx, req)
	if err != nil {
		return "", err
	}
	if rec == nil {
		e.logger.Debug("assign of unknown message", "flow", c.token, "process", p.ID, "message", req.Message)
		return "", nil
	}

	entry := e.entry(p.ID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Reload under the lock: a concurrent call may have advanced the chain.
	if p, err = e.Process(ctx, req.Process); err != nil {
		return "", err
	}
	if p.Halted != "" {
		return "", NewHaltedError(p.ID, p.Halted)
	}

	block, err := e.order(ctx, p, req)
	if err != nil {
		return "", err
	}

	from := rec.From
	if from == "" {
		from = req.From
	}
	if from == "" {
		from = rec.Owner
	}
	msg := ir.Message{
		ID:          req.Message,
		Target:      p.ID,
		Owner:       rec.Owner,
		Data:        rec.Data,
		BlockHeight: block.Height,
		Timestamp:   block.Timestamp,
		Module:      p.Module,
		From:        from,
		Cron:        rec.Cron,
		Tags:        rec.Tags,
	}
	rec.BlockHeight = block.Height
	rec.Timestamp = block.Timestamp

	out, err := e.execute(ctx, entry, p, msg)
	if err != nil {
		return "", e.failed(ctx, c, p, req.Message, err)
	}
	p.Height++

	if out.Error != "" {
		e.metrics.IncExecutionErrors()
		e.logger.Warn("message reported an error",
			"flow", c.token,
			"error", &ExecutionError{Process: p.ID, Message: req.Message, Reason: out.Error},
		)
	} else {
		p.Memory = out.Memory
	}
	p.Results = append(p.Results, req.Message)
	if err := e.saveProcess(ctx, p); err != nil {
		return "", err
	}

	// A message assigned into a process other than its target keeps its own
	// record; the output for this process is stored beside it.
	key := rec.ID
	if rec.Process != p.ID {
		cp := *rec
		cp.Process = p.ID
		rec, key = &cp, resultKey(p.ID, rec.ID)
	}
	rec.Output = out
	if err := e.saveMessageAt(ctx, key, rec); err != nil {
		return "", err
	}

	e.metrics.IncAssignments()
	e.logger.Debug("message assigned",
		"flow", c.token,
		"process", p.ID,
		"message", req.Message,
		"height", block.Height,
		"epoch", len(p.Epochs)-1,
	)

	if out.Error == "" {
		c.queue.EnqueueOutput(p.ID, req.Message, out)
	}
	return req.Message, nil
}

// resolveMessage finds the body of the message being assigned: the stored
// record, else the item in the request, else the ledger transaction.
func (e *Engine) resolveMessage(ctx context.Context, req AssignRequest) (*ir.MessageRecord, error) {
	rec, err := e.loadMessage(ctx, req.Message)
	if err != nil || rec != nil {
		return rec, err
	}
	if req.Item != nil && req.Item.ID == req.Message {
		return &ir.MessageRecord{
			ID:      req.Item.ID,
			Process: req.Process,
			Owner:   req.Item.Owner,
			Tags:    req.Item.Tags,
			Data:    string(req.Item.Data),
		}, nil
	}
	tx, err := e.store.Tx(ctx, req.Message)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve message %s: %w", req.Message, err)
	}
	return &ir.MessageRecord{
		ID:      tx.ID,
		Process: req.Process,
		Owner:   tx.Owner,
		Tags:    tx.Tags,
		Data:    string(tx.Data),
	}, nil
}

// order advances the hash chain, opens a new epoch and posts the signed
// assignment, together with the message item when it is not yet on the
// ledger. The chain is persisted before execution so the process always
// agrees with the assignments on the ledger.
func (e *Engine) order(ctx context.Context, p *ir.Process, req AssignRequest) (*ir.Block, error) {
	height, err := e.store.Height(ctx)
	if err != nil {
		return nil, fmt.Errorf("assign: %w", err)
	}
	hash := ir.HashChain(p.Hash, req.Message)
	tags := ir.T(
		"Timestamp", strconv.FormatInt(e.clock.Now(), 10),
		"Epoch", strconv.Itoa(len(p.Epochs)),
		"Nonce", "0",
		"Data-Protocol", ir.DataProtocol,
		"Variant", ir.Variant,
		"SDK", ir.SDK,
		"Type", ir.TypeAssignment,
		"Block-Height", strconv.FormatInt(height, 10),
		"Process", p.ID,
		"Message", req.Message,
		"Hash-Chain", hash,
	)

	signer := req.Signer
	if signer == nil {
		signer = e.scheduler
	}
	assignment, err := signer.Sign(ctx, nil, tags, p.ID)
	if err != nil {
		return nil, fmt.Errorf("assign: %w", err)
	}

	items := []ir.DataItem{assignment}
	if req.Item != nil {
		_, posted, err := e.store.BlockHeight(ctx, req.Item.ID)
		if err != nil {
			return nil, fmt.Errorf("assign: %w", err)
		}
		if !posted {
			items = []ir.DataItem{*req.Item, assignment}
		}
	}
	block, err := e.post(ctx, items...)
	if err != nil {
		return nil, fmt.Errorf("assign: post: %w", err)
	}

	p.Hash = hash
	p.Epochs = append(p.Epochs, []string{req.Message})
	if err := e.saveProcess(ctx, p); err != nil {
		return nil, err
	}
	return block, nil
}

// failed handles an execution that did not complete. A capability halt
// halts the process and is returned; anything else is logged and
// suppressed.
func (e *Engine) failed(ctx context.Context, c *call, p *ir.Process, mid string, err error) error {
	if IsCapabilityHalt(err) {
		p.Halted = err.Error()
		e.metrics.IncHalts()
		e.logger.Warn("process halted",
			"flow", c.token,
			"process", p.ID,
			"message", mid,
			"error", err,
		)
		if serr := e.saveProcess(ctx, p); serr != nil {
			return errors.Join(err, serr)
		}
		return err
	}

	e.metrics.IncExecutionErrors()
	e.logger.Error("execution failed",
		"flow", c.token,
		"process", p.ID,
		"message", mid,
		"error", err,
	)
	if IsSpawnError(err) {
		return err
	}
	return nil
}
