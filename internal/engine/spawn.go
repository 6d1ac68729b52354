package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/aosim/internal/bundle"
	"github.com/roach88/aosim/internal/ir"
)

// SpawnRequest describes a process to create.
type SpawnRequest struct {
	// Module is the id of the module transaction holding the bytecode.
	Module string
	// Scheduler is the address of the scheduler unit for the process.
	Scheduler string
	Tags      ir.Tags
	Data      string
	// Signer signs the spawn item. Defaults to the messenger unit.
	Signer bundle.Signer
	// From is the process that spawned this one, if any.
	From string
	// PushedFor is the message whose execution produced the spawn.
	PushedFor string
}

// Spawn creates a process and returns its id.
//
// The spawn item is signed and posted before the host is instantiated.
// When the tags carry On-Boot, a boot message runs against empty memory
// and its resulting memory becomes the initial memory. The boot run does
// not count as a step of the process.
func (e *Engine) Spawn(ctx context.Context, req SpawnRequest) (string, error) {
	c := e.newCall()
	pid, err := e.spawn(ctx, c, req)
	e.finish(ctx, c)
	return pid, err
}

func (e *Engine) spawn(ctx context.Context, c *call, req SpawnRequest) (string, error) {
	if req.Module == "" {
		return "", &ConfigError{Field: "module", Message: "module missing"}
	}
	if req.Scheduler == "" {
		return "", &ConfigError{Field: "scheduler", Message: "scheduler missing"}
	}

	mod, ok, err := e.store.Module(ctx, req.Module)
	if err != nil {
		return "", fmt.Errorf("spawn: %w", err)
	}
	if !ok {
		return "", &SpawnError{Module: req.Module, Reason: "module bytecode not found"}
	}

	tags := spawnTags(req, e.messenger.Address())
	span, cronTags, err := cronConfig(tags)
	if err != nil {
		return "", err
	}

	signer := req.Signer
	if signer == nil {
		signer = e.messenger
	}
	item, err := signer.Sign(ctx, []byte(req.Data), tags, "")
	if err != nil {
		return "", fmt.Errorf("spawn: %w", err)
	}
	block, err := e.post(ctx, item)
	if err != nil {
		return "", fmt.Errorf("spawn: post: %w", err)
	}

	ext := tags.Value("Extension")
	if ext == "" {
		ext = ir.WeaveDriveProtocol
	}
	p := &ir.Process{
		ID:        item.ID,
		Owner:     item.Owner,
		Module:    req.Module,
		Scheduler: req.Scheduler,
		Extension: ext,
		Format:    mod.Format,
		OnBoot:    tags.Value("On-Boot"),
		Hash:      item.ID,
		Epochs:    [][]string{},
		Results:   []string{},
		CronTags:  cronTags,
		Span:      span,
	}

	entry := e.entry(p.ID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if _, err := e.handleFor(ctx, entry, p); err != nil {
		return "", err
	}

	rec := &ir.MessageRecord{
		ID:          p.ID,
		Process:     p.ID,
		Owner:       item.Owner,
		From:        req.From,
		PushedFor:   req.PushedFor,
		Tags:        item.Tags,
		Data:        req.Data,
		BlockHeight: block.Height,
		Timestamp:   block.Timestamp,
	}
	if p.OnBoot != "" {
		out, err := e.boot(ctx, entry, p, rec)
		if err != nil {
			return "", err
		}
		rec.Output = out
	}
	if err := e.saveMessage(ctx, rec); err != nil {
		return "", err
	}
	if err := e.saveProcess(ctx, p); err != nil {
		return "", err
	}

	e.metrics.IncSpawns()
	e.logger.Info("process spawned",
		"flow", c.token,
		"process", p.ID,
		"module", p.Module,
		"format", p.Format,
		"height", block.Height,
	)
	return p.ID, nil
}

// spawnTags stamps the canonical process tags over the caller's tags.
// Module and Scheduler always come from the request.
func spawnTags(req SpawnRequest, authority string) ir.Tags {
	own := make(ir.Tags, 0, len(req.Tags))
	for _, t := range req.Tags {
		if t.Name == "Module" || t.Name == "Scheduler" {
			continue
		}
		own = append(own, t)
	}
	tags := own.WithDefaults(ir.T(
		"Data-Protocol", ir.DataProtocol,
		"Variant", ir.Variant,
		"Type", ir.TypeProcess,
		"SDK", ir.SDK,
		"Module", req.Module,
		"Scheduler", req.Scheduler,
		"Content-Type", "text/plain",
		"Authority", authority,
	))
	if req.PushedFor != "" {
		tags = tags.Without(provenanceTags...)
	}
	if req.From != "" && !tags.Contains("From-Process") {
		tags = tags.Append("From-Process", req.From)
	}
	if req.PushedFor != "" {
		tags = tags.Append("Pushed-For", req.PushedFor)
	}
	return tags
}

// boot runs the On-Boot message of a new process. The caller holds entry.mu.
//
// On-Boot=Data boots with the spawn data. Any other value names a stored
// message whose data is used instead.
func (e *Engine) boot(ctx context.Context, entry *procEntry, p *ir.Process, spawn *ir.MessageRecord) (*ir.Output, error) {
	data := spawn.Data
	if p.OnBoot != "Data" {
		data = ""
		src, err := e.loadMessage(ctx, p.OnBoot)
		if err != nil {
			return nil, err
		}
		if src != nil {
			data = src.Data
		} else if tx, err := e.store.Tx(ctx, p.OnBoot); err == nil {
			data = string(tx.Data)
		}
	}

	msg := ir.Message{
		ID:          p.ID,
		Target:      p.ID,
		Owner:       spawn.Owner,
		Data:        data,
		BlockHeight: spawn.BlockHeight,
		Timestamp:   spawn.Timestamp,
		Module:      p.Module,
		From:        spawn.Owner,
		Tags:        spawn.Tags,
	}
	out, err := e.execute(ctx, entry, p, msg)
	if err != nil {
		return nil, &SpawnError{Process: p.ID, Module: p.Module, Reason: "boot failed", Err: err}
	}
	if out.Error != "" {
		e.metrics.IncExecutionErrors()
		e.logger.Warn("boot reported an error",
			"process", p.ID,
			"error", &ExecutionError{Process: p.ID, Message: p.ID, Reason: out.Error},
		)
		return out, nil
	}
	p.Memory = out.Memory
	return out, nil
}

// cronConfig reads Cron-Interval and the Cron-Tag-* tags of a spawn.
func cronConfig(tags ir.Tags) (int64, ir.Tags, error) {
	interval := tags.Value("Cron-Interval")
	if interval == "" {
		return 0, nil, nil
	}
	span, err := ParseCronInterval(interval)
	if err != nil {
		return 0, nil, err
	}
	var cronTags ir.Tags
	for _, t := range tags {
		if name, ok := strings.CutPrefix(t.Name, "Cron-Tag-"); ok {
			cronTags = append(cronTags, ir.Tag{Name: name, Value: t.Value})
		}
	}
	return span, cronTags, nil
}
