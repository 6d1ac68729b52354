package engine

import (
	"context"
	"fmt"

	"github.com/roach88/aosim/internal/bundle"
	"github.com/roach88/aosim/internal/ir"
)

// DryRunRequest describes a message evaluated without committing it.
type DryRunRequest struct {
	Process string
	Tags    ir.Tags
	Data    string
	// Signer, when set and ID is empty, signs a throwaway item so the
	// message gets a real id and owner. The item is never posted.
	Signer bundle.Signer
	ID     string
	Owner  string
}

// DryRun evaluates a message against the current process memory and
// returns the output. It never posts to the ledger and never changes the
// process's memory, hash, height, epochs or results. Effects are returned,
// not dispatched.
//
// Returns (nil, nil) for an unknown process or when the host fails. A
// capability halt is returned as an error but does not halt the process.
func (e *Engine) DryRun(ctx context.Context, req DryRunRequest) (*ir.Output, error) {
	p, err := e.Process(ctx, req.Process)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	id, owner := req.ID, req.Owner
	if id == "" && req.Signer != nil {
		item, err := req.Signer.Sign(ctx, []byte(req.Data), req.Tags, p.ID)
		if err != nil {
			return nil, fmt.Errorf("dryrun: %w", err)
		}
		id, owner = item.ID, item.Owner
	}

	entry := e.entry(p.ID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if p, err = e.Process(ctx, req.Process); err != nil {
		return nil, err
	}
	height, err := e.store.Height(ctx)
	if err != nil {
		return nil, fmt.Errorf("dryrun: %w", err)
	}
	msg := ir.Message{
		ID:          id,
		Target:      p.ID,
		Owner:       owner,
		Data:        req.Data,
		BlockHeight: height,
		Timestamp:   e.clock.Now(),
		Module:      p.Module,
		From:        owner,
		Tags:        req.Tags.Clone(),
	}
	if msg.Tags == nil {
		msg.Tags = ir.Tags{}
	}

	e.metrics.IncDryRuns()
	out, err := e.execute(ctx, entry, p, msg)
	if err != nil {
		if IsCapabilityHalt(err) {
			return nil, err
		}
		e.logger.Warn("dry run failed", "process", p.ID, "error", err)
		return nil, nil
	}
	return out, nil
}
