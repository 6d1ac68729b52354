package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/queryir"
	"github.com/roach88/aosim/internal/store"
)

// VerifyHashChain replays the hash chain of a process and checks it
// against both the stored head and the assignments on the ledger.
//
// The chain is seeded with the process id and folded over the first
// message of every epoch, in order. Each assignment's Epoch, Message and
// Hash-Chain tags must match the replayed step at its position.
func (e *Engine) VerifyHashChain(ctx context.Context, pid string) error {
	p, err := e.Process(ctx, pid)
	if err != nil {
		return err
	}
	if p == nil {
		return &NotFoundError{Kind: "process", ID: pid}
	}

	txs, err := e.store.Query(ctx, queryir.Filter{Where: queryir.All(queryir.Tags(
		"Type", ir.TypeAssignment,
		"Process", pid,
	)...)})
	if err != nil {
		return fmt.Errorf("verify %s: %w", pid, err)
	}
	if len(txs) != len(p.Epochs) {
		return mismatch(pid, fmt.Sprintf("%d epochs but %d assignments on the ledger", len(p.Epochs), len(txs)))
	}

	hash := p.ID
	for i, epoch := range p.Epochs {
		if len(epoch) == 0 {
			return mismatch(pid, fmt.Sprintf("epoch %d is empty", i))
		}
		hash = ir.HashChain(hash, epoch[0])

		tags := txs[i].Tags
		switch {
		case tags.Value("Epoch") != strconv.Itoa(i):
			return mismatch(pid, fmt.Sprintf("assignment %s has epoch %q, want %d", txs[i].ID, tags.Value("Epoch"), i))
		case tags.Value("Message") != epoch[0]:
			return mismatch(pid, fmt.Sprintf("epoch %d orders %s but the ledger has %s", i, epoch[0], tags.Value("Message")))
		case tags.Value("Hash-Chain") != hash:
			return mismatch(pid, fmt.Sprintf("epoch %d hash differs from assignment %s", i, txs[i].ID))
		}
	}
	if hash != p.Hash {
		return mismatch(pid, "stored head differs from replayed chain")
	}
	return nil
}

func mismatch(pid, msg string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeHashMismatch, Message: msg, Process: pid}
}

// Resume clears a capability halt so the process accepts assignments
// again. Resuming a running process is a no-op.
func (e *Engine) Resume(ctx context.Context, pid string) error {
	entry := e.entry(pid)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	p, err := e.Process(ctx, pid)
	if err != nil {
		return err
	}
	if p == nil {
		return &NotFoundError{Kind: "process", ID: pid}
	}
	if p.Halted == "" {
		return nil
	}
	e.logger.Info("process resumed", "process", pid, "reason", p.Halted)
	p.Halted = ""
	return e.saveProcess(ctx, p)
}

// Processes lists the ids of all spawned processes.
func (e *Engine) Processes(ctx context.Context) ([]string, error) {
	return e.store.Keys(ctx, store.CategoryEnv)
}
