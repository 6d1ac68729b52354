package engine

import (
	"context"
	"fmt"

	"github.com/roach88/aosim/internal/bundle"
	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/queryir"
	"github.com/roach88/aosim/internal/store"
)

// ModuleRequest describes module bytecode to publish.
type ModuleRequest struct {
	Format   string
	Bytecode []byte
	// Tags override the module defaults by name.
	Tags ir.Tags
	// Signer signs the module item. Defaults to the messenger unit.
	Signer bundle.Signer
}

// Default resource limits stamped on published modules.
const (
	DefaultMemoryLimit  = "1-gb"
	DefaultComputeLimit = "9000000000000"
)

// PostModule publishes module bytecode as a ledger item and registers it
// for spawning. Returns the module id.
func (e *Engine) PostModule(ctx context.Context, req ModuleRequest) (string, error) {
	if req.Format == "" {
		return "", &ConfigError{Field: "format", Message: "module format missing"}
	}
	tags := req.Tags.WithDefaults(ir.T(
		"Data-Protocol", ir.DataProtocol,
		"Variant", ir.Variant,
		"Type", ir.TypeModule,
		"Module-Format", req.Format,
		"Input-Encoding", "JSON-1",
		"Output-Encoding", "JSON-1",
		"Memory-Limit", DefaultMemoryLimit,
		"Compute-Limit", DefaultComputeLimit,
		"Extension", ir.WeaveDriveProtocol,
		"Content-Type", "application/wasm",
		"SDK", ir.SDK,
	))

	signer := req.Signer
	if signer == nil {
		signer = e.messenger
	}
	item, err := signer.Sign(ctx, req.Bytecode, tags, "")
	if err != nil {
		return "", fmt.Errorf("post module: %w", err)
	}
	if _, err := e.post(ctx, item); err != nil {
		return "", fmt.Errorf("post module: %w", err)
	}
	if err := e.store.PutModule(ctx, item.ID, store.Module{
		Format:   tags.Value("Module-Format"),
		Bytecode: req.Bytecode,
	}); err != nil {
		return "", fmt.Errorf("post module: %w", err)
	}
	e.logger.Info("module published", "module", item.ID, "format", req.Format, "size", len(req.Bytecode))
	return item.ID, nil
}

// PostSchedulerLocation announces the scheduler unit's URL. An
// announcement of the same URL by the same scheduler is reused, so the
// ledger carries at most one per URL.
func (e *Engine) PostSchedulerLocation(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", &ConfigError{Field: "Url", Message: "scheduler url missing"}
	}
	existing, err := e.store.Query(ctx, queryir.Filter{
		Where: queryir.All(append(queryir.Tags("Type", ir.TypeSchedulerLocation, "Url", url),
			queryir.OwnerIn{Owners: []string{e.scheduler.Address()}})...),
		Limit: 1,
	})
	if err != nil {
		return "", fmt.Errorf("post scheduler location: %w", err)
	}
	if len(existing) > 0 {
		return existing[0].ID, nil
	}

	item, err := e.scheduler.Sign(ctx, nil, ir.T(
		"Data-Protocol", ir.DataProtocol,
		"Variant", ir.Variant,
		"Type", ir.TypeSchedulerLocation,
		"Url", url,
		"Time-To-Live", "1000000000",
	), "")
	if err != nil {
		return "", fmt.Errorf("post scheduler location: %w", err)
	}
	if _, err := e.post(ctx, item); err != nil {
		return "", fmt.Errorf("post scheduler location: %w", err)
	}
	e.logger.Info("scheduler location posted", "scheduler", e.scheduler.Address(), "url", url)
	return item.ID, nil
}

// Attest posts an Attestation for content id, signed by signer or by the
// scheduler unit. Processes in any availability mode whose attestors
// include the signer may then read the content.
func (e *Engine) Attest(ctx context.Context, id string, signer bundle.Signer) (string, error) {
	return e.postMarker(ctx, signer, ir.T(
		"Data-Protocol", ir.DataProtocol,
		"Variant", ir.Variant,
		"Type", ir.TypeAttestation,
		"Message", id,
	))
}

// Avail posts an Available marker for content id, signed by signer or by
// the scheduler unit. It admits reads by Individual-mode processes.
func (e *Engine) Avail(ctx context.Context, id string, signer bundle.Signer) (string, error) {
	return e.postMarker(ctx, signer, ir.T(
		"Data-Protocol", ir.WeaveDriveProtocol,
		"Variant", ir.WeaveDriveVariant,
		"Type", ir.TypeAvailable,
		"ID", id,
	))
}

func (e *Engine) postMarker(ctx context.Context, signer bundle.Signer, tags ir.Tags) (string, error) {
	if signer == nil {
		signer = e.scheduler
	}
	item, err := signer.Sign(ctx, nil, tags, "")
	if err != nil {
		return "", fmt.Errorf("post %s: %w", tags.Value("Type"), err)
	}
	if _, err := e.post(ctx, item); err != nil {
		return "", fmt.Errorf("post %s: %w", tags.Value("Type"), err)
	}
	return item.ID, nil
}

// Upload posts arbitrary content as a data item and returns its id.
func (e *Engine) Upload(ctx context.Context, data []byte, tags ir.Tags, signer bundle.Signer) (string, error) {
	if signer == nil {
		signer = e.messenger
	}
	item, err := signer.Sign(ctx, data, tags, "")
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if _, err := e.post(ctx, item); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return item.ID, nil
}
