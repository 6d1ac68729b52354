package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/aosim/internal/bundle"
	"github.com/roach88/aosim/internal/compiler"
	"github.com/roach88/aosim/internal/ir"
)

// PublishManifest publishes a compiled module manifest and returns the
// module id.
//
// A native module carries its program name as bytecode. A wasm module
// reads its source file, resolved against dir when relative.
func (e *Engine) PublishManifest(ctx context.Context, spec *ir.ModuleSpec, dir string, signer bundle.Signer) (string, error) {
	var bytecode []byte
	if program, ok := strings.CutPrefix(spec.Format, compiler.NativePrefix); ok {
		bytecode = []byte(program)
	} else {
		path := spec.Source
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("module %s: %w", spec.Name, err)
		}
		bytecode = b
	}
	return e.PostModule(ctx, ModuleRequest{
		Format:   spec.Format,
		Bytecode: bytecode,
		Tags:     compiler.ModuleTags(spec),
		Signer:   signer,
	})
}

// SpawnManifest spawns a compiled process manifest on module id. The
// process is assigned to this engine's scheduler.
func (e *Engine) SpawnManifest(ctx context.Context, spec *ir.ProcessSpec, module string, signer bundle.Signer) (string, error) {
	return e.Spawn(ctx, SpawnRequest{
		Module:    module,
		Scheduler: e.Scheduler(),
		Tags:      compiler.SpawnTags(spec),
		Data:      spec.Data,
		Signer:    signer,
	})
}
