package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/vm"
)

// Handle implements vm.Handle.
func (h *handle) Handle(ctx context.Context, memory []byte, msg ir.Message, env ir.Environment) (*ir.Output, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fatal = nil

	mod, err := h.runtime.InstantiateModule(ctx, h.compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions("_initialize"))
	if err != nil {
		return nil, fmt.Errorf("wasm: instantiate: %w", err)
	}
	defer mod.Close(ctx)

	if err := restore(mod.Memory(), memory); err != nil {
		return nil, err
	}

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wasm: encode message: %w", err)
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wasm: encode env: %w", err)
	}
	msgPtr, err := write(ctx, mod, msgJSON)
	if err != nil {
		return nil, err
	}
	envPtr, err := write(ctx, mod, envJSON)
	if err != nil {
		return nil, err
	}

	res, err := mod.ExportedFunction(ExportHandle).Call(ctx,
		api.EncodeU32(msgPtr), api.EncodeU32(uint32(len(msgJSON))),
		api.EncodeU32(envPtr), api.EncodeU32(uint32(len(envJSON))))
	if h.fatal != nil {
		return nil, h.fatal
	}
	if err != nil {
		return nil, fmt.Errorf("wasm: handle: %w", err)
	}
	if len(res) != 1 {
		return nil, errors.New("wasm: handle returned no result")
	}

	ptr, size := uint32(res[0]>>32), uint32(res[0])
	raw, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("wasm: output [%d,+%d) out of range", ptr, size)
	}
	var out ir.Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("wasm: decode output: %w", err)
	}

	snapshot, ok := mod.Memory().Read(0, mod.Memory().Size())
	if !ok {
		return nil, errors.New("wasm: snapshot memory")
	}
	out.Memory = append([]byte(nil), snapshot...)
	return out.Normalize(), nil
}

// restore writes a snapshot over fresh instance memory, growing it first
// when the snapshot is larger.
func restore(mem api.Memory, snapshot []byte) error {
	if len(snapshot) == 0 {
		return nil
	}
	if size := uint64(mem.Size()); uint64(len(snapshot)) > size {
		delta := (uint64(len(snapshot)) - size + pageSize - 1) / pageSize
		if _, ok := mem.Grow(uint32(delta)); !ok {
			return fmt.Errorf("wasm: restore: cannot grow memory by %d pages", delta)
		}
	}
	if !mem.Write(0, snapshot) {
		return errors.New("wasm: restore: write failed")
	}
	return nil
}

func write(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	res, err := mod.ExportedFunction(ExportMalloc).Call(ctx, api.EncodeU32(uint32(len(data))))
	if err != nil {
		return 0, fmt.Errorf("wasm: malloc: %w", err)
	}
	ptr := api.DecodeU32(res[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("wasm: write %d bytes at %d out of range", len(data), ptr)
	}
	return ptr, nil
}

// instantiateDrive registers the "weavedrive" host module:
//
//	open(pathPtr, pathLen i32) i32          fd, or 0 when refused
//	read(fd, dstPtr, n i32) i32             bytes read, -1 on error
//	seek(fd i32, offset i64, whence i32) i64 new position, -1 on error
//	reset(fd i32) i32                       0, or -1 on error
//	close(fd i32) i32                       0, or -1 on error
func (h *handle) instantiateDrive(ctx context.Context) error {
	i32, i64 := api.ValueTypeI32, api.ValueTypeI64
	_, err := h.runtime.NewHostModuleBuilder("weavedrive").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.open), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export("open").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.read), []api.ValueType{i32, i32, i32}, []api.ValueType{i32}).
		Export("read").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.seek), []api.ValueType{i32, i64, i32}, []api.ValueType{i64}).
		Export("seek").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.reset), []api.ValueType{i32}, []api.ValueType{i32}).
		Export("reset").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.close), []api.ValueType{i32}, []api.ValueType{i32}).
		Export("close").
		Instantiate(ctx)
	return err
}

// driveErr records fatal errors and aborts the call. Other errors are
// logged and reported to the module as a failure code.
func (h *handle) driveErr(op string, err error) {
	if vm.IsFatal(err) {
		h.fatal = err
		panic(err)
	}
	h.logger.Debug("weavedrive call failed", "op", op, "error", err)
}

func (h *handle) open(ctx context.Context, mod api.Module, stack []uint64) {
	ptr, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	path, ok := mod.Memory().Read(ptr, n)
	if !ok || h.drive == nil {
		stack[0] = api.EncodeI32(0)
		return
	}
	fd, err := h.drive.Open(ctx, string(path))
	if err != nil {
		h.driveErr("open", err)
		stack[0] = api.EncodeI32(0)
		return
	}
	stack[0] = api.EncodeI32(int32(fd))
}

func (h *handle) read(ctx context.Context, mod api.Module, stack []uint64) {
	fd, dst, n := api.DecodeI32(stack[0]), api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
	if h.drive == nil {
		stack[0] = api.EncodeI32(-1)
		return
	}
	// The destination is checked before reading so a bad buffer leaves the
	// file position where it was.
	if uint64(dst)+uint64(n) > uint64(mod.Memory().Size()) {
		h.logger.Debug("weavedrive call failed", "op", "read", "error",
			fmt.Errorf("buffer [%d,+%d) out of range", dst, n))
		stack[0] = api.EncodeI32(-1)
		return
	}
	data, err := h.drive.Read(ctx, int(fd), int(n))
	if err != nil {
		h.driveErr("read", err)
		stack[0] = api.EncodeI32(-1)
		return
	}
	if !mod.Memory().Write(dst, data) {
		stack[0] = api.EncodeI32(-1)
		return
	}
	stack[0] = api.EncodeI32(int32(len(data)))
}

func (h *handle) seek(ctx context.Context, _ api.Module, stack []uint64) {
	fd, offset, whence := api.DecodeI32(stack[0]), int64(stack[1]), api.DecodeI32(stack[2])
	if h.drive == nil {
		stack[0] = api.EncodeI64(-1)
		return
	}
	pos, err := h.drive.Seek(ctx, int(fd), offset, int(whence))
	if err != nil {
		h.driveErr("seek", err)
		stack[0] = api.EncodeI64(-1)
		return
	}
	stack[0] = api.EncodeI64(pos)
}

func (h *handle) reset(ctx context.Context, _ api.Module, stack []uint64) {
	fd := api.DecodeI32(stack[0])
	if h.drive == nil {
		stack[0] = api.EncodeI32(-1)
		return
	}
	if err := h.drive.Reset(ctx, int(fd)); err != nil {
		h.driveErr("reset", err)
		stack[0] = api.EncodeI32(-1)
		return
	}
	stack[0] = api.EncodeI32(0)
}

func (h *handle) close(ctx context.Context, _ api.Module, stack []uint64) {
	fd := api.DecodeI32(stack[0])
	if h.drive == nil {
		stack[0] = api.EncodeI32(-1)
		return
	}
	if err := h.drive.Close(ctx, int(fd)); err != nil {
		h.driveErr("close", err)
		stack[0] = api.EncodeI32(-1)
		return
	}
	stack[0] = api.EncodeI32(0)
}
