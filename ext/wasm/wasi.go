package wasm

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WASIModule is the import module name of WASI preview1.
const WASIModule = wasi_snapshot_preview1.ModuleName

const (
	ebadf     = 8          // POSIX EBADF
	invalidFD = 0xFFFFFFFF // -1 as uint32
)

// instantiateWASI instantiates WASI preview1 in r plus the two adapter
// stubs that component-model toolchains import from the same module.
func instantiateWASI(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	if m := r.Module(WASIModule); m != nil {
		return m, nil
	}
	builder := r.NewHostModuleBuilder(WASIModule)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, _ []uint64) {
		}), nil, nil).
		Export("reset_adapter_state")

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = ebadf
		}), []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export("adapter_close_badfd")

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = invalidFD
		}), []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export("adapter_open_badfd")

	return builder.Instantiate(ctx)
}
