package wasm

import (
	"context"
	"io"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/ops"
	"github.com/wippyai/js-runtime/resource"
)

// Resource tags.
const (
	TagModule   = "wasm.module"
	TagInstance = "wasm.instance"
)

// Op names.
const (
	OpCompile     = "op_wasm_compile"
	OpInstantiate = "op_wasm_instantiate"
	OpCall        = "op_wasm_call"
	OpExports     = "op_wasm_exports"
)

// Config holds configuration for the extension.
type Config struct {
	// Stdout and Stderr receive WASI output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Args are passed to WASI guests as argv.
	Args []string

	// MemoryLimitPages caps memory per instance in 64KiB pages.
	// 0 keeps the wazero default.
	MemoryLimitPages uint32
}

// Extension provides the wasm ops. One Extension serves one runtime: Setup
// creates the wazero runtime and Close releases it.
type Extension struct {
	ctx       context.Context
	runtime   wazero.Runtime
	modules   *resource.Typed[*module]
	instances *resource.Typed[*instance]
	log       *zap.Logger
	cfg       Config
}

// New creates the extension.
func New(cfg Config) *Extension {
	return &Extension{cfg: cfg, ctx: context.Background()}
}

// Name implements ops.Extension.
func (e *Extension) Name() string { return "wasm" }

// Setup creates the wazero runtime and instantiates WASI preview1 once.
func (e *Extension) Setup(s *ops.State) error {
	rcfg := wazero.NewRuntimeConfig()
	if e.cfg.MemoryLimitPages > 0 {
		rcfg = rcfg.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	e.runtime = wazero.NewRuntimeWithConfig(e.ctx, rcfg)
	if _, err := instantiateWASI(e.ctx, e.runtime); err != nil {
		e.runtime.Close(e.ctx)
		return errors.Wrap(errors.PhaseHost, errors.KindRegistration, err, "instantiate WASI")
	}

	e.modules = resource.NewTyped[*module](s.Resources, TagModule)
	e.instances = resource.NewTyped[*instance](s.Resources, TagInstance)
	e.log = s.Logger.Named("wasm")
	s.Put(e.Name(), e)
	return nil
}

// Ops implements ops.Extension.
func (e *Extension) Ops() []ops.Op {
	return []ops.Op{
		{Name: OpCompile, Handler: ops.JSON(e.compile)},
		{Name: OpInstantiate, Handler: ops.Sync(e.instantiate)},
		{Name: OpCall, Handler: ops.Sync(e.call)},
		{Name: OpExports, Handler: ops.Sync(e.exports)},
	}
}

// Close releases the wazero runtime and every module still open in it.
func (e *Extension) Close() error {
	if e.runtime == nil {
		return nil
	}
	err := e.runtime.Close(e.ctx)
	e.runtime = nil
	return err
}

// InstanceRequest names an instance.
type InstanceRequest struct {
	Instance resource.ID `json:"instance"`
}

// InstantiateRequest names a compiled module.
type InstantiateRequest struct {
	Module resource.ID `json:"module"`
}

// CallRequest invokes an exported function.
type CallRequest struct {
	Name     string      `json:"name"`
	Args     []uint64    `json:"args"`
	Instance resource.ID `json:"instance"`
}

type module struct {
	compiled wazero.CompiledModule
	ctx      context.Context
}

func (m *module) Close() error { return m.compiled.Close(m.ctx) }

type instance struct {
	mod api.Module
	ctx context.Context
}

func (i *instance) Close() error { return i.mod.Close(i.ctx) }

// compile takes the module bytes as the first extra buffer.
func (e *Extension) compile(s *ops.State, _ struct{}, bufs [][]byte) (resource.ID, error) {
	if len(bufs) == 0 || len(bufs[0]) == 0 {
		return 0, errors.InvalidInput(errors.PhaseDispatch, "module bytes required")
	}
	// the buffer belongs to script and may change after the call
	src := make([]byte, len(bufs[0]))
	copy(src, bufs[0])

	compiled, err := e.runtime.CompileModule(e.ctx, src)
	if err != nil {
		return 0, errors.New(errors.PhaseDispatch, errors.KindInvalidData).
			Class("CompileError").
			Detail("compile wasm module").
			Cause(err).
			Build()
	}
	id := e.modules.Insert(&module{compiled: compiled, ctx: e.ctx})
	e.log.Debug("module compiled", zap.Uint32("rid", uint32(id)), zap.Int("bytes", len(src)))
	return id, nil
}

func (e *Extension) instantiate(s *ops.State, req InstantiateRequest) (resource.ID, error) {
	m, ok := e.modules.Get(req.Module)
	if !ok {
		return 0, errors.ResourceNotFound(uint32(req.Module))
	}

	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(e.cfg.Args...).
		WithStartFunctions()
	if e.cfg.Stdout != nil {
		cfg = cfg.WithStdout(e.cfg.Stdout)
	}
	if e.cfg.Stderr != nil {
		cfg = cfg.WithStderr(e.cfg.Stderr)
	}

	mod, err := e.runtime.InstantiateModule(e.ctx, m.compiled, cfg)
	if err != nil {
		return 0, errors.New(errors.PhaseDispatch, errors.KindInvalidData).
			Class("LinkError").
			Detail("instantiate wasm module").
			Cause(err).
			Build()
	}
	return e.instances.Insert(&instance{mod: mod, ctx: e.ctx}), nil
}

func (e *Extension) call(s *ops.State, req CallRequest) ([]uint64, error) {
	inst, ok := e.instances.Get(req.Instance)
	if !ok {
		return nil, errors.ResourceNotFound(uint32(req.Instance))
	}
	fn := inst.mod.ExportedFunction(req.Name)
	if fn == nil {
		return nil, errors.New(errors.PhaseDispatch, errors.KindNotFound).
			Class("TypeError").
			Detail("no exported function %q", req.Name).
			Build()
	}
	if want := len(fn.Definition().ParamTypes()); want != len(req.Args) {
		return nil, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Detail("%s takes %d arguments, got %d", req.Name, want, len(req.Args)).
			Build()
	}

	results, err := fn.Call(e.ctx, req.Args...)
	if err != nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindThrown).
			Class("RuntimeError").
			Detail("call %s", req.Name).
			Cause(err).
			Build()
	}
	if results == nil {
		results = []uint64{}
	}
	return results, nil
}

// exports lists the exported function names of an instance, sorted.
func (e *Extension) exports(s *ops.State, req InstanceRequest) ([]string, error) {
	inst, ok := e.instances.Get(req.Instance)
	if !ok {
		return nil, errors.ResourceNotFound(uint32(req.Instance))
	}
	defs := inst.mod.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
