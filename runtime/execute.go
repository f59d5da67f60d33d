package runtime

import (
	"context"
	"strconv"
	"time"

	"github.com/grafana/sobek"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/bridge"
	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/linker"
)

// Execute compiles and runs a classic script in the global context, then
// drains microtasks and queued dynamic imports. Compile and runtime
// failures both come back as *engine.ScriptError.
//
// On a snapshot producer every successful script becomes part of the
// startup image.
func (r *Runtime) Execute(ctx context.Context, name, src string) (bool, error) {
	leave, err := r.enter(ctx)
	if err != nil {
		return false, err
	}
	defer leave()

	if _, err := r.run(name, src); err != nil {
		return false, err
	}
	if r.journal != nil {
		r.journal.Record(name, src)
	}
	if _, err := r.drainImports(); err != nil {
		return false, err
	}
	return true, nil
}

// Eval runs a classic script and returns its completion value exported to
// Go. A promise completion is awaited.
func (r *Runtime) Eval(ctx context.Context, name, src string) (any, error) {
	leave, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	v, err := r.run(name, src)
	if err != nil {
		return nil, err
	}
	v, err = r.settle(v)
	if err != nil {
		return nil, err
	}
	return export(v), nil
}

func (r *Runtime) run(name, src string) (sobek.Value, error) {
	prg, err := r.iso.CompileScript(name, src)
	if err != nil {
		return nil, err
	}
	return r.iso.Run(prg)
}

// settle awaits v when it is a promise, pumping dynamic imports meanwhile.
func (r *Runtime) settle(v sobek.Value) (sobek.Value, error) {
	if v == nil {
		return sobek.Undefined(), nil
	}
	p, ok := v.Export().(*sobek.Promise)
	if !ok {
		if _, err := r.drainImports(); err != nil {
			return nil, err
		}
		return v, nil
	}
	return r.iso.Await(p, r.drainImports)
}

func export(v sobek.Value) any {
	if v == nil || sobek.IsUndefined(v) || sobek.IsNull(v) {
		return nil
	}
	return v.Export()
}

// LoadMainModule loads, links and evaluates specifier as the main module.
// Top-level await is run to completion before returning.
func (r *Runtime) LoadMainModule(ctx context.Context, specifier string) (*linker.Module, error) {
	leave, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()
	return r.loader.LoadMain(specifier)
}

// LoadModule loads a side module. Loading an already evaluated module
// returns its existing record.
func (r *Runtime) LoadModule(ctx context.Context, specifier string) (*linker.Module, error) {
	leave, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()
	return r.loader.Load(specifier, "")
}

// DefineModule registers in-memory source for specifier.
func (r *Runtime) DefineModule(specifier, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loader.Graph().Define(specifier, source)
}

// Namespace returns the namespace object of an evaluated module. The object
// belongs to the isolate and must only be used while no other call runs.
func (r *Runtime) Namespace(m *linker.Module) *sobek.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loader.Namespace(m)
}

// Exports returns the exported bindings of an evaluated module.
func (r *Runtime) Exports(ctx context.Context, m *linker.Module) (map[string]any, error) {
	leave, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	ns := r.loader.Namespace(m)
	out := make(map[string]any)
	for _, key := range ns.Keys() {
		out[key] = export(ns.Get(key))
	}
	return out, nil
}

// CallExport calls an exported function of an evaluated module. A promise
// result is awaited.
func (r *Runtime) CallExport(ctx context.Context, m *linker.Module, name string, args ...any) (any, error) {
	leave, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	fn, ok := sobek.AssertFunction(r.loader.Namespace(m).Get(name))
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "exported function", name)
	}
	vals := make([]sobek.Value, len(args))
	for i, a := range args {
		vals[i] = r.vm.ToValue(a)
	}
	v, err := r.iso.Call(fn, nil, vals...)
	if err != nil {
		return nil, err
	}
	v, err = r.settle(v)
	if err != nil {
		return nil, err
	}
	return export(v), nil
}

// Boot runs the initial loader: loaderPath is imported dynamically from a
// classic script and awaited, so the loader module may itself import more
// modules at run time.
func (r *Runtime) Boot(ctx context.Context, loaderPath string) error {
	leave, err := r.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	v, err := r.run("ext:core/boot.js", "import("+strconv.Quote(loaderPath)+")")
	if err != nil {
		return err
	}
	if _, err := r.settle(v); err != nil {
		return err
	}
	r.log.Info("loader booted", zap.String("loader", loaderPath))
	return nil
}

// Dispatch runs one host-to-script turn: msg is written into the transport
// buffer, the script receiver is called with the grown flag, microtasks and
// dynamic imports are drained, and the oldest unhandled rejection, if any,
// is returned. Each pending rejection is surfaced at most once.
func (r *Runtime) Dispatch(ctx context.Context, msg bridge.Message) error {
	leave, err := r.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	start := time.Now()
	defer func() { r.metrics.turns.Observe(time.Since(start).Seconds()) }()

	if r.recv == nil {
		return errors.New(errors.PhaseBridge, errors.KindInvalidInput).
			Detail("no receiver installed").
			Build()
	}

	grown := r.bridge.Deliver(msg)
	if grown {
		r.shared = nil
		r.metrics.grows.Inc()
	}

	_, err = r.iso.Call(r.recv, nil, r.vm.ToValue(grown))
	if errors.Is(err, errors.ErrTerminated) {
		return err
	}
	// Work the receiver queued before throwing still runs this turn.
	if serr := r.quiesce(); serr != nil && (err == nil || errors.Is(serr, errors.ErrTerminated)) {
		return serr
	}
	if err != nil {
		return err
	}
	return r.takeRejection()
}

// quiesce runs microtasks and pending dynamic imports.
func (r *Runtime) quiesce() error {
	if err := r.iso.RunMicrotasks(); err != nil {
		return err
	}
	_, err := r.drainImports()
	return err
}

// Snapshot serializes the producer's startup context and consumes the
// runtime: the module graph and global context are discarded and every
// later call fails as closed. Calling it on a runtime that is not a
// producer is a wiring bug and panics.
func (r *Runtime) Snapshot() ([]byte, error) {
	if r.journal == nil {
		panic(errors.SnapshotMisuse("snapshot requires a snapshot producer runtime"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New(errors.PhaseSnapshot, errors.KindClosed).Detail("runtime closed").Build()
	}

	blob, err := engine.EncodeSnapshot(r.journal)
	r.shutdown()
	if err != nil {
		return nil, err
	}
	r.log.Info("snapshot created",
		zap.Int("scripts", len(r.journal.Entries())),
		zap.Int("bytes", len(blob)))
	return blob, nil
}

// restore replays a startup image into the fresh context.
func (r *Runtime) restore(blob []byte) error {
	j, err := engine.DecodeSnapshot(blob)
	if err != nil {
		return err
	}
	for _, e := range j.Entries() {
		if _, err := r.run(e.Name, e.Source); err != nil {
			return errors.Wrap(errors.PhaseSnapshot, errors.KindInvalidData, err, "replay "+e.Name)
		}
	}
	if err := r.iso.RunMicrotasks(); err != nil {
		return err
	}
	r.log.Debug("snapshot restored", zap.Int("scripts", len(j.Entries())))
	return nil
}
