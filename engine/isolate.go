package engine

import (
	"sync"
	"sync/atomic"

	"github.com/grafana/sobek"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/errors"
)

// DefaultMaxCallStackSize bounds script recursion depth.
const DefaultMaxCallStackSize = 4096

// Config configures a new Isolate.
type Config struct {
	// MaxCallStackSize limits the script call stack. Zero uses the default.
	MaxCallStackSize int

	// Fields of Go structs handed to script use their json tag names.
	JSONFieldNames bool
}

// Isolate owns one script engine instance and its global context.
//
// An Isolate must only be entered by one goroutine at a time; the owner is
// responsible for serializing calls. Terminate is the only method that may
// be called concurrently with a running call.
type Isolate struct {
	vm    *sobek.Runtime
	flush *sobek.Program

	terminating atomic.Bool
	reasonMu    sync.Mutex
	reason      any
}

// New creates an isolate with a fresh global context.
func New(cfg Config) *Isolate {
	vm := sobek.New()
	size := cfg.MaxCallStackSize
	if size <= 0 {
		size = DefaultMaxCallStackSize
	}
	vm.SetMaxCallStackSize(size)
	if cfg.JSONFieldNames {
		vm.SetFieldNameMapper(sobek.TagFieldNameMapper("json", true))
	}

	return &Isolate{
		vm:    vm,
		flush: sobek.MustCompile("<microtasks>", "", false),
	}
}

// VM returns the underlying runtime for installing globals and hooks.
func (i *Isolate) VM() *sobek.Runtime {
	return i.vm
}

// CompileScript compiles a classic (non-module) script.
func (i *Isolate) CompileScript(name, src string) (*sobek.Program, error) {
	prg, err := sobek.Compile(name, src, false)
	if err != nil {
		return nil, compileError(name, err)
	}
	return prg, nil
}

// CompileModule parses src as an ES module whose imports are answered by resolve.
func (i *Isolate) CompileModule(name, src string, resolve sobek.HostResolveImportedModuleFunc) (sobek.CyclicModuleRecord, error) {
	m, err := sobek.ParseModule(name, src, resolve)
	if err != nil {
		return nil, compileError(name, err)
	}
	return m, nil
}

// Run executes a compiled script in the global context and drains microtasks.
func (i *Isolate) Run(prg *sobek.Program) (sobek.Value, error) {
	v, err := i.vm.RunProgram(prg)
	if err != nil {
		return nil, i.Translate(err)
	}
	return v, nil
}

// Call invokes a script function from the host.
func (i *Isolate) Call(fn sobek.Callable, this sobek.Value, args ...sobek.Value) (sobek.Value, error) {
	if this == nil {
		this = sobek.Undefined()
	}
	v, err := fn(this, args...)
	if err != nil {
		return nil, i.Translate(err)
	}
	return v, nil
}

// Capture runs fn, converting engine panics that escape it (thrown
// exceptions, interrupts) into translated errors.
func (i *Isolate) Capture(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case *sobek.Exception:
				err = i.Translate(x)
			case *sobek.InterruptedError:
				err = i.Translate(x)
			case sobek.Value:
				err = valueError(x)
			case error:
				err = errors.Wrap(errors.PhaseRuntime, errors.KindThrown, x, "engine panic")
			default:
				panic(r)
			}
		}
	}()
	if err := fn(); err != nil {
		return i.Translate(err)
	}
	return nil
}

// RunMicrotasks drains the promise job queue.
func (i *Isolate) RunMicrotasks() error {
	if _, err := i.vm.RunProgram(i.flush); err != nil {
		return i.Translate(err)
	}
	return nil
}

// Terminate aborts the running call, if any, and every later call until
// CancelTermination.
func (i *Isolate) Terminate(reason any) {
	i.reasonMu.Lock()
	i.reason = reason
	i.reasonMu.Unlock()
	i.terminating.Store(true)
	i.vm.Interrupt(reason)
	Logger().Debug("isolate terminate requested", zap.Any("reason", reason))
}

// CancelTermination makes the isolate runnable again.
func (i *Isolate) CancelTermination() {
	i.terminating.Store(false)
	i.vm.ClearInterrupt()
}

// Terminating reports whether a termination request is active.
func (i *Isolate) Terminating() bool {
	return i.terminating.Load()
}

// Translate converts an engine error into a host error value. Thrown values
// become *ScriptError; an observed interrupt becomes a Terminated error and
// the interrupt is re-armed while termination is still requested. Errors that
// are already host errors pass through.
func (i *Isolate) Translate(err error) error {
	switch e := err.(type) {
	case nil:
		return nil
	case *sobek.InterruptedError:
		i.reasonMu.Lock()
		reason := i.reason
		i.reasonMu.Unlock()
		if reason == nil {
			reason = e.Value()
		}
		if i.terminating.Load() {
			i.vm.Interrupt(reason)
		}
		return errors.Terminated(reason)
	case *sobek.Exception:
		return newScriptError(e)
	case *sobek.CompilerSyntaxError:
		return compileError("", e)
	}
	return err
}

// ErrorValue returns a script value describing err, for rejecting promises.
// A captured exception yields the original thrown value.
func (i *Isolate) ErrorValue(err error) sobek.Value {
	var se *ScriptError
	if errors.As(err, &se) && se.Value != nil {
		return se.Value
	}
	var exc *sobek.Exception
	if errors.As(err, &exc) {
		return exc.Value()
	}
	return i.vm.NewGoError(err)
}

// Reason returns the reason passed to the last Terminate.
func (i *Isolate) Reason() any {
	i.reasonMu.Lock()
	defer i.reasonMu.Unlock()
	return i.reason
}

// Dispose leaves the isolate permanently terminated. Later calls fail with
// a Terminated error; Terminate stays safe to call.
func (i *Isolate) Dispose() {
	i.Terminate("isolate disposed")
}

// Pump runs pending host work that may settle a promise. It reports whether
// any work was done.
type Pump func() (bool, error)

// Await drives p to settlement by draining microtasks and calling pump
// between rounds. A rejection is returned as an error and the promise is
// marked handled. A promise that stays pending once neither microtasks nor
// pump make progress is reported as an error rather than waited on.
func (i *Isolate) Await(p *sobek.Promise, pump Pump) (sobek.Value, error) {
	for {
		switch p.State() {
		case sobek.PromiseStateFulfilled:
			return p.Result(), nil
		case sobek.PromiseStateRejected:
			i.MarkHandled(p)
			return nil, valueError(p.Result())
		}

		if err := i.RunMicrotasks(); err != nil {
			return nil, err
		}
		if p.State() != sobek.PromiseStatePending {
			continue
		}

		progressed := false
		if pump != nil {
			var err error
			if progressed, err = pump(); err != nil {
				return nil, err
			}
		}
		if !progressed && p.State() == sobek.PromiseStatePending {
			return nil, errors.New(errors.PhaseRuntime, errors.KindPending).
				Detail("promise did not settle").
				Build()
		}
	}
}

// MarkHandled attaches a no-op rejection handler to p so the engine stops
// tracking it as unhandled.
func (i *Isolate) MarkHandled(p *sobek.Promise) {
	obj := i.vm.ToValue(p).ToObject(i.vm)
	then, ok := sobek.AssertFunction(obj.Get("then"))
	if !ok {
		return
	}
	noop := i.vm.ToValue(func(sobek.FunctionCall) sobek.Value { return sobek.Undefined() })
	_, _ = then(obj, sobek.Undefined(), noop)
}

// ValueError describes a thrown or rejected value as a *ScriptError.
func (i *Isolate) ValueError(v sobek.Value) error {
	return valueError(v)
}
