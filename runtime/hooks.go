package runtime

import (
	"github.com/grafana/sobek"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/ops"
)

// installHooks wires the three engine callbacks to this runtime. Each
// closure captures r, so no callback needs to find its runtime through
// global state.
func (r *Runtime) installHooks() {
	r.vm.SetPromiseRejectionTracker(r.trackRejection)
	r.vm.SetImportModuleDynamically(func(referrer any, specifier sobek.Value, capability any) {
		r.imports = append(r.imports, dynamicImport{
			referrer:   referrer,
			specifier:  specifier,
			capability: capability,
		})
	})
	r.vm.SetFinalImportMeta(r.loader.ImportMeta)
}

func (r *Runtime) trackRejection(p *sobek.Promise, op sobek.PromiseRejectionOperation) {
	switch op {
	case sobek.PromiseRejectionReject:
		r.rejections.Set(p, p.Result())
	case sobek.PromiseRejectionHandle:
		r.rejections.Delete(p)
	}
}

// takeRejection removes and returns the oldest pending rejection.
func (r *Runtime) takeRejection() error {
	oldest := r.rejections.Oldest()
	if oldest == nil {
		return nil
	}
	r.rejections.Delete(oldest.Key)
	r.metrics.rejections.Inc()
	return errors.New(errors.PhaseRuntime, errors.KindUnhandled).
		Cause(r.iso.ValueError(oldest.Value)).
		Detail("unhandled promise rejection").
		Build()
}

// PendingRejections returns the number of rejections not yet surfaced.
func (r *Runtime) PendingRejections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rejections.Len()
}

// drainImports loads queued dynamic imports until the queue is empty,
// settling each request's promise. It reports whether it did any work.
// Only termination stops the drain early; load failures reject the
// requesting promise.
func (r *Runtime) drainImports() (bool, error) {
	progressed := false
	for len(r.imports) > 0 {
		req := r.imports[0]
		r.imports = r.imports[1:]
		progressed = true

		specifier := req.specifier.String()
		referrer := r.loader.Referrer(req.referrer)
		m, err := r.loader.Load(specifier, referrer)
		if errors.Is(err, errors.ErrTerminated) {
			return progressed, err
		}
		if err != nil {
			r.log.Debug("dynamic import failed",
				zap.String("specifier", specifier),
				zap.String("referrer", referrer),
				zap.Error(err))
			r.vm.FinishLoadingImportModule(req.referrer, req.specifier, req.capability, nil, r.importError(err))
		} else {
			r.vm.FinishLoadingImportModule(req.referrer, req.specifier, req.capability, m.Record(), nil)
		}

		if err := r.iso.RunMicrotasks(); err != nil {
			return progressed, err
		}
	}
	return progressed, nil
}

// importError picks the value a failed dynamic import rejects with: the
// original thrown value when there is one, else an error object built from
// the failure.
func (r *Runtime) importError(err error) sobek.Value {
	var se *engine.ScriptError
	if errors.As(err, &se) && se.Value != nil {
		return se.Value
	}
	return ops.ThrowValue(r.vm, err)
}

// bootstrap runs the embedded bridge script and hands it the host object.
func (r *Runtime) bootstrap() error {
	prg, err := r.iso.CompileScript("ext:core/bootstrap.js", bootstrapSource)
	if err != nil {
		return err
	}
	v, err := r.iso.Run(prg)
	if err != nil {
		return err
	}
	install, ok := sobek.AssertFunction(v)
	if !ok {
		return errors.InvalidData(errors.PhaseRuntime, "bootstrap script did not evaluate to a function")
	}
	_, err = r.iso.Call(install, nil, r.hostObject())
	return err
}

func (r *Runtime) hostObject() *sobek.Object {
	host := r.vm.NewObject()
	_ = host.Set("dispatch", func(call sobek.FunctionCall) sobek.Value {
		var rest []sobek.Value
		if len(call.Arguments) > 1 {
			rest = call.Arguments[1:]
		}
		v, err := r.ops.Dispatch(r.vm, call.Argument(0), rest)
		if err != nil {
			panic(ops.ThrowValue(r.vm, err))
		}
		if v == nil {
			return sobek.Undefined()
		}
		return v
	})
	_ = host.Set("encode", func(call sobek.FunctionCall) sobek.Value {
		return r.vm.ToValue(r.vm.NewArrayBuffer([]byte(call.Argument(0).String())))
	})
	_ = host.Set("decode", func(call sobek.FunctionCall) sobek.Value {
		b, ok := ops.Bytes(call.Argument(0))
		if !ok {
			panic(r.vm.NewTypeError("decode expects an ArrayBuffer or view"))
		}
		return r.vm.ToValue(string(b))
	})
	_ = host.Set("setRecv", func(call sobek.FunctionCall) sobek.Value {
		fn, ok := sobek.AssertFunction(call.Argument(0))
		if !ok {
			panic(r.vm.NewTypeError("recv callback must be a function"))
		}
		r.recv = fn
		return sobek.Undefined()
	})
	_ = host.Set("shared", func(sobek.FunctionCall) sobek.Value {
		if r.shared == nil {
			r.shared = r.vm.ToValue(r.vm.NewArrayBuffer(r.bridge.Bytes()))
		}
		return r.shared
	})
	return host
}
