package runtime

import (
	"context"
	_ "embed"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/grafana/sobek"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/bridge"
	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/linker"
	"github.com/wippyai/js-runtime/ops"
	"github.com/wippyai/js-runtime/resource"
)

//go:embed bootstrap.js
var bootstrapSource string

// Runtime owns one isolate and everything bound to it: the op table, the
// resource table, the module graph, the transport buffer, the dynamic
// import queue and the pending rejection set.
//
// Every method that enters the isolate holds the runtime lock for its whole
// duration, so a Runtime may be shared between goroutines. Terminate is the
// only method that acts on a call already in progress.
type Runtime struct {
	log        *zap.Logger
	iso        *engine.Isolate
	vm         *sobek.Runtime
	ops        *ops.Table
	resources  *resource.Table
	loader     *linker.Loader
	bridge     *bridge.Buffer
	journal    *engine.Journal
	metrics    *metrics
	recv       sobek.Callable
	shared     sobek.Value
	rejections *orderedmap.OrderedMap[*sobek.Promise, sobek.Value]
	opts       Options
	id         string
	imports    []dynamicImport
	mu         sync.Mutex
	closeOnce  sync.Once
	closed     bool
}

type dynamicImport struct {
	referrer   any
	specifier  sobek.Value
	capability any
}

// New creates a runtime. Asking for both snapshot modes at once is a wiring
// bug and panics.
func New(opts Options) (*Runtime, error) {
	if opts.Snapshot && len(opts.StartupSnapshot) > 0 {
		panic(errors.SnapshotMisuse("runtime cannot both produce and consume a snapshot"))
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	id := uuid.NewString()
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("runtime", opts.name()), zap.String("runtime_id", id))

	iso := engine.New(engine.Config{MaxCallStackSize: opts.MaxCallStackSize})
	res := resource.NewTable()
	r := &Runtime{
		id:         id,
		opts:       opts,
		log:        log,
		iso:        iso,
		vm:         iso.VM(),
		resources:  res,
		ops:        ops.NewTable(ops.NewState(res, log)),
		loader:     linker.NewLoader(iso, opts.Modules),
		bridge:     bridge.New(),
		rejections: orderedmap.New[*sobek.Promise, sobek.Value](),
		metrics:    newMetrics(opts.Registerer, opts.name()),
	}
	if opts.Snapshot {
		r.journal = &engine.Journal{}
	}

	r.ops.SetObserver(r.metrics)
	res.Subscribe(r.metrics)
	r.loader.SetPump(r.drainImports)
	r.loader.SetObserver(r.metrics.observeLoad)
	r.installHooks()
	r.registerBuiltins()

	for _, ext := range opts.Extensions {
		if _, err := r.ops.RegisterExtension(ext); err != nil {
			r.shutdown()
			return nil, err
		}
		log.Debug("extension registered", zap.String("extension", ext.Name()))
	}

	if err := r.bootstrap(); err != nil {
		r.shutdown()
		return nil, err
	}
	if len(opts.StartupSnapshot) > 0 {
		if err := r.restore(opts.StartupSnapshot); err != nil {
			r.shutdown()
			return nil, err
		}
	}

	log.Info("runtime created",
		zap.Bool("snapshot_producer", opts.Snapshot),
		zap.Bool("snapshot_consumer", len(opts.StartupSnapshot) > 0),
		zap.Int("ops", r.ops.Len()))
	return r, nil
}

// ID returns the unique id of this runtime instance.
func (r *Runtime) ID() string {
	return r.id
}

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *zap.Logger {
	return r.log
}

// Resources returns the resource table. Like the isolate, it must only be
// touched while holding the runtime, i.e. from op handlers.
func (r *Runtime) Resources() *resource.Table {
	return r.resources
}

// State returns the state handed to op handlers.
func (r *Runtime) State() *ops.State {
	return r.ops.State()
}

// Ops returns the op table.
func (r *Runtime) Ops() *ops.Table {
	return r.ops
}

// Graph returns the committed module graph.
func (r *Runtime) Graph() *linker.Graph {
	return r.loader.Graph()
}

// RegisterOp registers a raw op handler. Registering a name twice panics.
func (r *Runtime) RegisterOp(name string, h ops.Handler) ops.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops.Register(name, h)
}

// Terminate aborts the call currently running in the isolate and every
// later call until CancelTermination. It may be called from any goroutine.
func (r *Runtime) Terminate(reason any) {
	r.iso.Terminate(reason)
}

// CancelTermination makes the runtime usable again after Terminate.
func (r *Runtime) CancelTermination() {
	r.iso.CancelTermination()
}

// Close releases the isolate, every open resource, extensions implementing
// io.Closer and the transport buffer.
// A call in progress is terminated first. Close is idempotent.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.iso.Terminate("runtime closed")
		r.mu.Lock()
		defer r.mu.Unlock()
		r.shutdown()
		r.log.Info("runtime closed")
	})
	return nil
}

func (r *Runtime) shutdown() {
	if r.closed {
		return
	}
	r.closed = true
	r.resources.CloseAll()
	for _, ext := range r.opts.Extensions {
		if c, ok := ext.(io.Closer); ok {
			if err := c.Close(); err != nil {
				r.log.Warn("extension close failed", zap.String("extension", ext.Name()), zap.Error(err))
			}
		}
	}
	r.bridge.Release()
	r.rejections = orderedmap.New[*sobek.Promise, sobek.Value]()
	r.imports = nil
	r.recv = nil
	r.shared = nil
	r.iso.Dispose()
}

// enter takes the runtime lock for one call into the isolate and arms ctx
// cancellation as termination. The returned func undoes both.
func (r *Runtime) enter(ctx context.Context) (func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New(errors.PhaseRuntime, errors.KindClosed).Detail("runtime closed").Build()
	}
	if err := ctx.Err(); err != nil {
		r.mu.Unlock()
		return nil, errors.Terminated(err)
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		r.iso.Terminate(ctx.Err())
	})
	return func() {
		if !stop() {
			<-fired
			if r.iso.Reason() == ctx.Err() {
				r.iso.CancelTermination()
			}
		}
		r.mu.Unlock()
	}, nil
}
