package linker

import (
	"strings"

	"github.com/grafana/sobek"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
)

// LoadObserver is told the outcome of every top-level load.
type LoadObserver func(specifier string, err error)

// Loader loads module graphs into one isolate.
type Loader struct {
	iso      *engine.Isolate
	graph    *Graph
	resolver *Resolver
	files    FileSource
	staged   *stage
	pump     engine.Pump
	observer LoadObserver
}

type request struct {
	parent    *Module
	specifier string
	referrer  string
}

// NewLoader creates a loader with an empty graph.
func NewLoader(iso *engine.Isolate, opts Options) *Loader {
	opts = opts.withDefaults()
	return &Loader{
		iso:      iso,
		graph:    NewGraph(opts.MaxAliasDepth),
		resolver: NewResolver(opts),
		files:    opts.Files,
	}
}

// SetPump installs the host work callback run while awaiting evaluation.
func (l *Loader) SetPump(p engine.Pump) {
	l.pump = p
}

// SetObserver installs a load observer.
func (l *Loader) SetObserver(o LoadObserver) {
	l.observer = o
}

// Graph returns the committed module graph.
func (l *Loader) Graph() *Graph {
	return l.graph
}

// Resolver returns the loader's resolver.
func (l *Loader) Resolver() *Resolver {
	return l.resolver
}

// LoadMain loads specifier as the main entry module.
func (l *Loader) LoadMain(specifier string) (*Module, error) {
	return l.load(specifier, "", true)
}

// Load loads specifier as imported from referrer. An empty referrer loads
// a side entry point.
func (l *Loader) Load(specifier, referrer string) (*Module, error) {
	return l.load(specifier, referrer, false)
}

func (l *Loader) load(specifier, referrer string, entry bool) (m *Module, err error) {
	defer func() {
		if l.observer != nil {
			l.observer(specifier, err)
		}
	}()

	m, err = l.collect(specifier, referrer)
	if err != nil {
		Logger().Debug("module load aborted",
			zap.String("specifier", specifier),
			zap.String("referrer", referrer),
			zap.Error(err))
		return nil, err
	}
	if entry {
		m.IsEntry = true
	}
	if err := l.evaluate(m); err != nil {
		return m, err
	}
	return m, nil
}

// collect resolves, reads and compiles the graph below specifier breadth
// first, then links it. Records stay staged until linking succeeds.
func (l *Loader) collect(specifier, referrer string) (*Module, error) {
	st := newStage(l.graph.nextID())
	l.staged = st
	defer func() { l.staged = nil }()

	var root *Module
	queue := []request{{specifier: specifier, referrer: referrer}}
	for len(queue) > 0 {
		req := queue[0]
		queue = queue[1:]

		canonical, global, err := l.canonical(req.specifier, req.referrer)
		if err != nil {
			return nil, err
		}

		m := l.find(canonical)
		if m == nil {
			src, err := l.source(canonical, req)
			if err != nil {
				return nil, err
			}
			rec, err := l.iso.CompileModule(canonical, src, l.resolveImport)
			if err != nil {
				return nil, err
			}
			m = st.add(canonical, rec)
			for _, imp := range m.Imports {
				queue = append(queue, request{parent: m, specifier: imp, referrer: canonical})
			}
			Logger().Debug("module compiled",
				zap.String("specifier", canonical),
				zap.Int("id", m.ID),
				zap.Int("imports", len(m.Imports)))
		}

		if global && req.specifier != canonical {
			st.aliases[req.specifier] = canonical
		}
		if req.parent != nil {
			req.parent.resolved[req.specifier] = canonical
		} else {
			root = m
		}
	}

	if root.Status != StatusCompiled {
		l.graph.commit(st)
		return root, nil
	}

	if err := l.iso.Capture(root.record.Link); err != nil {
		return nil, linkError(root, referrer, err)
	}
	l.graph.commit(st)
	for _, m := range st.modules {
		m.advance(StatusInstantiated)
	}
	return root, nil
}

// canonical resolves specifier from referrer. The flag reports whether the
// result holds for every referrer, which is what makes aliasing it safe.
func (l *Loader) canonical(specifier, referrer string) (string, bool, error) {
	if to, ok := l.staged.aliases[specifier]; ok {
		return to, true, nil
	}
	c, err := l.graph.Canonical(specifier)
	if err != nil {
		return "", false, err
	}
	if c != specifier {
		return c, true, nil
	}
	if _, ok := l.graph.Defined(specifier); ok {
		return specifier, false, nil
	}
	resolved, via := l.resolver.Lookup(specifier, referrer)
	c, err = l.graph.Canonical(resolved)
	if err != nil {
		return "", false, err
	}
	return c, via.Global(), nil
}

func (l *Loader) source(canonical string, req request) (string, error) {
	if src, ok := l.graph.Defined(canonical); ok {
		return src, nil
	}
	src, err := l.files.ReadFile(canonical)
	if err != nil {
		return "", errors.ModuleRead(req.specifier, req.referrer, err)
	}
	return src, nil
}

func (l *Loader) find(canonical string) *Module {
	if l.staged != nil {
		if m, ok := l.staged.bySpec[canonical]; ok {
			return m
		}
	}
	return l.graph.bySpec[canonical]
}

func (l *Loader) owner(rec sobek.ModuleRecord) *Module {
	if rec == nil {
		return nil
	}
	if l.staged != nil {
		if m, ok := l.staged.byRecord[rec]; ok {
			return m
		}
	}
	return l.graph.byRecord[rec]
}

// resolveImport answers the engine's link-time import requests from staged
// and committed records only. Every static import was compiled during
// collection, so cycles resolve without recursion.
func (l *Loader) resolveImport(ref any, specifier string) (sobek.ModuleRecord, error) {
	rec, _ := ref.(sobek.ModuleRecord)
	parent := l.owner(rec)
	if parent == nil {
		return nil, errors.UnresolvedImport(specifier, "")
	}
	if p, ok := parent.resolved[specifier]; ok {
		if m := l.find(p); m != nil {
			return m.record, nil
		}
	}
	return nil, errors.UnresolvedImport(specifier, parent.Specifier)
}

func linkError(root *Module, referrer string, err error) error {
	var re *errors.Error
	if errors.As(err, &re) {
		return err
	}
	return errors.New(errors.PhaseLinking, errors.KindUnresolvedImport).
		Specifier(root.Specifier, referrer).
		Cause(err).
		Detail("link failed").
		Build()
}

func (l *Loader) evaluate(root *Module) error {
	switch root.Status {
	case StatusEvaluated:
		return nil
	case StatusErrored:
		return root.err
	}

	var p *sobek.Promise
	err := l.iso.Capture(func() error {
		p = root.record.Evaluate(l.iso.VM())
		return nil
	})
	if err == nil {
		_, err = l.iso.Await(p, l.pump)
	}
	if err != nil {
		l.walk(root, func(m *Module) {
			if m.Status != StatusEvaluated {
				m.err = err
				m.advance(StatusErrored)
			}
		})
		return err
	}
	l.walk(root, func(m *Module) { m.advance(StatusEvaluated) })
	return nil
}

// walk visits root and every committed module reachable through its
// static imports.
func (l *Loader) walk(root *Module, fn func(*Module)) {
	seen := map[*Module]bool{root: true}
	queue := []*Module{root}
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		fn(m)
		for _, p := range m.resolved {
			d, ok := l.graph.bySpec[p]
			if ok && !seen[d] {
				seen[d] = true
				queue = append(queue, d)
			}
		}
	}
}

// Namespace returns the namespace object of an evaluated module.
func (l *Loader) Namespace(m *Module) *sobek.Object {
	return l.iso.VM().NamespaceObjectFor(m.record)
}

// Referrer returns the specifier of the module behind an engine referrer
// value, or "" for classic scripts.
func (l *Loader) Referrer(ref any) string {
	rec, ok := ref.(sobek.ModuleRecord)
	if !ok {
		return ""
	}
	if m := l.owner(rec); m != nil {
		return m.Specifier
	}
	return ""
}

// ImportMeta fills import.meta for a module: url and main.
func (l *Loader) ImportMeta(meta *sobek.Object, rec sobek.ModuleRecord) {
	m := l.owner(rec)
	if m == nil {
		return
	}
	_ = meta.Set("url", moduleURL(m.Specifier))
	_ = meta.Set("main", m.IsEntry)
}

func moduleURL(specifier string) string {
	if strings.HasPrefix(specifier, "/") {
		return "file://" + specifier
	}
	return specifier
}
