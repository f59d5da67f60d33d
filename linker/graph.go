package linker

import (
	"sort"

	"github.com/grafana/sobek"

	"github.com/wippyai/js-runtime/errors"
)

// Status is a module record's lifecycle state. It only moves forward.
type Status uint8

const (
	StatusCompiled Status = iota
	StatusInstantiated
	StatusEvaluated
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusCompiled:
		return "compiled"
	case StatusInstantiated:
		return "instantiated"
	case StatusEvaluated:
		return "evaluated"
	case StatusErrored:
		return "errored"
	}
	return "unknown"
}

// Module is one compiled module in the graph.
type Module struct {
	record sobek.CyclicModuleRecord
	err    error

	// resolved maps each static import specifier to its canonical path.
	resolved map[string]string

	Specifier string
	Imports   []string
	ID        int
	Status    Status
	IsEntry   bool
}

// Record returns the engine module record.
func (m *Module) Record() sobek.CyclicModuleRecord {
	return m.record
}

// Err returns the evaluation error of an Errored module.
func (m *Module) Err() error {
	return m.err
}

// Dependency returns the canonical path an import specifier resolved to.
func (m *Module) Dependency(specifier string) (string, bool) {
	p, ok := m.resolved[specifier]
	return p, ok
}

func (m *Module) advance(s Status) {
	if m.Status == StatusErrored || s <= m.Status {
		return
	}
	m.Status = s
}

// Graph holds every committed module of one isolate. Ids start at 1 and are
// never reused.
type Graph struct {
	bySpec   map[string]*Module
	byRecord map[sobek.ModuleRecord]*Module
	aliases  map[string]string
	sources  map[string]string
	modules  []*Module
	maxAlias int
}

// NewGraph creates an empty graph. maxAlias caps alias chain following.
func NewGraph(maxAlias int) *Graph {
	if maxAlias <= 0 {
		maxAlias = DefaultMaxAliasDepth
	}
	return &Graph{
		bySpec:   make(map[string]*Module),
		byRecord: make(map[sobek.ModuleRecord]*Module),
		aliases:  make(map[string]string),
		sources:  make(map[string]string),
		maxAlias: maxAlias,
	}
}

// Define registers in-memory source for specifier. Defined modules are
// loaded from memory and never looked up through resolution.
func (g *Graph) Define(specifier, source string) {
	g.sources[specifier] = source
}

// Defined returns the in-memory source registered for specifier.
func (g *Graph) Defined(specifier string) (string, bool) {
	src, ok := g.sources[specifier]
	return src, ok
}

// Alias redirects from to to. Aliases may chain.
func (g *Graph) Alias(from, to string) {
	if from == to {
		return
	}
	g.aliases[from] = to
}

// Aliases returns a copy of the alias table.
func (g *Graph) Aliases() map[string]string {
	out := make(map[string]string, len(g.aliases))
	for k, v := range g.aliases {
		out[k] = v
	}
	return out
}

// Canonical follows the alias chain from specifier. A chain longer than the
// configured cap is reported as a cycle.
func (g *Graph) Canonical(specifier string) (string, error) {
	cur := specifier
	for depth := 0; ; depth++ {
		next, ok := g.aliases[cur]
		if !ok {
			return cur, nil
		}
		if depth >= g.maxAlias {
			return "", errors.New(errors.PhaseLinking, errors.KindAliasCycle).
				Specifier(specifier, "").
				Detail("alias chain longer than %d", g.maxAlias).
				Build()
		}
		cur = next
	}
}

// Lookup returns the module registered for specifier or any alias of it.
func (g *Graph) Lookup(specifier string) (*Module, bool, error) {
	canonical, err := g.Canonical(specifier)
	if err != nil {
		return nil, false, err
	}
	m, ok := g.bySpec[canonical]
	return m, ok, nil
}

// Get returns the module with id.
func (g *Graph) Get(id int) (*Module, bool) {
	if id < 1 || id > len(g.modules) {
		return nil, false
	}
	return g.modules[id-1], true
}

// ForRecord returns the module owning an engine record.
func (g *Graph) ForRecord(r sobek.ModuleRecord) (*Module, bool) {
	m, ok := g.byRecord[r]
	return m, ok
}

// Len returns the number of committed modules.
func (g *Graph) Len() int {
	return len(g.modules)
}

// Specifiers returns every committed specifier in sorted order.
func (g *Graph) Specifiers() []string {
	out := make([]string, 0, len(g.bySpec))
	for s := range g.bySpec {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) nextID() int {
	return len(g.modules) + 1
}

// commit registers staged modules and aliases. Staged ids were assigned
// from nextID in order, so appending keeps ids and positions in step.
func (g *Graph) commit(s *stage) {
	for _, m := range s.modules {
		g.modules = append(g.modules, m)
		g.bySpec[m.Specifier] = m
		g.byRecord[m.record] = m
	}
	for from, to := range s.aliases {
		g.Alias(from, to)
	}
}

// stage collects the records of one load until linking succeeds.
type stage struct {
	bySpec   map[string]*Module
	byRecord map[sobek.ModuleRecord]*Module
	aliases  map[string]string
	modules  []*Module
	base     int
}

func newStage(base int) *stage {
	return &stage{
		bySpec:   make(map[string]*Module),
		byRecord: make(map[sobek.ModuleRecord]*Module),
		aliases:  make(map[string]string),
		base:     base,
	}
}

func (s *stage) add(specifier string, rec sobek.CyclicModuleRecord) *Module {
	m := &Module{
		ID:        s.base + len(s.modules),
		Specifier: specifier,
		Imports:   rec.RequestedModules(),
		Status:    StatusCompiled,
		record:    rec,
		resolved:  make(map[string]string),
	}
	s.modules = append(s.modules, m)
	s.bySpec[specifier] = m
	s.byRecord[rec] = m
	return m
}
