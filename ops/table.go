package ops

import (
	"fmt"
	"math"
	"time"

	"github.com/grafana/sobek"

	"github.com/wippyai/js-runtime/errors"
)

// ID identifies a registered op. ID 0 is the catalog op.
type ID uint32

// Catalog op identity.
const (
	CatalogName    = "op_ops"
	CatalogID   ID = 0
)

// Handler is the raw op signature: it receives the call and returns a
// script value directly. Structured handlers are adapted with JSON.
type Handler func(*Call) (sobek.Value, error)

// Op binds a name to a handler for bulk registration.
type Op struct {
	Handler Handler
	Name    string
}

// Extension groups ops contributed by one host capability.
type Extension interface {
	// Name identifies the extension in logs.
	Name() string
	// Ops returns the ops to register, in registration order.
	Ops() []Op
}

// Setup is optionally implemented by extensions that keep state.
// It runs once, before the extension's ops are registered.
type Setup interface {
	Setup(*State) error
}

// Observer is notified after every dispatched op.
type Observer interface {
	ObserveOp(name string, elapsed time.Duration, failed bool)
}

type entry struct {
	handler Handler
	name    string
}

// Table is the op registry. Ids are assigned in registration order starting
// at 1 and are never reused; ops cannot be unregistered.
//
// Like the resource table, a Table is only touched from the serialized
// isolate path and has no internal locking.
type Table struct {
	state    *State
	observer Observer
	byName   map[string]ID
	ops      []entry // ops[i] has id i+1
}

// NewTable creates an empty table whose handlers receive state.
func NewTable(state *State) *Table {
	return &Table{
		state:  state,
		byName: map[string]ID{CatalogName: CatalogID},
	}
}

// SetObserver installs a dispatch observer.
func (t *Table) SetObserver(o Observer) {
	t.observer = o
}

// State returns the state passed to handlers.
func (t *Table) State() *State {
	return t.state
}

// Register adds an op and returns its id. Registering a name twice, an empty
// name or a nil handler is a wiring bug and panics.
func (t *Table) Register(name string, h Handler) ID {
	if name == "" {
		panic("ops: empty op name")
	}
	if h == nil {
		panic(fmt.Sprintf("ops: nil handler for %q", name))
	}
	if _, dup := t.byName[name]; dup {
		panic(fmt.Sprintf("ops: duplicate op %q", name))
	}
	t.ops = append(t.ops, entry{name: name, handler: h})
	id := ID(len(t.ops))
	t.byName[name] = id
	return id
}

// RegisterExtension registers every op of ext and returns their ids.
func (t *Table) RegisterExtension(ext Extension) ([]ID, error) {
	if s, ok := ext.(Setup); ok {
		if err := s.Setup(t.state); err != nil {
			return nil, errors.Wrap(errors.PhaseHost, errors.KindRegistration, err, "setup extension "+ext.Name())
		}
	}
	list := ext.Ops()
	ids := make([]ID, 0, len(list))
	for _, op := range list {
		ids = append(ids, t.Register(op.Name, op.Handler))
	}
	return ids, nil
}

// Lookup returns the id registered for name.
func (t *Table) Lookup(name string) (ID, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// Name returns the name registered for id.
func (t *Table) Name(id ID) (string, bool) {
	if id == CatalogID {
		return CatalogName, true
	}
	if int(id) > len(t.ops) {
		return "", false
	}
	return t.ops[id-1].name, true
}

// Len returns the number of registered ops, excluding the catalog op.
func (t *Table) Len() int {
	return len(t.ops)
}

// Catalog returns every op name mapped to its id, including the catalog op.
func (t *Table) Catalog() map[string]ID {
	out := make(map[string]ID, len(t.byName))
	for name, id := range t.byName {
		out[name] = id
	}
	return out
}

// Dispatch routes a script call. rawID is the first script argument; args
// are the rest. Id 0 returns the catalog as a plain object. Any id that was
// never registered yields an UnknownOp error and invokes nothing.
func (t *Table) Dispatch(vm *sobek.Runtime, rawID sobek.Value, args []sobek.Value) (sobek.Value, error) {
	n, ok := parseID(rawID)
	if !ok || n < 0 || n > int64(len(t.ops)) {
		return nil, errors.UnknownOp(describeID(rawID))
	}
	id := ID(n)
	if id == CatalogID {
		return t.catalogValue(vm), nil
	}
	return t.Call(&Call{
		State: t.state,
		VM:    vm,
		Args:  args,
		ID:    id,
	})
}

// Call invokes a registered op with a prepared call.
func (t *Table) Call(c *Call) (sobek.Value, error) {
	if c.ID == CatalogID || int(c.ID) > len(t.ops) {
		return nil, errors.UnknownOp(uint32(c.ID))
	}
	e := t.ops[c.ID-1]
	c.Name = e.name
	if c.State == nil {
		c.State = t.state
	}

	start := time.Now()
	v, err := e.handler(c)
	if t.observer != nil {
		t.observer.ObserveOp(e.name, time.Since(start), err != nil || c.failed)
	}
	return v, err
}

func (t *Table) catalogValue(vm *sobek.Runtime) sobek.Value {
	obj := vm.NewObject()
	for name, id := range t.byName {
		_ = obj.Set(name, int64(id))
	}
	return obj
}

func parseID(v sobek.Value) (int64, bool) {
	if v == nil {
		return 0, false
	}
	switch x := v.Export().(type) {
	case int64:
		return x, true
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || x > math.MaxInt32 || x < math.MinInt32 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

func describeID(v sobek.Value) any {
	if v == nil {
		return "undefined"
	}
	return v.String()
}

// ThrowValue builds the script error object thrown for err: an Error whose
// name is the error's class name.
func ThrowValue(vm *sobek.Runtime, err error) sobek.Value {
	class, msg := Describe(err)
	obj := vm.NewGoError(err)
	_ = obj.Set("name", class)
	_ = obj.Set("message", msg)
	return obj
}
