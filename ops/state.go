package ops

import (
	"github.com/grafana/sobek"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/resource"
)

// State is the per-runtime context handed to every op handler.
type State struct {
	Resources *resource.Table
	Logger    *zap.Logger
	slots     map[any]any
}

// NewState creates op state over a resource table.
func NewState(resources *resource.Table, logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &State{
		Resources: resources,
		Logger:    logger,
		slots:     make(map[any]any),
	}
}

// Put stores extension state under key, replacing any previous value.
func (s *State) Put(key, value any) {
	s.slots[key] = value
}

// Take removes and returns the value stored under key.
func (s *State) Take(key any) (any, bool) {
	v, ok := s.slots[key]
	delete(s.slots, key)
	return v, ok
}

// Borrow returns extension state stored under key typed as T.
func Borrow[T any](s *State, key any) (T, bool) {
	v, ok := s.slots[key].(T)
	return v, ok
}

// Call is one op invocation from script.
type Call struct {
	State *State
	VM    *sobek.Runtime
	Name  string
	// Args holds the arguments after the op id.
	Args   []sobek.Value
	ID     ID
	failed bool
}

// Arg returns argument i, or undefined when absent.
func (c *Call) Arg(i int) sobek.Value {
	if i < 0 || i >= len(c.Args) {
		return sobek.Undefined()
	}
	return c.Args[i]
}

// Buffers returns every argument as a byte slice sharing memory with the
// script-side buffer. An argument that is not a buffer fails the call.
func (c *Call) Buffers() ([][]byte, error) {
	out := make([][]byte, len(c.Args))
	for i, a := range c.Args {
		b, ok := Bytes(a)
		if !ok {
			return nil, invalidArg(i, "expected ArrayBuffer or ArrayBufferView")
		}
		out[i] = b
	}
	return out, nil
}

// Failed reports whether a structured handler answered with an error payload.
func (c *Call) Failed() bool {
	return c.failed
}

// Bytes returns the bytes behind an ArrayBuffer or an ArrayBuffer view
// without copying. Writes through the slice are visible to script.
func Bytes(v sobek.Value) ([]byte, bool) {
	obj, ok := v.(*sobek.Object)
	if !ok || obj == nil {
		return nil, false
	}
	if obj.ClassName() == "ArrayBuffer" {
		ab, ok := obj.Export().(sobek.ArrayBuffer)
		if !ok {
			return nil, false
		}
		return ab.Bytes(), true
	}

	bufv, ok := obj.Get("buffer").(*sobek.Object)
	if !ok || bufv == nil || bufv.ClassName() != "ArrayBuffer" {
		return nil, false
	}
	ab, ok := bufv.Export().(sobek.ArrayBuffer)
	if !ok {
		return nil, false
	}
	raw := ab.Bytes()
	off := obj.Get("byteOffset").ToInteger()
	n := obj.Get("byteLength").ToInteger()
	if off < 0 || n < 0 || off+n > int64(len(raw)) {
		return nil, false
	}
	return raw[off : off+n : off+n], true
}
