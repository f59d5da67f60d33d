package runtime

import (
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/ops"
)

// Host is the interface for struct-based op groups.
// All exported methods (except Namespace and Register) become structured
// ops named op_<namespace>_<snake_case method>.
type Host interface {
	// Namespace prefixes the op names (e.g. "kv" gives op_kv_get).
	Namespace() string
}

// ExplicitRegistrar allows hosts to provide exact op names when the
// method-name conversion does not fit.
type ExplicitRegistrar interface {
	Register() map[string]any
}

// RegisterHost registers the methods of h as ops and returns their ids in
// op name order. Methods are adapted with ops.Func; a method with an
// unsupported signature fails the whole registration before any op is
// added.
func (r *Runtime) RegisterHost(h Host) ([]ops.ID, error) {
	ext, err := NewHostExtension(h)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops.RegisterExtension(ext)
}

// RegisterFunc registers a single Go function as a structured op.
func (r *Runtime) RegisterFunc(name string, fn any) (ops.ID, error) {
	if name == "" {
		return 0, errors.InvalidInput(errors.PhaseHost, "op name cannot be empty")
	}
	h, err := ops.Func(fn)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseHost, errors.KindRegistration, err, "register "+name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops.Register(name, h), nil
}

// NewHostExtension adapts h into an extension so hosts can also be passed
// in Options.Extensions.
func NewHostExtension(h Host) (ops.Extension, error) {
	ns := h.Namespace()
	if ns == "" {
		return nil, errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	funcs := map[string]any{}
	if er, ok := h.(ExplicitRegistrar); ok {
		funcs = er.Register()
	} else {
		rv := reflect.ValueOf(h)
		rt := rv.Type()
		for i := 0; i < rt.NumMethod(); i++ {
			method := rt.Method(i)
			if !method.IsExported() || method.Name == "Namespace" {
				continue
			}
			funcs[opName(ns, method.Name)] = rv.Method(i).Interface()
		}
	}

	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]ops.Op, 0, len(names))
	for _, name := range names {
		handler, err := ops.Func(funcs[name])
		if err != nil {
			return nil, errors.Wrap(errors.PhaseHost, errors.KindRegistration, err, "register "+name)
		}
		list = append(list, ops.Op{Name: name, Handler: handler})
	}
	return &hostExtension{name: ns, ops: list}, nil
}

type hostExtension struct {
	name string
	ops  []ops.Op
}

func (e *hostExtension) Name() string  { return e.name }
func (e *hostExtension) Ops() []ops.Op { return e.ops }

func opName(namespace, method string) string {
	return "op_" + toSnakeCase(namespace) + "_" + toSnakeCase(method)
}

// toSnakeCase converts PascalCase to snake_case.
// Handles acronyms: GetHTTPStatus -> get_http_status
func toSnakeCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			// last capital before a lowercase run starts the next word
			if acronymEnd > i+1 && acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
				acronymEnd--
			}

			if i > 0 && runes[i-1] != '_' {
				result.WriteByte('_')
			}

			for j := i; j < acronymEnd; j++ {
				result.WriteRune(unicode.ToLower(runes[j]))
			}
			i = acronymEnd - 1
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
