package ops

import (
	"reflect"

	"github.com/grafana/sobek"

	"github.com/wippyai/js-runtime/errors"
)

var (
	stateType = reflect.TypeOf((*State)(nil))
	bufsType  = reflect.TypeOf([][]byte(nil))
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// Func adapts an arbitrary Go function into a structured handler with the
// same response shape as JSON. Accepted signatures:
//
//	func(A) (R, error)
//	func(*State, A) (R, error)
//	func(*State, A, [][]byte) (R, error)
//
// Any of them may return only error, in which case the ok value is null.
func Func(fn any) (Handler, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Detail("op handler must be a function, got %T", fn).
			Build()
	}
	ft := rv.Type()

	first := 0
	if ft.NumIn() > 0 && ft.In(0) == stateType {
		first = 1
	}
	params := ft.NumIn() - first
	if params < 1 || params > 2 || ft.IsVariadic() {
		return nil, badSignature(ft, "want one argument after the optional *State")
	}
	argType := ft.In(first)
	withBufs := params == 2
	if withBufs && ft.In(first+1) != bufsType {
		return nil, badSignature(ft, "second argument must be [][]byte")
	}
	if n := ft.NumOut(); n < 1 || n > 2 || ft.Out(n-1) != errorType {
		return nil, badSignature(ft, "must return (R, error) or error")
	}

	return func(c *Call) (sobek.Value, error) {
		out := respond(c, func(bufs [][]byte) (any, error) {
			arg := reflect.New(argType)
			rest, err := decodeArg(c, bufs, arg.Interface())
			if err != nil {
				return nil, err
			}

			in := make([]reflect.Value, 0, 3)
			if first == 1 {
				in = append(in, reflect.ValueOf(c.State))
			}
			in = append(in, arg.Elem())
			if withBufs {
				in = append(in, reflect.ValueOf(rest))
			}

			outs := rv.Call(in)
			if errV := outs[len(outs)-1]; !errV.IsNil() {
				return nil, errV.Interface().(error)
			}
			if len(outs) == 2 {
				return outs[0].Interface(), nil
			}
			return nil, nil
		})
		return c.VM.ToValue(c.VM.NewArrayBuffer(out)), nil
	}, nil
}

func badSignature(ft reflect.Type, why string) error {
	return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
		Detail("unsupported op signature %s: %s", ft, why).
		Build()
}
