package ops

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/grafana/sobek"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/errors"
)

// ErrorPayload is the failure half of a structured op response.
type ErrorPayload struct {
	ClassName string `json:"className"`
	Message   string `json:"message"`
}

type okEnvelope struct {
	Ok any `json:"ok"`
}

type errEnvelope struct {
	Err ErrorPayload `json:"err"`
}

// Classed is implemented by errors that choose their script-visible class.
type Classed interface {
	ClassName() string
}

// Describe returns the class name and message script sees for err.
func Describe(err error) (class, message string) {
	var re *errors.Error
	if errors.As(err, &re) {
		return re.ClassName(), re.Message()
	}
	var c Classed
	if errors.As(err, &c) {
		return c.ClassName(), err.Error()
	}
	return "Error", err.Error()
}

// JSON adapts a structured function (a decoded argument plus any extra
// buffers in, a value or an error out) into a raw handler.
//
// The first buffer argument carries A as JSON; an empty or missing first
// buffer leaves A at its zero value. Remaining buffers are passed through
// without copying. The response is a single ArrayBuffer holding
// {"ok": R} or {"err": {"className", "message"}}. Failures, including
// decode errors and panics in fn, are always returned as data and never
// thrown into script.
func JSON[A, R any](fn func(s *State, arg A, bufs [][]byte) (R, error)) Handler {
	return func(c *Call) (sobek.Value, error) {
		out := respond(c, func(bufs [][]byte) (any, error) {
			var arg A
			rest, err := decodeArg(c, bufs, &arg)
			if err != nil {
				return nil, err
			}
			return fn(c.State, arg, rest)
		})
		return c.VM.ToValue(c.VM.NewArrayBuffer(out)), nil
	}
}

// Sync adapts a structured function that takes no extra buffers.
func Sync[A, R any](fn func(s *State, arg A) (R, error)) Handler {
	return JSON(func(s *State, arg A, _ [][]byte) (R, error) {
		return fn(s, arg)
	})
}

func respond(c *Call, run func(bufs [][]byte) (any, error)) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.State.Logger.Error("op panicked", zap.String("op", c.Name), zap.Any("panic", r))
			out = encodeErr(c, errors.New(errors.PhaseDispatch, errors.KindInvalidData).
				Class("Error").
				Detail("op %s panicked: %v", c.Name, r).
				Build())
		}
	}()

	bufs, err := c.Buffers()
	if err != nil {
		return encodeErr(c, err)
	}

	res, err := run(bufs)
	if err != nil {
		return encodeErr(c, err)
	}

	out, err = sonic.Marshal(okEnvelope{Ok: res})
	if err != nil {
		return encodeErr(c, errors.Wrap(errors.PhaseDispatch, errors.KindInvalidData, err,
			fmt.Sprintf("encode %s result", c.Name)))
	}
	return out
}

// decodeArg decodes the first buffer into dst and returns the rest.
func decodeArg(c *Call, bufs [][]byte, dst any) ([][]byte, error) {
	if len(bufs) == 0 {
		return nil, nil
	}
	if len(bufs[0]) > 0 {
		if err := sonic.Unmarshal(bufs[0], dst); err != nil {
			return nil, errors.Wrap(errors.PhaseDispatch, errors.KindInvalidInput, err,
				fmt.Sprintf("decode %s argument", c.Name))
		}
	}
	return bufs[1:], nil
}

func encodeErr(c *Call, err error) []byte {
	c.failed = true
	class, msg := Describe(err)
	out, mErr := sonic.Marshal(errEnvelope{Err: ErrorPayload{ClassName: class, Message: msg}})
	if mErr != nil {
		return []byte(`{"err":{"className":"Error","message":"unencodable op error"}}`)
	}
	return out
}

func invalidArg(i int, detail string) error {
	return errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
		Detail("argument %d: %s", i, detail).
		Build()
}
