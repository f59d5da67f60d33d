package engine

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/grafana/sobek"
	"github.com/grafana/sobek/parser"

	"github.com/wippyai/js-runtime/errors"
)

// ScriptError describes a script failure in host terms: a compile failure or
// a thrown value, with the engine-reported position when one is known.
type ScriptError struct {
	// Value is the thrown value. It is nil for compile failures.
	Value   sobek.Value
	Cause   error
	Name    string
	Message string
	Stack   string
	File    string
	Line    int
	Column  int
	Compile bool
	// Native is set when the thrown value is an Error object rather than an
	// arbitrary value.
	Native bool
}

// Error implements the error interface
func (e *ScriptError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(e.Line))
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(e.Column))
		}
		b.WriteString(": ")
	}
	switch {
	case e.Compile:
		b.WriteString("compile error: ")
	case !e.Native:
		b.WriteString("uncaught ")
	}
	if e.Name != "" {
		b.WriteString(e.Name)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap returns the underlying engine error
func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// Is matches errors.ErrCompile for compile failures and errors.ErrThrown otherwise.
func (e *ScriptError) Is(target error) bool {
	t, ok := target.(*errors.Error)
	if !ok {
		return false
	}
	if e.Compile {
		return t.Phase == errors.PhaseCompile && t.Kind == errors.KindSyntax
	}
	return t.Phase == errors.PhaseRuntime && t.Kind == errors.KindThrown
}

// Format returns the message with the script stack, for diagnostics.
func (e *ScriptError) Format() string {
	if e.Stack == "" {
		return e.Error()
	}
	return e.Error() + "\n" + e.Stack
}

var (
	framePos  = regexp.MustCompile(`at (?:[^\s()]+ \()?([^\s()]+):(\d+):(\d+)\(\d+\)`)
	syntaxPos = regexp.MustCompile(`Line (\d+):(\d+)`)
)

func newScriptError(exc *sobek.Exception) *ScriptError {
	se := valueError(exc.Value())
	se.Cause = exc

	full := exc.String()
	if idx := strings.Index(full, "\tat "); idx >= 0 {
		se.Stack = strings.TrimRight(full[idx:], "\n")
	}
	if m := framePos.FindStringSubmatch(full); m != nil {
		se.File = m[1]
		se.Line, _ = strconv.Atoi(m[2])
		se.Column, _ = strconv.Atoi(m[3])
	}
	return se
}

// valueError describes a thrown value that carries no engine stack.
func valueError(v sobek.Value) *ScriptError {
	se := &ScriptError{Value: v}

	obj, ok := v.(*sobek.Object)
	if ok && obj.ClassName() == "Error" {
		se.Native = true
		if n := obj.Get("name"); n != nil && !sobek.IsUndefined(n) {
			se.Name = n.String()
		}
		if m := obj.Get("message"); m != nil && !sobek.IsUndefined(m) {
			se.Message = m.String()
		}
		if st := obj.Get("stack"); st != nil && !sobek.IsUndefined(st) {
			stack := st.String()
			if idx := strings.Index(stack, "\tat "); idx >= 0 {
				se.Stack = strings.TrimRight(stack[idx:], "\n")
			}
			if m := framePos.FindStringSubmatch(stack); m != nil {
				se.File = m[1]
				se.Line, _ = strconv.Atoi(m[2])
				se.Column, _ = strconv.Atoi(m[3])
			}
		}
		return se
	}

	if se.Value == nil || sobek.IsUndefined(se.Value) {
		se.Message = "undefined"
	} else {
		se.Message = se.Value.String()
	}
	return se
}

func compileError(name string, err error) *ScriptError {
	se := &ScriptError{
		Compile: true,
		Name:    "SyntaxError",
		File:    name,
		Cause:   err,
		Message: err.Error(),
	}

	switch e := err.(type) {
	case *sobek.CompilerSyntaxError:
		se.Message = e.Message
		if e.File != nil {
			pos := e.File.Position(e.Offset)
			se.File, se.Line, se.Column = pos.Filename, pos.Line, pos.Column
		}
	case *sobek.CompilerReferenceError:
		se.Name = "ReferenceError"
		se.Message = e.Message
		if e.File != nil {
			pos := e.File.Position(e.Offset)
			se.File, se.Line, se.Column = pos.Filename, pos.Line, pos.Column
		}
	case parser.ErrorList:
		if len(e) > 0 {
			se.Message = e[0].Message
			se.File, se.Line, se.Column = e[0].Position.Filename, e[0].Position.Line, e[0].Position.Column
		}
	case *parser.Error:
		se.Message = e.Message
		se.File, se.Line, se.Column = e.Position.Filename, e.Position.Line, e.Position.Column
	}

	if se.Line == 0 {
		if m := syntaxPos.FindStringSubmatch(se.Message); m != nil {
			se.Line, _ = strconv.Atoi(m[1])
			se.Column, _ = strconv.Atoi(m[2])
		}
	}
	if se.File == "" {
		se.File = name
	}
	se.Message = strings.TrimPrefix(se.Message, "SyntaxError: ")
	return se
}
