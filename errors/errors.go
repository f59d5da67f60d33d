package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCompile  Phase = "compile"  // script or module parsing
	PhaseRuntime  Phase = "runtime"  // script execution
	PhaseLoad     Phase = "load"     // module source fetch
	PhaseLinking  Phase = "linking"  // module instantiation
	PhaseDispatch Phase = "dispatch" // op calls from script
	PhaseResource Phase = "resource" // resource table access
	PhaseSnapshot Phase = "snapshot" // startup image handling
	PhaseBridge   Phase = "bridge"   // host event transport
	PhaseHost     Phase = "host"     // op and extension registration
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindSyntax           Kind = "syntax"
	KindThrown           Kind = "thrown"
	KindTerminated       Kind = "terminated"
	KindRead             Kind = "read"
	KindUnresolvedImport Kind = "unresolved_import"
	KindAliasCycle       Kind = "alias_cycle"
	KindUnknownOp        Kind = "unknown_op"
	KindNotFound         Kind = "not_found"
	KindTypeMismatch     Kind = "type_mismatch"
	KindInvalidInput     Kind = "invalid_input"
	KindInvalidData      Kind = "invalid_data"
	KindOutOfBounds      Kind = "out_of_bounds"
	KindWrongMode        Kind = "wrong_mode"
	KindVersionMismatch  Kind = "version_mismatch"
	KindRegistration     Kind = "registration"
	KindClosed           Kind = "closed"
	KindPending          Kind = "pending"
	KindUnhandled        Kind = "unhandled_rejection"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value     any
	Cause     error
	Phase     Phase
	Kind      Kind
	Specifier string
	Referrer  string
	Detail    string
	Class     string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Specifier != "" {
		b.WriteString(" ")
		b.WriteString(fmt.Sprintf("%q", e.Specifier))
		if e.Referrer != "" {
			b.WriteString(" from ")
			b.WriteString(fmt.Sprintf("%q", e.Referrer))
		}
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// ClassName is the error class reported to script by the structured op adapter.
func (e *Error) ClassName() string {
	if e.Class != "" {
		return e.Class
	}
	if c, ok := classByKind[e.Kind]; ok {
		return c
	}
	return "Error"
}

// Message is the script-facing message: the detail, or the cause when no detail exists.
func (e *Error) Message() string {
	switch {
	case e.Detail != "" && e.Cause != nil:
		return e.Detail + ": " + e.Cause.Error()
	case e.Detail != "":
		return e.Detail
	case e.Cause != nil:
		return e.Cause.Error()
	}
	return string(e.Kind)
}

var classByKind = map[Kind]string{
	KindSyntax:           "SyntaxError",
	KindTerminated:       "Terminated",
	KindRead:             "NotFound",
	KindUnresolvedImport: "TypeError",
	KindUnknownOp:        "UnknownOpError",
	KindNotFound:         "BadResource",
	KindTypeMismatch:     "BadResource",
	KindInvalidInput:     "TypeError",
	KindInvalidData:      "InvalidData",
	KindOutOfBounds:      "RangeError",
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Specifier sets the module specifier and optional referrer
func (b *Builder) Specifier(spec, referrer string) *Builder {
	b.err.Specifier = spec
	b.err.Referrer = referrer
	return b
}

// Class overrides the script-visible class name
func (b *Builder) Class(name string) *Builder {
	b.err.Class = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors, one per category a caller needs to match on.

// ModuleRead creates an error for a module source that could not be fetched
func ModuleRead(specifier, referrer string, cause error) *Error {
	return &Error{
		Phase:     PhaseLoad,
		Kind:      KindRead,
		Specifier: specifier,
		Referrer:  referrer,
		Detail:    "read module source",
		Cause:     cause,
	}
}

// UnresolvedImport creates an error for a static import the linker could not satisfy
func UnresolvedImport(specifier, referrer string) *Error {
	return &Error{
		Phase:     PhaseLinking,
		Kind:      KindUnresolvedImport,
		Specifier: specifier,
		Referrer:  referrer,
		Detail:    "import not found in module graph",
	}
}

// UnknownOp creates an error for a dispatch to an id that was never registered
func UnknownOp(id any) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindUnknownOp,
		Detail: fmt.Sprintf("unknown op id %v", id),
		Value:  id,
	}
}

// ResourceNotFound creates an error for a bad resource id or a type mismatch
func ResourceNotFound(id any) *Error {
	return &Error{
		Phase:  PhaseResource,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("bad resource id %v", id),
		Value:  id,
	}
}

// SnapshotMisuse creates an error for a snapshot operation in the wrong mode
func SnapshotMisuse(detail string) *Error {
	return &Error{
		Phase:  PhaseSnapshot,
		Kind:   KindWrongMode,
		Detail: detail,
	}
}

// Terminated creates the error returned when the host aborted execution
func Terminated(reason any) *Error {
	e := &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTerminated,
		Detail: "execution terminated",
		Value:  reason,
	}
	if reason != nil {
		e.Detail = fmt.Sprintf("execution terminated: %v", reason)
	}
	return e
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, offset, size, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("access of %d bytes at offset %d out of bounds (length %d)", size, offset, length),
		Value:  offset,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Sentinels for errors.Is matching; only Phase and Kind are compared.
var (
	ErrCompile          = &Error{Phase: PhaseCompile, Kind: KindSyntax}
	ErrThrown           = &Error{Phase: PhaseRuntime, Kind: KindThrown}
	ErrModuleRead       = &Error{Phase: PhaseLoad, Kind: KindRead}
	ErrUnresolvedImport = &Error{Phase: PhaseLinking, Kind: KindUnresolvedImport}
	ErrUnknownOp        = &Error{Phase: PhaseDispatch, Kind: KindUnknownOp}
	ErrResourceNotFound = &Error{Phase: PhaseResource, Kind: KindNotFound}
	ErrSnapshotMisuse   = &Error{Phase: PhaseSnapshot, Kind: KindWrongMode}
	ErrTerminated       = &Error{Phase: PhaseRuntime, Kind: KindTerminated}
	ErrClosed           = &Error{Phase: PhaseRuntime, Kind: KindClosed}
)

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
