// Package errors provides structured error types for the js-runtime library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the module specifier and referrer when a load or link fails,
// plus a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLinking, errors.KindUnresolvedImport).
//		Specifier("./dep.js", "/app/main.js").
//		Detail("import not found in module graph").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ModuleRead(spec, referrer, ioErr)
//	err := errors.UnknownOp(id)
//
// Script-thrown exceptions are not represented here; the engine package translates
// them into *engine.ScriptError. All errors implement the standard error interface
// and support errors.Is/As, and the Err* sentinels match by phase and kind.
package errors
