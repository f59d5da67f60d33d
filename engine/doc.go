// Package engine is the boundary to the embedded script engine.
//
// It wraps one sobek runtime as an Isolate and keeps engine types from
// leaking into the rest of the host as error values: every thrown exception
// is translated into a *ScriptError before it leaves this package.
//
// # Isolate
//
//	iso := engine.New(engine.Config{})
//	prg, err := iso.CompileScript("main.js", src)   // *ScriptError{Compile: true} on failure
//	v, err := iso.Run(prg)                          // *ScriptError{Native: ...} when script throws
//
// An Isolate is single-threaded. The owner serializes every call; only
// Terminate may be called from another goroutine.
//
// # Termination
//
// Terminate interrupts the running call. The call returns an error matching
// errors.ErrTerminated and no exception object is built for it. While the
// request stays active the interrupt is re-armed after each observed
// termination, so later calls abort as well until CancelTermination.
//
// # Snapshots
//
// The engine cannot serialize its heap. A producer records the startup
// scripts that built its global context in a Journal; EncodeSnapshot turns
// that journal into an opaque compressed blob stamped with the engine
// version, and a consumer replays it at construction. Blobs from another
// engine version are rejected.
package engine
