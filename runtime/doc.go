// Package runtime provides the high-level API for hosting script.
//
// # Quick Start
//
//	rt, err := runtime.New(runtime.Options{
//	    Modules: linker.Options{SearchPaths: []string{"/app/lib/?.js"}},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	// Run a classic script in the global context
//	_, err = rt.Execute(ctx, "init.js", `globalThis.ready = true`)
//
//	// Load the main module; top-level await completes before return
//	mod, err := rt.LoadMainModule(ctx, "/app/main.js")
//
// # Ops
//
// Script reaches host code through ops. The bootstrap installs a frozen
// `core` global:
//
//	core.opSync("op_close", rid)      // structured call, throws on {err}
//	core.opRaw("op_print", "hi", false)
//	core.ops()                        // name -> id catalog
//
// Go registers ops with RegisterOp (raw handlers), RegisterFunc (any Go
// function, adapted with ops.Func), RegisterHost (every exported method of a
// struct) or Options.Extensions.
//
// # Host Events
//
// Dispatch delivers one message per turn through the transport buffer:
//
//	core.setRecv((msg) => { ... msg.type, msg.session, msg.payload ... })
//
//	err := rt.Dispatch(ctx, bridge.Message{Type: 1, Payload: data})
//
// After the receiver returns, microtasks and queued dynamic imports are
// drained and the oldest unhandled promise rejection is returned as the
// turn's error. A rejection whose handler is attached before the turn ends
// is never reported.
//
// # Snapshots
//
// A producer (Options.Snapshot) records the scripts it executes; Snapshot
// returns them as an opaque blob and consumes the runtime. A consumer
// (Options.StartupSnapshot) replays the blob during New. A runtime is never
// both, and the blob is only valid for the engine version that wrote it.
//
// # Cancellation
//
// Every entry point takes a context; cancelling it terminates the running
// script. Terminate does the same from any goroutine and stays in effect
// until CancelTermination.
package runtime
