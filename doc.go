// Package jsruntime embeds a JavaScript engine behind a small host API:
// modules loaded from disk or memory, host functions called by integer op
// id, a resource table for host objects, a shared buffer for host events
// and startup snapshots.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	jsruntime/           Root package with version information
//	├── runtime/         High-level API: scripts, modules, dispatch, snapshots
//	├── engine/          sobek isolate wrapper and snapshot journal
//	├── linker/          Module resolution, aliasing and the module graph
//	├── ops/             Op table and the structured JSON op adapter
//	├── resource/        Resource handle table
//	├── bridge/          Host-to-script transport buffer
//	├── errors/          Structured error types for debugging
//	├── config/          YAML and environment configuration
//	└── ext/wasm/        WebAssembly host extension over wazero
//
// # Quick Start
//
// Run a module:
//
//	rt, err := runtime.New(runtime.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	mod, err := rt.LoadMainModule(ctx, "/srv/app/main.js")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := rt.CallExport(ctx, mod, "greet", "World")
//	fmt.Println(result) // "Hello, World!"
//
// # Host Functions
//
// Register Go functions as ops:
//
//	rt.RegisterFunc("op_random", func(_ struct{}) (uint32, error) {
//	    return rand.Uint32(), nil
//	})
//
// Script calls them through the core global:
//
//	core.opSync("op_random")
//
// # Thread Safety
//
// A Runtime serializes every call into its isolate, so it may be shared
// between goroutines; calls simply wait for each other. Terminate is the
// only method that interrupts a call already in progress. Op handlers run
// on the calling goroutine while the runtime is held.
package jsruntime
