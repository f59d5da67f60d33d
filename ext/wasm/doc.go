// Package wasm is a host extension that lets script compile and run
// WebAssembly modules through wazero.
//
//	rt, _ := runtime.New(runtime.Options{
//	    Extensions: []ops.Extension{wasm.New(wasm.Config{})},
//	})
//
// From script:
//
//	const mod = core.opSync("op_wasm_compile", null, bytes);
//	const inst = core.opSync("op_wasm_instantiate", { module: mod });
//	core.opSync("op_wasm_call", { instance: inst, name: "add", args: [1, 2] }); // [3]
//
// Compiled modules and instances are resources tagged "wasm.module" and
// "wasm.instance". Closing one with core.close releases the wazero object.
// Arguments and results are raw 64-bit stack values; floats must be
// encoded by the caller.
package wasm
