// Package linker loads ES module graphs into an engine isolate.
//
// # Main Types
//
//   - Loader: breadth-first graph loader, linker and evaluator
//   - Resolver: maps an import specifier and its referrer to a canonical path
//   - Graph: module records by id and specifier, plus the alias table
//   - FileSource: where module source text comes from
//
// # Load Order
//
//  1. Resolve the specifier, read and compile it, queue its static imports
//  2. Repeat until the queue is empty; nothing is registered yet
//  3. Link the entry module against the staged records
//  4. Commit the staged records to the graph
//  5. Evaluate the entry and await its completion
//
// A read, compile or link failure discards every record staged by the load,
// so a failed load never leaves a partial graph behind. Evaluation failures
// happen after commit and mark the affected records Errored.
//
// # Resolution
//
// Search-path templates are tried first, each with the placeholder replaced
// by the specifier; the first existing file wins. Otherwise a specifier is
// joined to its referrer's directory and cleaned lexically. A specifier
// without an extension gets the default one.
//
// # Thread Safety
//
// A Loader belongs to one isolate and is not safe for concurrent use.
//
// # Example
//
//	loader := linker.NewLoader(iso, linker.Options{
//	    SearchPaths: []string{"/app/lib/?.js"},
//	    Files:       linker.OSFiles{},
//	})
//	mod, err := loader.LoadMain("/app/main.js")
//	ns := loader.Namespace(mod)
package linker
