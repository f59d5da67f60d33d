// Package resource provides the resource table: integer ids for host-owned
// values that script refers to but cannot touch directly.
//
// # Handle Table
//
// The Table maps ids to Go values, each stored with a string tag:
//
//	table := resource.NewTable()
//
//	// Add a value, get an id
//	id := table.Add("fs.file", f)
//
//	// Retrieve it with the expected type
//	f, ok := resource.Get[*os.File](table, id)
//
//	// Drop it, running cleanup
//	table.Close(id)
//
//	// Or take ownership back without cleanup
//	f, ok := resource.Remove[*os.File](table, id)
//
// Ids start at 1 and are never reused for the lifetime of a table, so a stale
// id held by script can never reach a newer value. A lookup with the wrong
// type reports absent instead of panicking. Closing an id twice returns false.
//
// # Typed Views
//
// Extensions that own one kind of value can work through a Typed view:
//
//	modules := resource.NewTyped[*Module](table, "wasm.module")
//	id := modules.Insert(m)
//
// # Observers
//
// Register observers to track resource lifecycle events:
//
//	table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    switch e.Type {
//	    case resource.EventCreated:
//	        log.Printf("resource %d created", e.ID)
//	    case resource.EventClosed:
//	        log.Printf("resource %d closed", e.ID)
//	    }
//	}))
//
// # Cleanup
//
// Close releases values implementing Dropper or io.Closer. CloseAll releases
// everything still live when the owning runtime shuts down.
package resource
