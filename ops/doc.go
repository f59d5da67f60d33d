// Package ops implements the operation table: host functions callable from
// script by integer id.
//
// # Registration
//
//	table := ops.NewTable(ops.NewState(resources, logger))
//	id := table.Register("op_read", readHandler) // 1, 2, 3... in call order
//
// Id 0 is reserved for the catalog op, named "op_ops". Dispatching it returns
// every registered name mapped to its id, itself included. Script bootstrap
// calls it once to build name-based call proxies. Registering a name twice
// panics; it is a wiring bug, not a runtime condition.
//
// # Call Convention
//
// Script calls an op with the id first and optional buffer arguments after
// it. A raw Handler returns a script value directly and may fail with an
// error that becomes a thrown exception. Dispatching an id that was never
// registered fails with an UnknownOpError and invokes nothing.
//
// # Structured Ops
//
// JSON wraps a business-logic function:
//
//	table.Register("op_sum", ops.JSON(func(s *ops.State, in []int, _ [][]byte) (int, error) {
//	    ...
//	}))
//
// The first buffer is decoded as the argument, the rest are forwarded
// without copying, and the outcome is encoded into one response buffer as
// {"ok": value} or {"err": {"className": ..., "message": ...}}. Errors from
// a structured op never surface as script exceptions.
package ops
