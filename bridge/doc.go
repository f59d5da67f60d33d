// Package bridge implements the host event transport: one growable byte
// region reused for every host-to-script message.
//
// Each delivery writes a fixed little-endian header at offset 0 followed by
// the payload at offset 64:
//
//	0   int32  message type
//	4   int32  session
//	8   int32  origin
//	12  uint32 payload length
//	16  uint64 payload pointer (opaque host reference)
//	64  payload bytes
//
// Deliver reports whether the region was reallocated. Script keeps a cached
// view of the region and only rewraps it when that flag is set.
package bridge
