package bridge

import (
	"github.com/wippyai/js-runtime/errors"
)

// Layout of the transport buffer.
const (
	HeaderSize  = 64    // reserved header region; payload starts here
	MinSize     = 128   // smallest allocation and linear growth step
	MaxDoubling = 65536 // doubling stops once an allocation would reach this
)

// Header field offsets.
const (
	OffsetType    = 0
	OffsetSession = 4
	OffsetOrigin  = 8
	OffsetLength  = 12
	OffsetPointer = 16
)

// Message is one host-originated event.
type Message struct {
	Payload []byte
	// Pointer is an opaque host reference copied into the header verbatim.
	Pointer uint64
	Type    int32
	Session int32
	Origin  int32
}

// Header is the decoded fixed-layout prefix of the transport buffer.
type Header struct {
	Pointer uint64
	Type    int32
	Session int32
	Origin  int32
	Length  uint32
}

// Buffer is the single reusable region handed to script.
// It only grows; contents are not preserved across deliveries.
type Buffer struct {
	buf   []byte
	grows int
}

// New returns an empty buffer. The first delivery allocates.
func New() *Buffer {
	return &Buffer{}
}

// Deliver writes the header and payload of m into the buffer. It reports
// whether a new backing region was allocated, in which case script must
// rewrap it.
func (b *Buffer) Deliver(m Message) bool {
	need := HeaderSize + len(m.Payload)
	grown := false
	if need > len(b.buf) {
		b.buf = make([]byte, growSize(len(b.buf), need))
		b.grows++
		grown = true
	}

	// Capacity was ensured above; the cursor cannot fail.
	c := NewCursor(b.buf)
	_ = c.PutI32(m.Type)
	_ = c.PutI32(m.Session)
	_ = c.PutI32(m.Origin)
	_ = c.PutU32(uint32(len(m.Payload)))
	_ = c.PutU64(m.Pointer)
	if len(m.Payload) > 0 {
		_ = c.Seek(HeaderSize)
		_ = c.PutBytes(m.Payload)
	}
	return grown
}

// Bytes returns the whole backing region. The slice is invalidated by the
// next Deliver that reports growth.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Cap returns the current allocation size.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Grows returns how many times the region was reallocated.
func (b *Buffer) Grows() int {
	return b.grows
}

// Release drops the backing region.
func (b *Buffer) Release() {
	b.buf = nil
}

// growSize picks the next allocation for a request of need bytes given the
// current size cur: round need up to twice the current size (or MinSize when
// empty), and fall back to MinSize steps once that reaches MaxDoubling.
func growSize(cur, need int) int {
	step := MinSize
	if cur > 0 {
		step = cur * 2
	}
	size := roundUp(need, step)
	if size >= MaxDoubling {
		size = roundUp(need, MinSize)
	}
	if size < MinSize {
		size = MinSize
	}
	return size
}

func roundUp(n, step int) int {
	return (n + step - 1) / step * step
}

// ReadHeader decodes the header at the start of buf.
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errors.OutOfBounds(errors.PhaseBridge, 0, HeaderSize, len(buf))
	}
	var (
		h   Header
		err error
	)
	c := NewCursor(buf)
	if h.Type, err = c.I32(); err != nil {
		return h, err
	}
	if h.Session, err = c.I32(); err != nil {
		return h, err
	}
	if h.Origin, err = c.I32(); err != nil {
		return h, err
	}
	if h.Length, err = c.U32(); err != nil {
		return h, err
	}
	if h.Pointer, err = c.U64(); err != nil {
		return h, err
	}
	return h, nil
}

// Payload returns the payload bytes described by the header at the start of buf.
func Payload(buf []byte) ([]byte, error) {
	h, err := ReadHeader(buf)
	if err != nil {
		return nil, err
	}
	end := HeaderSize + int(h.Length)
	if end > len(buf) {
		return nil, errors.OutOfBounds(errors.PhaseBridge, HeaderSize, int(h.Length), len(buf))
	}
	return buf[HeaderSize:end], nil
}
