package bridge

import (
	"encoding/binary"

	"github.com/wippyai/js-runtime/errors"
)

// Cursor writes and reads little-endian fixed-width values over a byte slice
// with checked offsets. It never grows the slice.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor creates a cursor positioned at offset 0 of buf.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Offset returns the current position.
func (c *Cursor) Offset() int {
	return c.off
}

// Seek moves to an absolute offset within the slice.
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > len(c.buf) {
		return errors.OutOfBounds(errors.PhaseBridge, off, 0, len(c.buf))
	}
	c.off = off
	return nil
}

func (c *Cursor) span(n int) ([]byte, error) {
	if c.off+n > len(c.buf) {
		return nil, errors.OutOfBounds(errors.PhaseBridge, c.off, n, len(c.buf))
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// PutI32 writes a signed 32-bit value.
func (c *Cursor) PutI32(v int32) error {
	return c.PutU32(uint32(v))
}

// PutU32 writes an unsigned 32-bit value.
func (c *Cursor) PutU32(v uint32) error {
	b, err := c.span(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// PutU64 writes an unsigned 64-bit value.
func (c *Cursor) PutU64(v uint64) error {
	b, err := c.span(8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// PutBytes copies data at the current offset.
func (c *Cursor) PutBytes(data []byte) error {
	b, err := c.span(len(data))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

// I32 reads a signed 32-bit value.
func (c *Cursor) I32() (int32, error) {
	v, err := c.U32()
	return int32(v), err
}

// U32 reads an unsigned 32-bit value.
func (c *Cursor) U32() (uint32, error) {
	b, err := c.span(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 reads an unsigned 64-bit value.
func (c *Cursor) U64() (uint64, error) {
	b, err := c.span(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}
