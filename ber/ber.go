// Package ber implements the subset of BER tag and length coding used by the
// DLMS/COSEM ACSE profile, together with a bounded cursor over a fixed
// scratch buffer.
//
// The cursor keeps independent read and write positions over one backing
// slice and never grows it, so a whole decode/encode cycle runs without
// allocating. Already written bytes can be patched by absolute position,
// which the AARE encoder needs for its backpatched length fields.
package ber

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrUnderrun = errors.New("no data left in source")
var ErrOverflow = errors.New("no room left in buffer")

// Buffer is a cursor over a fixed-capacity byte slice. All bounds violations
// are reported as errors; untrusted input can never panic the codec.
type Buffer struct {
	data []byte
	rd   int
	wr   int
}

// New wraps data as a Buffer. The first filled bytes are readable, the whole
// capacity is writable after ResetWrite.
func New(data []byte, filled int) *Buffer {
	if filled > len(data) {
		filled = len(data)
	}
	return &Buffer{data: data, wr: filled}
}

// Unread returns the number of bytes between the read and write positions.
func (b *Buffer) Unread() int { return b.wr - b.rd }

// Len returns the current write position.
func (b *Buffer) Len() int { return b.wr }

// Bytes returns the written content as a subslice of the backing storage.
func (b *Buffer) Bytes() []byte { return b.data[:b.wr] }

// ResetWrite rewinds the write position so the buffer can be reused for a
// reply without reallocating.
func (b *Buffer) ResetWrite() { b.wr = 0 }

func (b *Buffer) ReadUint8() (byte, error) {
	if b.rd >= b.wr {
		return 0, ErrUnderrun
	}
	v := b.data[b.rd]
	b.rd++
	return v, nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	if b.rd+2 > b.wr {
		return 0, ErrUnderrun
	}
	v := binary.BigEndian.Uint16(b.data[b.rd:])
	b.rd += 2
	return v, nil
}

// Read returns the next n bytes as a subslice of the backing storage.
func (b *Buffer) Read(n int) ([]byte, error) {
	if n < 0 || b.rd+n > b.wr {
		return nil, ErrUnderrun
	}
	v := b.data[b.rd : b.rd+n]
	b.rd += n
	return v, nil
}

// Skip advances the read position by n bytes.
func (b *Buffer) Skip(n int) error {
	if n < 0 || b.rd+n > b.wr {
		return ErrUnderrun
	}
	b.rd += n
	return nil
}

func (b *Buffer) WriteUint8(v byte) error {
	if b.wr >= len(b.data) {
		return ErrOverflow
	}
	b.data[b.wr] = v
	b.wr++
	return nil
}

func (b *Buffer) WriteUint16(v uint16) error {
	if b.wr+2 > len(b.data) {
		return ErrOverflow
	}
	binary.BigEndian.PutUint16(b.data[b.wr:], v)
	b.wr += 2
	return nil
}

func (b *Buffer) Write(src []byte) error {
	if b.wr+len(src) > len(b.data) {
		return ErrOverflow
	}
	copy(b.data[b.wr:], src)
	b.wr += len(src)
	return nil
}

// Set overwrites an already written byte, used to backpatch length fields.
func (b *Buffer) Set(pos int, v byte) error {
	if pos < 0 || pos >= b.wr {
		return ErrOverflow
	}
	b.data[pos] = v
	return nil
}

// Get returns a written byte without moving the read position.
func (b *Buffer) Get(pos int) (byte, error) {
	if pos < 0 || pos >= b.wr {
		return 0, ErrUnderrun
	}
	return b.data[pos], nil
}

// Header is one decoded BER tag and length header.
type Header struct {
	Tag       byte
	Ext       byte // second tag byte of the high tag number form, eg 0x5f 0x1f
	Primitive bool
	Length    int
}

// DecodeHeader reads one tag and length from buf. The declared length is
// checked against the unread byte count, so a lying header fails here instead
// of deep inside a field decoder.
func DecodeHeader(buf *Buffer) (Header, error) {
	var h Header
	t, err := buf.ReadUint8()
	if err != nil {
		return h, err
	}
	h.Tag = t
	h.Primitive = t&0x20 == 0
	if t&0x1f == 0x1f {
		if h.Ext, err = buf.ReadUint8(); err != nil {
			return h, err
		}
	}
	l, err := buf.ReadUint8()
	if err != nil {
		return h, err
	}
	switch {
	case l < 0x80:
		h.Length = int(l)
	case l == 0x80:
		return h, fmt.Errorf("unsupported infinite length")
	default:
		c := int(l & 0x7f)
		if c > 4 {
			return h, fmt.Errorf("too much bytes for length")
		}
		for i := 0; i < c; i++ {
			n, err := buf.ReadUint8()
			if err != nil {
				return h, err
			}
			h.Length = h.Length<<8 | int(n)
		}
	}
	if h.Length > buf.Unread() {
		return h, ErrUnderrun
	}
	return h, nil
}

// WriteLength writes the BER coding of n. This profile only ever emits the
// single byte form; the long forms mirror DecodeHeader for symmetry.
func WriteLength(buf *Buffer, n int) error {
	switch {
	case n < 0x80:
		return buf.WriteUint8(byte(n))
	case n < 0x100:
		if err := buf.WriteUint8(0x81); err != nil {
			return err
		}
		return buf.WriteUint8(byte(n))
	case n < 0x10000:
		if err := buf.WriteUint8(0x82); err != nil {
			return err
		}
		return buf.WriteUint16(uint16(n))
	case n < 0x1000000:
		if err := buf.WriteUint8(0x83); err != nil {
			return err
		}
		if err := buf.WriteUint8(byte(n >> 16)); err != nil {
			return err
		}
		return buf.WriteUint16(uint16(n))
	default:
		if err := buf.WriteUint8(0x84); err != nil {
			return err
		}
		if err := buf.WriteUint16(uint16(n >> 16)); err != nil {
			return err
		}
		return buf.WriteUint16(uint16(n))
	}
}
