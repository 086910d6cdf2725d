// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is returned if a Reader has less data left than requested.
var ErrShortBuffer = errors.New("codec: short buffer")

// Reader deserializes values from a byte slice.
type Reader struct {
	buf []byte
	pos int
}

// NewReader for the given data. The Reader does not copy the data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Len of the unread data.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// Position of the next read.
func (r *Reader) Position() int {
	return r.pos
}

// Remaining returns all unread data without consuming it.
func (r *Reader) Remaining() []byte {
	return r.buf[r.pos:]
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.Len() < n {
		return nil, fmt.Errorf("%w: %d bytes requested, %d available", ErrShortBuffer, n, r.Len())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadBytes consumes n raw bytes. The returned slice aliases the Reader's data.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	return r.next(n)
}

// ReadRemaining consumes all unread data. The returned slice aliases the Reader's data.
func (r *Reader) ReadRemaining() []byte {
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

// ReadString reads an int32 length prefixed string, as written by Writer.WriteString.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBlob()
	return string(b), err
}

// ReadBlob reads an int32 length prefixed byte slice, as written by Writer.WriteBlob.
// The returned slice aliases the Reader's data.
func (r *Reader) ReadBlob() ([]byte, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	} else if n < 0 {
		return nil, fmt.Errorf("codec: negative length %d", n)
	}
	return r.next(int(n))
}
