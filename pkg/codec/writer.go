// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"encoding/binary"
	"math"
)

// Writer serializes values into a byte slice.
type Writer struct {
	buf []byte
}

// NewWriter creates a Writer appending to the given buffer. The buffer's length is reset, its capacity reused.
// A nil buffer is fine.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf[:0]}
}

// Len of the written data.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the written data. The slice is only valid until the next write.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reset the Writer's position back to n, discarding everything written afterwards.
func (w *Writer) Reset(n int) {
	if n < 0 {
		n = 0
	} else if n > len(w.buf) {
		n = len(w.buf)
	}
	w.buf = w.buf[:n]
}

// Skip n bytes by writing zeros, e.g., to reserve room for a header which will be filled in later.
func (w *Writer) Skip(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

// PutUint16At overwrites two already written bytes at the given offset.
func (w *Writer) PutUint16At(offset int, v uint16) {
	binary.BigEndian.PutUint16(w.buf[offset:], v)
}

// PutUint32At overwrites four already written bytes at the given offset.
func (w *Writer) PutUint32At(offset int, v uint32) {
	binary.BigEndian.PutUint32(w.buf[offset:], v)
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

// WriteBytes appends raw bytes without a length prefix.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteString appends a string, prefixed by its byte length as an int32.
func (w *Writer) WriteString(s string) {
	w.WriteInt32(int32(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBlob appends a byte slice, prefixed by its length as an int32.
func (w *Writer) WriteBlob(b []byte) {
	w.WriteInt32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteWritable serializes a Writable, if not nil.
func (w *Writer) WriteWritable(v Writable) {
	if v != nil {
		v.Write(w)
	}
}
