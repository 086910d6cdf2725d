// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriterReader(t *testing.T) {
	w := NewWriter(nil)
	w.WriteUint8(0x23)
	w.WriteBool(true)
	w.WriteUint16(0xBEEF)
	w.WriteInt32(-42)
	w.WriteUint64(1 << 60)
	w.WriteFloat64(3.25)
	w.WriteString("hello world")
	w.WriteBlob([]byte{1, 2, 3})
	w.WriteBytes([]byte{0xFF})

	r := NewReader(w.Bytes())

	if v, err := r.ReadUint8(); err != nil || v != 0x23 {
		t.Fatalf("uint8: %v %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || !v {
		t.Fatalf("bool: %v %v", v, err)
	}
	if v, err := r.ReadUint16(); err != nil || v != 0xBEEF {
		t.Fatalf("uint16: %v %v", v, err)
	}
	if v, err := r.ReadInt32(); err != nil || v != -42 {
		t.Fatalf("int32: %v %v", v, err)
	}
	if v, err := r.ReadUint64(); err != nil || v != 1<<60 {
		t.Fatalf("uint64: %v %v", v, err)
	}
	if v, err := r.ReadFloat64(); err != nil || v != 3.25 {
		t.Fatalf("float64: %v %v", v, err)
	}
	if v, err := r.ReadString(); err != nil || v != "hello world" {
		t.Fatalf("string: %v %v", v, err)
	}
	if v, err := r.ReadBlob(); err != nil || !bytes.Equal(v, []byte{1, 2, 3}) {
		t.Fatalf("blob: %v %v", v, err)
	}
	if v := r.ReadRemaining(); !bytes.Equal(v, []byte{0xFF}) {
		t.Fatalf("remaining: %v", v)
	}
	if r.Len() != 0 {
		t.Fatalf("reader has %d bytes left", r.Len())
	}
}

func TestWriterBigEndian(t *testing.T) {
	w := NewWriter(make([]byte, 0, 8))
	w.WriteUint16(0x0102)
	w.WriteUint32(0x03040506)

	if !bytes.Equal(w.Bytes(), []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("unexpected encoding %x", w.Bytes())
	}

	w.PutUint16At(0, 0xA0B0)
	if w.Bytes()[0] != 0xA0 || w.Bytes()[1] != 0xB0 {
		t.Fatalf("PutUint16At failed: %x", w.Bytes())
	}

	w.Reset(2)
	if w.Len() != 2 {
		t.Fatalf("Reset left %d bytes", w.Len())
	}
}

func TestReaderShort(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(r *Reader) error
	}{
		{"uint16", []byte{1}, func(r *Reader) error { _, err := r.ReadUint16(); return err }},
		{"uint32", []byte{1, 2, 3}, func(r *Reader) error { _, err := r.ReadUint32(); return err }},
		{"blob", []byte{0, 0, 0, 4, 1}, func(r *Reader) error { _, err := r.ReadBlob(); return err }},
		{"bytes", nil, func(r *Reader) error { _, err := r.ReadBytes(1); return err }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if err := test.read(NewReader(test.data)); !errors.Is(err, ErrShortBuffer) {
				t.Fatalf("expected ErrShortBuffer, got %v", err)
			}
		})
	}
}

func TestBytesWritable(t *testing.T) {
	w := NewWriter(nil)
	w.WriteWritable(Bytes("payload"))
	w.WriteWritable(nil)
	w.WriteWritable(WritableFunc(func(w *Writer) { w.WriteUint8('!') }))

	if string(w.Bytes()) != "payload!" {
		t.Fatalf("unexpected payload %q", w.Bytes())
	}
}
