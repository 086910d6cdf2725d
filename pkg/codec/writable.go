// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

// Writable is anything which serializes itself into a Writer, e.g., an application message's payload.
type Writable interface {
	Write(w *Writer)
}

// Bytes is a raw byte payload implementing Writable.
type Bytes []byte

// Write the raw bytes without any length prefix.
func (b Bytes) Write(w *Writer) {
	w.WriteBytes(b)
}

// WritableFunc adapts a function to the Writable interface.
type WritableFunc func(w *Writer)

// Write calls the function itself.
func (f WritableFunc) Write(w *Writer) {
	f(w)
}
