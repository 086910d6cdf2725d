// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgs

import (
	"fmt"

	"github.com/dtn7/rudp-go/pkg/codec"
)

// FragmentHeader identifies one part of a fragmented connected packet. Parts are numbered from zero to Last.
type FragmentHeader struct {
	ID   uint16
	Part uint16
	Last uint16
}

func (fh FragmentHeader) String() string {
	return fmt.Sprintf("fragment(id=%d, part=%d/%d)", fh.ID, fh.Part, fh.Last)
}

// Valid checks the header's internal consistency. A single part is never sent as a fragment.
func (fh FragmentHeader) Valid() error {
	if fh.Last == 0 || fh.Part > fh.Last {
		return fmt.Errorf("bad %v", fh)
	}
	return nil
}

func (fh FragmentHeader) Write(w *codec.Writer) {
	w.WriteUint16(fh.ID)
	w.WriteUint16(fh.Part)
	w.WriteUint16(fh.Last)
}

func (fh *FragmentHeader) Read(r *codec.Reader) (err error) {
	if r.Len() < FragmentHeaderLength {
		return fmt.Errorf("fragment header needs %d bytes, %d available", FragmentHeaderLength, r.Len())
	}

	fh.ID, _ = r.ReadUint16()
	fh.Part, _ = r.ReadUint16()
	fh.Last, _ = r.ReadUint16()
	return nil
}
