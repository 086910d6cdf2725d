// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgs

import (
	"fmt"

	"github.com/dtn7/rudp-go/pkg/codec"
)

// Handshake is the body of both request and accept packets. For a request, Data holds the random challenge to be
// signed; for an accept, it holds the signature. Payload is the optional user data of a request.
type Handshake struct {
	Key     []byte
	Data    []byte
	Payload []byte
}

func (h Handshake) String() string {
	return fmt.Sprintf("handshake(key=%d bytes, data=%d bytes, payload=%d bytes)",
		len(h.Key), len(h.Data), len(h.Payload))
}

func (h Handshake) Write(w *codec.Writer) {
	w.WriteUint16(uint16(len(h.Key)))
	w.WriteUint16(uint16(len(h.Data)))
	w.WriteBytes(h.Key)
	w.WriteBytes(h.Data)
	w.WriteBytes(h.Payload)
}

// Read a Handshake. All slices alias the Reader's data.
func (h *Handshake) Read(r *codec.Reader) error {
	if r.Len() < 4 {
		return fmt.Errorf("handshake with length %d is too short for its header", r.Len())
	}

	keyLen, _ := r.ReadUint16()
	dataLen, _ := r.ReadUint16()

	if r.Len() < int(keyLen)+int(dataLen) {
		return fmt.Errorf("handshake with length %d is less than header (4) + key %d + data %d",
			r.Len()+4, keyLen, dataLen)
	}

	h.Key, _ = r.ReadBytes(int(keyLen))
	h.Data, _ = r.ReadBytes(int(dataLen))
	h.Payload = r.ReadRemaining()
	return nil
}
