// SPDX-FileCopyrightText: 2020 Markus Sommer
// SPDX-FileCopyrightText: 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Announcement of some daemon's transport Host.
type Announcement struct {
	// Node is the announcing daemon's name, used to ignore its own Announcements.
	Node string

	// Port of the Host's UDP socket.
	Port uint16

	// PublicKey of the Host's authenticator; connecting peers may use it to authenticate the Host.
	PublicKey string
}

// UnmarshalAnnouncements creates a new array of Announcement based on a CBOR byte string.
func UnmarshalAnnouncements(data []byte) (announcements []Announcement, err error) {
	buff := bytes.NewBuffer(data)

	if l, cErr := cboring.ReadArrayLength(buff); cErr != nil {
		err = cErr
		return
	} else {
		announcements = make([]Announcement, l)
	}

	for i := 0; i < len(announcements); i++ {
		if cErr := cboring.Unmarshal(&announcements[i], buff); cErr != nil {
			err = fmt.Errorf("unmarshalling Announcement %d failed: %v", i, cErr)
			return
		}
	}

	return
}

// MarshalAnnouncements into a CBOR byte string.
func MarshalAnnouncements(announcements []Announcement) (data []byte, err error) {
	buff := new(bytes.Buffer)

	if cErr := cboring.WriteArrayLength(uint64(len(announcements)), buff); cErr != nil {
		err = cErr
		return
	}

	for i := range announcements {
		// Don't "range" variable because gosec's G601: Implicit memory aliasing in for loop.
		announcement := announcements[i]
		if cErr := cboring.Marshal(&announcement, buff); cErr != nil {
			err = fmt.Errorf("marshalling Announcement %d (%v) failed: %v", i, announcement, cErr)
			return
		}
	}

	data = buff.Bytes()
	return
}

// MarshalCbor creates a CBOR representation for an Announcement.
func (announcement *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(announcement.Node, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(announcement.Port), w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(announcement.PublicKey, w); err != nil {
		return err
	}

	return nil
}

// UnmarshalCbor creates an Announcement from its CBOR representation.
func (announcement *Announcement) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 3 {
		return fmt.Errorf("wrong array length: %d instead of 3", l)
	}

	if node, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		announcement.Node = node
	}
	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if n == 0 || n > 65535 {
		return fmt.Errorf("invalid port %d", n)
	} else {
		announcement.Port = uint16(n)
	}
	if key, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		announcement.PublicKey = key
	}

	return nil
}

func (announcement Announcement) String() string {
	return fmt.Sprintf("Announcement(%s,%d)", announcement.Node, announcement.Port)
}
