// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgs

import (
	"fmt"
	"strings"

	"github.com/dtn7/rudp-go/pkg/codec"
)

// MessageType is stored in the upper two bits of a message's header byte.
type MessageType uint8

const (
	MessageDisconnect  MessageType = 0x00
	MessageAcknowledge MessageType = 0x40
	MessageCustom      MessageType = 0x80
	MessagePing        MessageType = 0xC0

	messageTypeMask = 0xC0
)

func (mt MessageType) String() string {
	switch mt {
	case MessageDisconnect:
		return "Disconnect"
	case MessageAcknowledge:
		return "Acknowledge"
	case MessageCustom:
		return "Custom"
	case MessagePing:
		return "Ping"
	default:
		return fmt.Sprintf("MessageType(%#02x)", uint8(mt))
	}
}

// MessageFlags are stored in the lower six bits of a message's header byte.
type MessageFlags uint8

const (
	MessageTimed     MessageFlags = 0x01
	MessageSequenced MessageFlags = 0x02
	MessageReliable  MessageFlags = 0x04
	MessageOrdered   MessageFlags = 0x08
	MessageUnique    MessageFlags = 0x10
	MessageChanneled MessageFlags = 0x20

	messageFlagsMask = 0x3F
)

// Has checks if all bits of other are set.
func (mf MessageFlags) Has(other MessageFlags) bool {
	return mf&other == other
}

func (mf MessageFlags) String() string {
	var fields []string

	checks := []struct {
		field MessageFlags
		text  string
	}{
		{MessageTimed, "timed"},
		{MessageSequenced, "sequenced"},
		{MessageReliable, "reliable"},
		{MessageOrdered, "ordered"},
		{MessageUnique, "unique"},
		{MessageChanneled, "channeled"},
	}

	for _, check := range checks {
		if mf.Has(check.field) {
			fields = append(fields, check.text)
		}
	}

	return strings.Join(fields, ",")
}

// MessageHeader precedes every message inside a connected packet. Its optional fields are only present on the wire
// if the matching flag is set: Ticks for timed, Sequence for sequenced, Attempt for reliable and Channel for channeled
// messages. Absent fields are zero after reading.
type MessageHeader struct {
	Type     MessageType
	Flags    MessageFlags
	Ticks    uint16
	Sequence uint16
	Attempt  uint8
	Channel  uint8
}

func (mh MessageHeader) String() string {
	return fmt.Sprintf("%v(flags=%v, ticks=%d, sequence=%d, attempt=%d, channel=%d)",
		mh.Type, mh.Flags, mh.Ticks, mh.Sequence, mh.Attempt, mh.Channel)
}

// Length of this header on the wire.
func (mh MessageHeader) Length() int {
	n := 1
	if mh.Flags.Has(MessageTimed) {
		n += 2
	}
	if mh.Flags.Has(MessageSequenced) {
		n += 2
	}
	if mh.Flags.Has(MessageReliable) {
		n += 1
	}
	if mh.Flags.Has(MessageChanneled) {
		n += 1
	}
	return n
}

func (mh MessageHeader) Write(w *codec.Writer) {
	w.WriteUint8(uint8(mh.Type)&messageTypeMask | uint8(mh.Flags)&messageFlagsMask)

	if mh.Flags.Has(MessageTimed) {
		w.WriteUint16(mh.Ticks)
	}
	if mh.Flags.Has(MessageSequenced) {
		w.WriteUint16(mh.Sequence)
	}
	if mh.Flags.Has(MessageReliable) {
		w.WriteUint8(mh.Attempt)
	}
	if mh.Flags.Has(MessageChanneled) {
		w.WriteUint8(mh.Channel)
	}
}

func (mh *MessageHeader) Read(r *codec.Reader) (err error) {
	var b uint8
	if b, err = r.ReadUint8(); err != nil {
		return fmt.Errorf("message header: %w", err)
	}

	*mh = MessageHeader{
		Type:  MessageType(b & messageTypeMask),
		Flags: MessageFlags(b & messageFlagsMask),
	}

	if mh.Flags.Has(MessageTimed) {
		if mh.Ticks, err = r.ReadUint16(); err != nil {
			return fmt.Errorf("%v is too short for ticks: %w", mh.Type, err)
		}
	}
	if mh.Flags.Has(MessageSequenced) {
		if mh.Sequence, err = r.ReadUint16(); err != nil {
			return fmt.Errorf("%v is too short for sequence: %w", mh.Type, err)
		}
	}
	if mh.Flags.Has(MessageReliable) {
		if mh.Attempt, err = r.ReadUint8(); err != nil {
			return fmt.Errorf("%v is too short for attempt: %w", mh.Type, err)
		}
	}
	if mh.Flags.Has(MessageChanneled) {
		if mh.Channel, err = r.ReadUint8(); err != nil {
			return fmt.Errorf("%v is too short for channel: %w", mh.Type, err)
		}
	}

	return nil
}
