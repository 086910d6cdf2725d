// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package msgs contains the wire representation of packets and the messages batched inside connected packets.
package msgs

import (
	"fmt"
	"strings"
)

// PacketType is stored in the upper three bits of a packet's header byte.
type PacketType uint8

const (
	PacketUnused1     PacketType = 0x00
	PacketUnused2     PacketType = 0x20
	PacketRequest     PacketType = 0x40
	PacketReject      PacketType = 0x60
	PacketAccept      PacketType = 0x80
	PacketConnected   PacketType = 0xA0
	PacketUnconnected PacketType = 0xC0
	PacketBroadcast   PacketType = 0xE0

	packetTypeMask = 0xE0
)

func (pt PacketType) String() string {
	switch pt {
	case PacketUnused1:
		return "Unused1"
	case PacketUnused2:
		return "Unused2"
	case PacketRequest:
		return "Request"
	case PacketReject:
		return "Reject"
	case PacketAccept:
		return "Accept"
	case PacketConnected:
		return "Connected"
	case PacketUnconnected:
		return "Unconnected"
	case PacketBroadcast:
		return "Broadcast"
	default:
		return fmt.Sprintf("PacketType(%#02x)", uint8(pt))
	}
}

// IsUnused reports if this PacketType is reserved and must never be received.
func (pt PacketType) IsUnused() bool {
	return pt == PacketUnused1 || pt == PacketUnused2
}

// PacketFlags are stored in the lower five bits of a packet's header byte.
type PacketFlags uint8

const (
	// PacketTimed indicates a two byte send timestamp after the CRC32.
	PacketTimed PacketFlags = 0x01

	// PacketFragmented indicates a six byte FragmentHeader after the timestamp.
	PacketFragmented PacketFlags = 0x02

	// PacketCompressed indicates a compressed payload.
	PacketCompressed PacketFlags = 0x04

	// PacketCombined indicates multiple length prefixed messages in one connected packet.
	PacketCombined PacketFlags = 0x08

	// PacketVerified indicates a four byte CRC32 right after the header byte.
	PacketVerified PacketFlags = 0x10

	packetFlagsMask = 0x1F
)

// Has checks if all bits of other are set.
func (pf PacketFlags) Has(other PacketFlags) bool {
	return pf&other == other
}

func (pf PacketFlags) String() string {
	var fields []string

	checks := []struct {
		field PacketFlags
		text  string
	}{
		{PacketTimed, "timed"},
		{PacketFragmented, "fragmented"},
		{PacketCompressed, "compressed"},
		{PacketCombined, "combined"},
		{PacketVerified, "verified"},
	}

	for _, check := range checks {
		if pf.Has(check.field) {
			fields = append(fields, check.text)
		}
	}

	return strings.Join(fields, ",")
}

// PacketHeader builds a packet's header byte.
func PacketHeader(pt PacketType, pf PacketFlags) byte {
	return byte(pt)&packetTypeMask | byte(pf)&packetFlagsMask
}

// ParsePacketHeader splits a packet's header byte.
func ParsePacketHeader(b byte) (PacketType, PacketFlags) {
	return PacketType(b & packetTypeMask), PacketFlags(b & packetFlagsMask)
}

// Packet field lengths.
const (
	PacketHeaderLength   = 1
	PacketCRCLength      = 4
	PacketTicksLength    = 2
	FragmentHeaderLength = 6
)
