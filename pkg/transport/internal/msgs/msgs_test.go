// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgs

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/dtn7/rudp-go/pkg/codec"
)

func TestPacketHeader(t *testing.T) {
	tests := []struct {
		b  byte
		pt PacketType
		pf PacketFlags
	}{
		{0x40, PacketRequest, 0},
		{0x51, PacketRequest, PacketVerified | PacketTimed},
		{0xA0 | 0x1F, PacketConnected, PacketTimed | PacketFragmented | PacketCompressed | PacketCombined | PacketVerified},
		{0xE4, PacketBroadcast, PacketCompressed},
		{0x20, PacketUnused2, 0},
	}

	for _, test := range tests {
		if b := PacketHeader(test.pt, test.pf); b != test.b {
			t.Fatalf("PacketHeader(%v, %v) = %x, expected %x", test.pt, test.pf, b, test.b)
		}

		pt, pf := ParsePacketHeader(test.b)
		if pt != test.pt || pf != test.pf {
			t.Fatalf("ParsePacketHeader(%x) = %v, %v; expected %v, %v", test.b, pt, pf, test.pt, test.pf)
		}
	}

	if !PacketUnused1.IsUnused() || !PacketUnused2.IsUnused() || PacketAccept.IsUnused() {
		t.Fatal("unused packet types are misclassified")
	}
}

func TestMessageHeader(t *testing.T) {
	tests := []struct {
		data []byte
		mh   MessageHeader
	}{
		{
			[]byte{0x80},
			MessageHeader{Type: MessageCustom},
		},
		{
			// Ping: timed, sequenced, reliable
			[]byte{0xC7, 0x12, 0x34, 0x00, 0x05, 0x02},
			MessageHeader{Type: MessagePing, Flags: MessageTimed | MessageSequenced | MessageReliable,
				Ticks: 0x1234, Sequence: 5, Attempt: 2},
		},
		{
			// Acknowledge: timed, sequenced, channeled
			[]byte{0x63, 0xFF, 0xFF, 0xFF, 0xFE, 0x07},
			MessageHeader{Type: MessageAcknowledge, Flags: MessageTimed | MessageSequenced | MessageChanneled,
				Ticks: 0xFFFF, Sequence: 0xFFFE, Channel: 7},
		},
		{
			[]byte{0x3E, 0x00, 0x01, 0x00, 0x09},
			MessageHeader{Type: MessageDisconnect,
				Flags:    MessageSequenced | MessageReliable | MessageOrdered | MessageUnique | MessageChanneled,
				Sequence: 1, Channel: 9},
		},
	}

	for _, test := range tests {
		w := codec.NewWriter(nil)
		test.mh.Write(w)
		if !bytes.Equal(w.Bytes(), test.data) {
			t.Fatalf("%v serialized to %x, expected %x", test.mh, w.Bytes(), test.data)
		} else if test.mh.Length() != len(test.data) {
			t.Fatalf("%v has length %d, expected %d", test.mh, test.mh.Length(), len(test.data))
		}

		var mh MessageHeader
		if err := mh.Read(codec.NewReader(test.data)); err != nil {
			t.Fatal(err)
		} else if !reflect.DeepEqual(mh, test.mh) {
			t.Fatalf("parsed %v, expected %v", mh, test.mh)
		}
	}
}

func TestMessageHeaderShort(t *testing.T) {
	tests := [][]byte{
		{},
		{0x81},
		{0x82, 0x00},
		{0x84},
		{0xA0},
	}

	for _, data := range tests {
		var mh MessageHeader
		if err := mh.Read(codec.NewReader(data)); err == nil {
			t.Fatalf("short header %x was parsed as %v", data, mh)
		}
	}
}

func TestFragmentHeader(t *testing.T) {
	data := []byte{0x00, 0x2A, 0x00, 0x01, 0x00, 0x03}
	fh := FragmentHeader{ID: 42, Part: 1, Last: 3}

	w := codec.NewWriter(nil)
	fh.Write(w)
	if !bytes.Equal(w.Bytes(), data) {
		t.Fatalf("serialized to %x, expected %x", w.Bytes(), data)
	}

	var parsed FragmentHeader
	if err := parsed.Read(codec.NewReader(data)); err != nil {
		t.Fatal(err)
	} else if parsed != fh {
		t.Fatalf("parsed %v, expected %v", parsed, fh)
	}

	if err := parsed.Read(codec.NewReader(data[:5])); err == nil {
		t.Fatal("short fragment header was parsed")
	}

	tests := []struct {
		fh    FragmentHeader
		valid bool
	}{
		{FragmentHeader{Part: 0, Last: 1}, true},
		{FragmentHeader{Part: 3, Last: 3}, true},
		{FragmentHeader{Part: 0, Last: 0}, false},
		{FragmentHeader{Part: 4, Last: 3}, false},
	}
	for _, test := range tests {
		if err := test.fh.Valid(); (err == nil) != test.valid {
			t.Fatalf("%v: valid = %t, got %v", test.fh, test.valid, err)
		}
	}
}

func TestHandshake(t *testing.T) {
	h := Handshake{
		Key:     []byte{1, 2, 3},
		Data:    []byte{4, 5},
		Payload: []byte("hello"),
	}
	data := []byte{0x00, 0x03, 0x00, 0x02, 1, 2, 3, 4, 5, 'h', 'e', 'l', 'l', 'o'}

	w := codec.NewWriter(nil)
	h.Write(w)
	if !bytes.Equal(w.Bytes(), data) {
		t.Fatalf("serialized to %x, expected %x", w.Bytes(), data)
	}

	var parsed Handshake
	if err := parsed.Read(codec.NewReader(data)); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(parsed, h) {
		t.Fatalf("parsed %v, expected %v", parsed, h)
	}

	for _, short := range [][]byte{data[:3], data[:8]} {
		if err := parsed.Read(codec.NewReader(short)); err == nil {
			t.Fatalf("short handshake %x was parsed", short)
		}
	}
}
