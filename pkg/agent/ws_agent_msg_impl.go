// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"fmt"
	"io"
	"net/netip"

	"github.com/dtn7/cboring"
)

// wamStatus is a webAgentMessage to acknowledge a previous message or report an error with a non-empty string.
// This message might be initiated from both a client or a server.
type wamStatus struct {
	errorMsg string
}

// newStatusMessage creates a new wamStatus webAgentMessage.
func newStatusMessage(err error) *wamStatus {
	if err == nil {
		return &wamStatus{""}
	} else {
		return &wamStatus{err.Error()}
	}
}

func (_ *wamStatus) typeCode() uint64 {
	return wamStatusCode
}

func (ws *wamStatus) MarshalCbor(w io.Writer) error {
	return cboring.WriteTextString(ws.errorMsg, w)
}

func (ws *wamStatus) UnmarshalCbor(r io.Reader) (err error) {
	ws.errorMsg, err = cboring.ReadTextString(r)
	return
}

// wamRegister is a webAgentMessage sent from a client to the server to register itself for a peer address.
// The wildcard "*" registers for all peers.
type wamRegister struct {
	peer string
}

// newRegisterMessage creates a new wamRegister webAgentMessage.
func newRegisterMessage(peer string) *wamRegister {
	return &wamRegister{peer}
}

func (_ *wamRegister) typeCode() uint64 {
	return wamRegisterCode
}

func (wr *wamRegister) MarshalCbor(w io.Writer) error {
	return cboring.WriteTextString(wr.peer, w)
}

func (wr *wamRegister) UnmarshalCbor(r io.Reader) (err error) {
	wr.peer, err = cboring.ReadTextString(r)
	return
}

// parsePeer parses a registered peer address, accepting the wildcard.
func parsePeer(peer string) (netip.AddrPort, error) {
	if peer == "*" {
		return AnyPeer, nil
	}
	return netip.ParseAddrPort(peer)
}

// formatPeer is the inverse of parsePeer.
func formatPeer(peer netip.AddrPort) string {
	if peer == AnyPeer {
		return "*"
	}
	return peer.String()
}

const (
	wamPacketReliable uint64 = 1 << iota
	wamPacketOrdered
	wamPacketUnique
	wamPacketTimed
)

// wamPacket is a webAgentMessage for a packet from or to a peer.
// This message might be initiated from both a client or a server.
type wamPacket struct {
	p PacketMessage
}

// newPacketMessage creates a new wamPacket webAgentMessage.
func newPacketMessage(p PacketMessage) *wamPacket {
	return &wamPacket{p}
}

func (_ *wamPacket) typeCode() uint64 {
	return wamPacketCode
}

func (wp *wamPacket) MarshalCbor(w io.Writer) error {
	var flags uint64
	for _, f := range []struct {
		set  bool
		flag uint64
	}{
		{wp.p.Reliable, wamPacketReliable},
		{wp.p.Ordered, wamPacketOrdered},
		{wp.p.Unique, wamPacketUnique},
		{wp.p.Timed, wamPacketTimed},
	} {
		if f.set {
			flags |= f.flag
		}
	}

	if err := cboring.WriteArrayLength(4, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(formatPeer(wp.p.Peer), w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(wp.p.Channel), w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(flags, w); err != nil {
		return err
	}
	return cboring.WriteByteString(wp.p.Payload, w)
}

func (wp *wamPacket) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 4 {
		return fmt.Errorf("expected CBOR array of 4 elements, not %d", n)
	}

	if peer, err := cboring.ReadTextString(r); err != nil {
		return err
	} else if wp.p.Peer, err = parsePeer(peer); err != nil {
		return err
	}

	if channel, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if channel > 255 {
		return fmt.Errorf("channel %d exceeds 255", channel)
	} else {
		wp.p.Channel = uint8(channel)
	}

	flags, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	wp.p.Reliable = flags&wamPacketReliable != 0
	wp.p.Ordered = flags&wamPacketOrdered != 0
	wp.p.Unique = flags&wamPacketUnique != 0
	wp.p.Timed = flags&wamPacketTimed != 0

	wp.p.Payload, err = cboring.ReadByteString(r)
	return err
}

// wamPeer is a webAgentMessage sent from the server to inform a client about its peer's connection state.
type wamPeer struct {
	peer      string
	connected bool
	reason    string
}

// newPeerMessage creates a new wamPeer webAgentMessage.
func newPeerMessage(pm PeerMessage) *wamPeer {
	return &wamPeer{
		peer:      formatPeer(pm.Peer),
		connected: pm.Connected,
		reason:    pm.Reason,
	}
}

func (_ *wamPeer) typeCode() uint64 {
	return wamPeerCode
}

func (wp *wamPeer) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(wp.peer, w); err != nil {
		return err
	}
	if err := cboring.WriteBoolean(wp.connected, w); err != nil {
		return err
	}
	return cboring.WriteTextString(wp.reason, w)
}

func (wp *wamPeer) UnmarshalCbor(r io.Reader) (err error) {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 3 {
		return fmt.Errorf("expected CBOR array of 3 elements, not %d", n)
	}

	if wp.peer, err = cboring.ReadTextString(r); err != nil {
		return
	}
	if wp.connected, err = cboring.ReadBoolean(r); err != nil {
		return
	}
	wp.reason, err = cboring.ReadTextString(r)
	return
}

// message converts a wamPeer back into a PeerMessage.
func (wp *wamPeer) message() (PeerMessage, error) {
	peer, err := parsePeer(wp.peer)
	if err != nil {
		return PeerMessage{}, err
	}
	return PeerMessage{Peer: peer, Connected: wp.connected, Reason: wp.reason}, nil
}
