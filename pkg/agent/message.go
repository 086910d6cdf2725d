// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"fmt"
	"net/netip"
)

// Message is a generic interface to specify an information exchange between an ApplicationAgent and some Manager.
// The following types named *Message are implementations of this interface.
type Message interface {
	// Recipients returns a list of peers to which this message is addressed.
	// However, if this message is not addressed to some specific peer, nil must be returned.
	Recipients() []netip.AddrPort
}

// PacketMessage indicates a transmitted packet.
// If the Message is received from an ApplicationAgent, it was received from the Peer.
// If the Message is sent from an ApplicationAgent, it should be sent to the Peer.
type PacketMessage struct {
	Peer     netip.AddrPort
	Channel  uint8
	Reliable bool
	Ordered  bool
	Unique   bool
	Timed    bool
	Payload  []byte
}

// Recipients are the Peer of a PacketMessage.
func (pm PacketMessage) Recipients() []netip.AddrPort {
	return []netip.AddrPort{pm.Peer}
}

func (pm PacketMessage) String() string {
	return fmt.Sprintf("packet(peer=%v, channel=%d, reliable=%t, ordered=%t, unique=%t, timed=%t, %d bytes)",
		pm.Peer, pm.Channel, pm.Reliable, pm.Ordered, pm.Unique, pm.Timed, len(pm.Payload))
}

// PeerMessage notifies an ApplicationAgent about a connected or disconnected Peer.
type PeerMessage struct {
	Peer      netip.AddrPort
	Connected bool

	// Reason of a disconnect, empty for connects.
	Reason string
}

// Recipients are the Peer of a PeerMessage.
func (pm PeerMessage) Recipients() []netip.AddrPort {
	return []netip.AddrPort{pm.Peer}
}

// ShutdownMessage indicates the closing down of an ApplicationAgent.
// If the Message is received from an ApplicationAgent, it must close itself down.
// If the Message is sent from an ApplicationAgent, it is closing down itself.
type ShutdownMessage struct{}

// Recipients are not available for a ShutdownMessage.
func (sm ShutdownMessage) Recipients() []netip.AddrPort {
	return nil
}
