// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import "net/netip"

// AnyPeer is a wildcard address. An ApplicationAgent listing it receives the Messages of all peers.
var AnyPeer = netip.AddrPort{}

// ApplicationAgent is an interface to describe application agents, which can both receive and transmit packets.
// Each implementation must provide the following methods to communicate its peers. Furthermore two channels
// must be available, one for receiving and one for sending Messages.
//
// On closing down, an ApplicationAgent MUST close its MessageSender channel and MUST leave the MessageReceiver
// open. The supervising code MUST close the MessageReceiver of its subjects.
type ApplicationAgent interface {
	// Peers returns the remote addresses this ApplicationAgent is interested in.
	Peers() []netip.AddrPort

	// MessageReceiver is a channel on which the ApplicationAgent must listen for incoming Messages.
	MessageReceiver() chan Message

	// MessageSender is a channel to which the ApplicationAgent can send outgoing Messages.
	MessageSender() chan Message
}

// ChannelAgent is an ApplicationAgent restricting its incoming PacketMessages to some channels.
type ChannelAgent interface {
	ApplicationAgent

	// Channels returns the accepted channels. An empty list accepts all channels.
	Channels() []uint8
}

// AppAgentAcceptsChannel checks if an ApplicationAgent accepts PacketMessages on this channel.
func AppAgentAcceptsChannel(app ApplicationAgent, channel uint8) bool {
	ca, ok := app.(ChannelAgent)
	if !ok {
		return true
	}

	channels := ca.Channels()
	if len(channels) == 0 {
		return true
	}
	for _, c := range channels {
		if c == channel {
			return true
		}
	}
	return false
}

// bagContainsPeer checks if some bag of peers contains one of the requested peers.
func bagContainsPeer(bag []netip.AddrPort, peers []netip.AddrPort) bool {
	matches := map[netip.AddrPort]struct{}{}

	for _, peer := range peers {
		matches[peer] = struct{}{}
	}

	for _, peer := range bag {
		if peer == AnyPeer && len(peers) > 0 {
			return true
		} else if _, ok := matches[peer]; ok {
			return true
		}
	}
	return false
}

// AppAgentContainsPeer checks if an ApplicationAgent listens to at least one of the requested peers.
func AppAgentContainsPeer(app ApplicationAgent, peers []netip.AddrPort) bool {
	return bagContainsPeer(app.Peers(), peers)
}

// AppAgentHasPeer checks if an ApplicationAgent listens to this peer.
func AppAgentHasPeer(app ApplicationAgent, peer netip.AddrPort) bool {
	return AppAgentContainsPeer(app, []netip.AddrPort{peer})
}
