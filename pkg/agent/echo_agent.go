// SPDX-FileCopyrightText: 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"net/netip"

	log "github.com/sirupsen/logrus"
)

// EchoAgent is a simple ApplicationAgent to echo incoming packets back to their peer, on the same channel and with
// the same delivery flags.
type EchoAgent struct {
	peers    []netip.AddrPort
	channels []uint8
	receiver chan Message
	sender   chan Message
}

// NewEcho creates a new EchoAgent for the given peers. Without any peers, it echoes the packets of all peers.
func NewEcho(peers ...netip.AddrPort) *EchoAgent {
	if len(peers) == 0 {
		peers = []netip.AddrPort{AnyPeer}
	}

	e := &EchoAgent{
		peers:    peers,
		receiver: make(chan Message),
		sender:   make(chan Message),
	}

	go e.handler()

	return e
}

// OnChannels restricts this EchoAgent to the given channels. It must be called before registering the EchoAgent.
func (e *EchoAgent) OnChannels(channels ...uint8) *EchoAgent {
	e.channels = channels
	return e
}

func (e *EchoAgent) log() *log.Entry {
	return log.WithField("EchoAgent", e.peers)
}

func (e *EchoAgent) handler() {
	defer close(e.sender)

	for m := range e.receiver {
		switch m := m.(type) {
		case PacketMessage:
			e.log().WithField("packet", m).Debug("Echoing packet")
			e.sender <- m

		case PeerMessage:
			e.log().WithField("message", m).Debug("Ignoring peer notification")

		case ShutdownMessage:
			return

		default:
			e.log().WithField("message", m).Info("Received unsupported Message")
		}
	}
}

func (e *EchoAgent) Peers() []netip.AddrPort {
	return e.peers
}

func (e *EchoAgent) Channels() []uint8 {
	return e.channels
}

func (e *EchoAgent) MessageReceiver() chan Message {
	return e.receiver
}

func (e *EchoAgent) MessageSender() chan Message {
	return e.sender
}
