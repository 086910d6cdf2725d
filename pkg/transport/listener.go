// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"net/netip"

	"github.com/dtn7/rudp-go/pkg/codec"
)

// HostListener receives a Host's events. Callbacks are invoked from the Host's goroutines and must not block for
// long. Readers and packets are only valid during the callback.
type HostListener interface {
	// OnHostReceiveRequest is called for a new connection request. The request must be accepted or rejected within
	// the callback; afterwards it is disposed.
	OnHostReceiveRequest(request *ConnectionRequest, reader *codec.Reader)

	// OnHostReceiveUnconnected is called for a received unconnected packet.
	OnHostReceiveUnconnected(remote netip.AddrPort, reader *codec.Reader)

	// OnHostReceiveBroadcast is called for a received broadcast packet.
	OnHostReceiveBroadcast(remote netip.AddrPort, reader *codec.Reader)

	// OnHostReceiveSocket is called for each datagram before it is processed.
	OnHostReceiveSocket(remote netip.AddrPort, packet []byte)

	// OnHostException is called for errors which are not bound to a Peer. The remote address might be invalid.
	OnHostException(remote netip.AddrPort, err error)

	// OnHostShutdown is called once after the Host was closed.
	OnHostShutdown()
}

// HostEvents implements HostListener by its optional callbacks.
type HostEvents struct {
	OnReceiveRequest     func(request *ConnectionRequest, reader *codec.Reader)
	OnReceiveUnconnected func(remote netip.AddrPort, reader *codec.Reader)
	OnReceiveBroadcast   func(remote netip.AddrPort, reader *codec.Reader)
	OnReceiveSocket      func(remote netip.AddrPort, packet []byte)
	OnException          func(remote netip.AddrPort, err error)
	OnShutdown           func()
}

func (he *HostEvents) OnHostReceiveRequest(request *ConnectionRequest, reader *codec.Reader) {
	if he.OnReceiveRequest != nil {
		he.OnReceiveRequest(request, reader)
	}
}

func (he *HostEvents) OnHostReceiveUnconnected(remote netip.AddrPort, reader *codec.Reader) {
	if he.OnReceiveUnconnected != nil {
		he.OnReceiveUnconnected(remote, reader)
	}
}

func (he *HostEvents) OnHostReceiveBroadcast(remote netip.AddrPort, reader *codec.Reader) {
	if he.OnReceiveBroadcast != nil {
		he.OnReceiveBroadcast(remote, reader)
	}
}

func (he *HostEvents) OnHostReceiveSocket(remote netip.AddrPort, packet []byte) {
	if he.OnReceiveSocket != nil {
		he.OnReceiveSocket(remote, packet)
	}
}

func (he *HostEvents) OnHostException(remote netip.AddrPort, err error) {
	if he.OnException != nil {
		he.OnException(remote, err)
	}
}

func (he *HostEvents) OnHostShutdown() {
	if he.OnShutdown != nil {
		he.OnShutdown()
	}
}

// PeerListener receives a Peer's events. Readers are only valid during the callback.
type PeerListener interface {
	// OnPeerConnect is called once the Peer became connected.
	OnPeerConnect(peer *Peer)

	// OnPeerReceive is called for each received custom message.
	OnPeerReceive(peer *Peer, reader *codec.Reader, info MessageReceived)

	// OnPeerUpdateRTT is called after a new round trip time was measured, in milliseconds.
	OnPeerUpdateRTT(peer *Peer, rtt uint16)

	// OnPeerDisconnect is called exactly once, before the Peer is disposed. The reader holds the payload of a
	// reject or disconnect message and might be nil.
	OnPeerDisconnect(peer *Peer, reader *codec.Reader, reason DisconnectReason, err error)

	// OnPeerException is called for errors which do not end the connection.
	OnPeerException(peer *Peer, err error)
}

// PeerEvents implements PeerListener by its optional callbacks.
type PeerEvents struct {
	OnConnect    func(peer *Peer)
	OnReceive    func(peer *Peer, reader *codec.Reader, info MessageReceived)
	OnUpdateRTT  func(peer *Peer, rtt uint16)
	OnDisconnect func(peer *Peer, reader *codec.Reader, reason DisconnectReason, err error)
	OnException  func(peer *Peer, err error)
}

func (pe *PeerEvents) OnPeerConnect(peer *Peer) {
	if pe.OnConnect != nil {
		pe.OnConnect(peer)
	}
}

func (pe *PeerEvents) OnPeerReceive(peer *Peer, reader *codec.Reader, info MessageReceived) {
	if pe.OnReceive != nil {
		pe.OnReceive(peer, reader, info)
	}
}

func (pe *PeerEvents) OnPeerUpdateRTT(peer *Peer, rtt uint16) {
	if pe.OnUpdateRTT != nil {
		pe.OnUpdateRTT(peer, rtt)
	}
}

func (pe *PeerEvents) OnPeerDisconnect(peer *Peer, reader *codec.Reader, reason DisconnectReason, err error) {
	if pe.OnDisconnect != nil {
		pe.OnDisconnect(peer, reader, reason, err)
	}
}

func (pe *PeerEvents) OnPeerException(peer *Peer, err error) {
	if pe.OnException != nil {
		pe.OnException(peer, err)
	}
}
