// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/dtn7/rudp-go/pkg/codec"
	"github.com/dtn7/rudp-go/pkg/transport/internal/msgs"
)

// ConnectionRequest is a received request to connect. It is either accepted, rejected or disposed after the
// OnHostReceiveRequest callback returned.
type ConnectionRequest struct {
	host   *Host
	remote netip.AddrPort
	key    []byte
	random []byte

	mutex     sync.Mutex
	disposed  bool
	rejected  bool
	accepting bool
	accepted  bool
	peer     *Peer
	conf     PeerConfig
	listener PeerListener
}

func newConnectionRequest(host *Host, remote netip.AddrPort, key, random []byte) *ConnectionRequest {
	return &ConnectionRequest{
		host:   host,
		remote: remote,
		key:    key,
		random: random,
	}
}

func (cr *ConnectionRequest) String() string {
	return fmt.Sprintf("request(%v, encrypted=%t, authenticate=%t)", cr.remote, cr.Encrypted(), cr.Authenticate())
}

// Host which received this request.
func (cr *ConnectionRequest) Host() *Host {
	return cr.host
}

// Remote address of the requesting Host.
func (cr *ConnectionRequest) Remote() netip.AddrPort {
	return cr.remote
}

// Encrypted reports if the remote requested an encrypted connection.
func (cr *ConnectionRequest) Encrypted() bool {
	return len(cr.key) > 0
}

// Authenticate reports if the remote requested this Host to sign its challenge.
func (cr *ConnectionRequest) Authenticate() bool {
	return len(cr.random) > 0
}

func (cr *ConnectionRequest) Disposed() bool {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()

	return cr.disposed
}

func (cr *ConnectionRequest) Accepted() bool {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()

	return cr.accepted
}

func (cr *ConnectionRequest) Rejected() bool {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()

	return cr.rejected
}

// Accept this request, creating a Peer or reusing an existing one. Accepting twice with the same configuration and
// listener returns the same Peer.
//
// The Peer's listener might already be called from within Accept, e.g., OnPeerDisconnect for a failed accept.
func (cr *ConnectionRequest) Accept(conf PeerConfig, listener PeerListener) (*Peer, error) {
	if peer, done, err := cr.beginAccept(conf, listener); done {
		return peer, err
	}

	peer, err := cr.host.accept(cr, conf, listener)

	cr.mutex.Lock()
	defer cr.mutex.Unlock()

	cr.accepting = false
	if err != nil {
		return peer, err
	}

	cr.accepted = true
	cr.peer = peer
	cr.conf = conf
	cr.listener = listener
	return peer, nil
}

// beginAccept checks if this request might be accepted and marks it as accepting. Otherwise, done is set together
// with Accept's result.
func (cr *ConnectionRequest) beginAccept(conf PeerConfig, listener PeerListener) (peer *Peer, done bool, err error) {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()

	switch {
	case cr.disposed:
		return nil, true, ErrDisposed
	case cr.rejected:
		return nil, true, newProtocolError(cr.remote, nil, "connection request was already rejected")
	case cr.accepting:
		return nil, true, newProtocolError(cr.remote, nil, "connection request is being accepted")
	case cr.accepted && cr.conf == conf && cr.listener == listener:
		return cr.peer, true, nil
	case cr.accepted:
		return nil, true, newProtocolError(cr.remote, nil, "connection request was already accepted")
	}

	cr.accepting = true
	return nil, false, nil
}

// Reject this request, sending the optional payload to the remote Host. Rejecting twice is a no-op.
func (cr *ConnectionRequest) Reject(payload codec.Writable) error {
	cr.mutex.Lock()
	switch {
	case cr.disposed:
		cr.mutex.Unlock()
		return ErrDisposed
	case cr.accepted || cr.accepting:
		cr.mutex.Unlock()
		return newProtocolError(cr.remote, nil, "connection request was already accepted")
	case cr.rejected:
		cr.mutex.Unlock()
		return nil
	}
	cr.rejected = true
	cr.mutex.Unlock()

	return cr.host.sendPacket(msgs.PacketReject, cr.remote, payload)
}

// dispose this request after the listener's callback, as its key and random alias the receive buffer.
func (cr *ConnectionRequest) dispose() {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()

	cr.disposed = true
}
