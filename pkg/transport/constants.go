// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import "fmt"

// Frequency of a Host's ticks per second; one tick is one millisecond.
const Frequency = 1000

// Channels reserved for internal messages.
const (
	channelDefault    uint8 = 0
	channelDisconnect uint8 = 0
	channelPinger     uint8 = 0
)

// DisconnectReason describes why a Peer was disconnected.
type DisconnectReason int

const (
	// Disconnected locally by Peer.Disconnect.
	Disconnected DisconnectReason = iota

	// Terminated by the remote peer.
	Terminated

	// Rejected connection request.
	Rejected

	// BadSignature of the remote peer's accept packet.
	BadSignature

	// Timeout while connecting or waiting for an acknowledgement.
	Timeout

	// Disposed without disconnecting, e.g., by Peer.Close or Host.Close.
	Disposed

	// Exception occurred; the error is passed along.
	Exception
)

func (dr DisconnectReason) String() string {
	switch dr {
	case Disconnected:
		return "Disconnected"
	case Terminated:
		return "Terminated"
	case Rejected:
		return "Rejected"
	case BadSignature:
		return "BadSignature"
	case Timeout:
		return "Timeout"
	case Disposed:
		return "Disposed"
	case Exception:
		return "Exception"
	default:
		return fmt.Sprintf("DisconnectReason(%d)", int(dr))
	}
}

// State of a Peer. A Peer only moves forward, from StateConnecting to StateConnected to StateDisposed, possibly
// skipping StateConnected.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisposed:
		return "Disposed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
