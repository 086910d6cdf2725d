// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import "sync/atomic"

// HostStatistics counts a Host's socket traffic. The *Ticks fields hold the Host ticks of the latest event.
type HostStatistics struct {
	SocketSendTicks    atomic.Int64
	SocketSendBytes    atomic.Int64
	SocketSendCount    atomic.Int64
	SocketReceiveTicks atomic.Int64
	SocketReceiveBytes atomic.Int64
	SocketReceiveCount atomic.Int64
}

// Reset all counters to zero.
func (hs *HostStatistics) Reset() {
	for _, v := range []*atomic.Int64{
		&hs.SocketSendTicks, &hs.SocketSendBytes, &hs.SocketSendCount,
		&hs.SocketReceiveTicks, &hs.SocketReceiveBytes, &hs.SocketReceiveCount,
	} {
		v.Store(0)
	}
}

// PeerStatistics counts a Peer's packets and messages.
type PeerStatistics struct {
	PacketSendTicks    atomic.Int64
	PacketSendBytes    atomic.Int64
	PacketSendCount    atomic.Int64
	PacketReceiveTicks atomic.Int64
	PacketReceiveBytes atomic.Int64
	PacketReceiveCount atomic.Int64

	MessageSendBytes       atomic.Int64
	MessageSendTotal       atomic.Int64
	MessageSendReliable    atomic.Int64
	MessageSendUnreliable  atomic.Int64
	MessageSendDuplicated  atomic.Int64
	MessageSendAcknowledge atomic.Int64
	MessageSendPing        atomic.Int64

	MessageReceiveBytes       atomic.Int64
	MessageReceiveLost        atomic.Int64
	MessageReceiveTotal       atomic.Int64
	MessageReceiveReliable    atomic.Int64
	MessageReceiveUnreliable  atomic.Int64
	MessageReceiveDuplicated  atomic.Int64
	MessageReceiveAcknowledge atomic.Int64
	MessageReceivePing        atomic.Int64
}

// Reset all counters to zero.
func (ps *PeerStatistics) Reset() {
	for _, v := range []*atomic.Int64{
		&ps.PacketSendTicks, &ps.PacketSendBytes, &ps.PacketSendCount,
		&ps.PacketReceiveTicks, &ps.PacketReceiveBytes, &ps.PacketReceiveCount,
		&ps.MessageSendBytes, &ps.MessageSendTotal, &ps.MessageSendReliable, &ps.MessageSendUnreliable,
		&ps.MessageSendDuplicated, &ps.MessageSendAcknowledge, &ps.MessageSendPing,
		&ps.MessageReceiveBytes, &ps.MessageReceiveLost, &ps.MessageReceiveTotal, &ps.MessageReceiveReliable,
		&ps.MessageReceiveUnreliable, &ps.MessageReceiveDuplicated, &ps.MessageReceiveAcknowledge,
		&ps.MessageReceivePing,
	} {
		v.Store(0)
	}
}
