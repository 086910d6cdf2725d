// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport implements a connection oriented, optionally reliable, ordered and encrypted message transport
// on top of plain UDP sockets.
//
// A Host owns one UDP socket. It creates a Peer for each remote address it connects to or accepts a
// ConnectionRequest from. Messages are sent through a Peer, which batches them into packets, compresses, encrypts
// and fragments these packets and resends reliable messages until they are acknowledged.
//
// Connectionless traffic is possible as well, by sending unconnected or broadcast packets through the Host.
//
// Events are reported to listeners: HostListener, PeerListener and MessageListener. The *Events types implement
// them based on optional callback functions.
package transport
