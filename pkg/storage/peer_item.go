// SPDX-FileCopyrightText: 2019, 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"crypto/sha256"
	"fmt"
	"net/netip"
	"os"
	"path"
	"time"

	"github.com/dtn7/rudp-go/pkg/agent"
)

// PeerItem is the peer book's entry for a remote address. The Store operates on PeerItems.
type PeerItem struct {
	Id string `badgerhold:"key"`

	Connects    int
	Disconnects int
	LastReason  string

	LastSeen   time.Time `badgerholdIndex:"LastSeen"`
	Discovered bool      `badgerholdIndex:"Discovered"`
	PublicKey  string

	// Pending is set while the Outbox holds packets for this peer.
	Pending bool `badgerholdIndex:"Pending"`
	Outbox  []OutboxPart
}

// Address of this PeerItem's peer.
func (pi PeerItem) Address() (netip.AddrPort, error) {
	return netip.ParseAddrPort(pi.Id)
}

// OutboxPart links a PeerItem to a queued packet, whose payload is stored on the disk.
type OutboxPart struct {
	Filename string

	Channel  uint8
	Reliable bool
	Ordered  bool
	Unique   bool
	Timed    bool
}

// storePayload writes the packet's payload to the disk.
func (op OutboxPart) storePayload(payload []byte) error {
	return os.WriteFile(op.Filename, payload, 0600)
}

// deletePayload removes the stored payload from the disk.
func (op OutboxPart) deletePayload() error {
	return os.Remove(op.Filename)
}

// Load the queued packet from the disk.
func (op OutboxPart) Load(peer netip.AddrPort) (p agent.PacketMessage, err error) {
	p = agent.PacketMessage{
		Peer:     peer,
		Channel:  op.Channel,
		Reliable: op.Reliable,
		Ordered:  op.Ordered,
		Unique:   op.Unique,
		Timed:    op.Timed,
	}
	p.Payload, err = os.ReadFile(op.Filename)
	return
}

// payloadPath returns a path for a queued packet's payload.
func payloadPath(id string, seq int, storagePath string) string {
	f := fmt.Sprintf("%x", sha256.Sum256([]byte(fmt.Sprintf("%s/%d/%d", id, seq, time.Now().UnixNano()))))
	return path.Join(storagePath, f)
}

// newOutboxPart creates a new OutboxPart for a packet.
func newOutboxPart(p agent.PacketMessage, seq int, storagePath string) OutboxPart {
	return OutboxPart{
		Filename: payloadPath(p.Peer.String(), seq, storagePath),

		Channel:  p.Channel,
		Reliable: p.Reliable,
		Ordered:  p.Ordered,
		Unique:   p.Unique,
		Timed:    p.Timed,
	}
}

// newPeerItem creates a new, empty PeerItem for a remote address.
func newPeerItem(remote netip.AddrPort) PeerItem {
	return PeerItem{Id: key(remote)}
}

// key of a remote address, without IPv4-mapped IPv6 prefix.
func key(remote netip.AddrPort) string {
	return netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port()).String()
}
