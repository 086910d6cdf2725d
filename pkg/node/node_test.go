// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"bytes"
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/dtn7/rudp-go/pkg/agent"
	"github.com/dtn7/rudp-go/pkg/discovery"
	"github.com/dtn7/rudp-go/pkg/transport"
)

const testTimeout = 5 * time.Second

// testAgent collects all received Messages.
type testAgent struct {
	peers    []netip.AddrPort
	receiver chan agent.Message
	sender   chan agent.Message
	received chan agent.Message
}

func newTestAgent(peers ...netip.AddrPort) *testAgent {
	if len(peers) == 0 {
		peers = []netip.AddrPort{agent.AnyPeer}
	}

	ta := &testAgent{
		peers:    peers,
		receiver: make(chan agent.Message),
		sender:   make(chan agent.Message),
		received: make(chan agent.Message, 64),
	}

	go func() {
		defer close(ta.sender)

		for msg := range ta.receiver {
			if _, isShutdown := msg.(agent.ShutdownMessage); isShutdown {
				return
			}
			ta.received <- msg
		}
	}()

	return ta
}

func (ta *testAgent) Peers() []netip.AddrPort           { return ta.peers }
func (ta *testAgent) MessageReceiver() chan agent.Message { return ta.receiver }
func (ta *testAgent) MessageSender() chan agent.Message   { return ta.sender }

// awaitPacket skips all other Messages until a PacketMessage arrives.
func (ta *testAgent) awaitPacket(t *testing.T) agent.PacketMessage {
	t.Helper()

	timeout := time.After(testTimeout)
	for {
		select {
		case msg := <-ta.received:
			if pm, ok := msg.(agent.PacketMessage); ok {
				return pm
			}
		case <-timeout:
			t.Fatal("timeout while waiting for a packet")
		}
	}
}

// awaitPeer skips all other Messages until a PeerMessage of the requested kind arrives.
func (ta *testAgent) awaitPeer(t *testing.T, connected bool) agent.PeerMessage {
	t.Helper()

	timeout := time.After(testTimeout)
	for {
		select {
		case msg := <-ta.received:
			if pm, ok := msg.(agent.PeerMessage); ok && pm.Connected == connected {
				return pm
			}
		case <-timeout:
			t.Fatalf("timeout while waiting for a peer message, connected=%t", connected)
		}
	}
}

func testConfig(t *testing.T, accept bool) Config {
	hostConf := transport.DefaultHostConfig()
	hostConf.BindAddress = netip.MustParseAddr("127.0.0.1")

	return Config{
		Host:     hostConf,
		Peer:     transport.DefaultPeerConfig(),
		Accept:   accept,
		StoreDir: t.TempDir(),
	}
}

func newTestNode(t *testing.T, conf Config) *Node {
	t.Helper()

	n, err := NewNode(conf)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = n.Shutdown(ctx)
	})

	return n
}

func TestNodeEcho(t *testing.T) {
	server := newTestNode(t, testConfig(t, true))
	server.RegisterAgent(agent.NewEcho())

	client := newTestNode(t, testConfig(t, false))
	clientAgent := newTestAgent()
	client.RegisterAgent(clientAgent)

	if _, err := client.Connect(server.Host().Addr(), "", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if pm := clientAgent.awaitPeer(t, true); pm.Peer != server.Host().Addr() {
		t.Fatalf("connected to %v, expected %v", pm.Peer, server.Host().Addr())
	}

	clientAgent.sender <- agent.PacketMessage{
		Peer:     server.Host().Addr(),
		Channel:  2,
		Reliable: true,
		Ordered:  true,
		Payload:  []byte("ping"),
	}

	pm := clientAgent.awaitPacket(t)
	if pm.Peer != server.Host().Addr() || pm.Channel != 2 || !pm.Reliable || !pm.Ordered {
		t.Fatalf("echoed packet differs: %v", pm)
	}
	if !bytes.Equal(pm.Payload, []byte("ping")) {
		t.Fatalf("echoed payload is %q", pm.Payload)
	}

	if !client.Store().Knows(server.Host().Addr()) {
		t.Fatal("client's peer book does not know the server")
	}
	if !server.Store().Knows(client.Host().Addr()) {
		t.Fatal("server's peer book does not know the client")
	}
}

func TestNodeReject(t *testing.T) {
	server := newTestNode(t, testConfig(t, false))

	client := newTestNode(t, testConfig(t, false))
	clientAgent := newTestAgent()
	client.RegisterAgent(clientAgent)

	if _, err := client.Connect(server.Host().Addr(), "", nil); err != nil {
		t.Fatal(err)
	}

	if pm := clientAgent.awaitPeer(t, false); pm.Reason != transport.Rejected.String() {
		t.Fatalf("disconnect reason is %q, expected %q", pm.Reason, transport.Rejected)
	}

	pi, err := client.Store().Query(server.Host().Addr())
	if err != nil {
		t.Fatal(err)
	}
	if pi.Disconnects != 1 || pi.LastReason != transport.Rejected.String() {
		t.Fatalf("peer book entry differs: %+v", pi)
	}
}

func TestNodeOutbox(t *testing.T) {
	server := newTestNode(t, testConfig(t, true))
	serverAgent := newTestAgent()
	server.RegisterAgent(serverAgent)

	client := newTestNode(t, testConfig(t, false))
	clientAgent := newTestAgent()
	client.RegisterAgent(clientAgent)

	if _, err := client.Connect(server.Host().Addr(), "", nil); err != nil {
		t.Fatal(err)
	}
	clientAgent.awaitPeer(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := client.Disconnect(ctx, server.Host().Addr(), nil); err != nil {
		t.Fatal(err)
	}
	clientAgent.awaitPeer(t, false)

	for deadline := time.Now().Add(testTimeout); client.Host().FindPeer(server.Host().Addr()) != nil; {
		if time.Now().After(deadline) {
			t.Fatal("disconnected peer was not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		err := client.Send(agent.PacketMessage{
			Peer:     server.Host().Addr(),
			Channel:  1,
			Reliable: true,
			Ordered:  true,
			Payload:  []byte{byte(i)},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if pis, err := client.Store().QueryPending(); err != nil {
		t.Fatal(err)
	} else if len(pis) != 1 {
		t.Fatalf("found %d pending peers, expected 1", len(pis))
	}

	if _, err := client.Connect(server.Host().Addr(), "", nil); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if pm := serverAgent.awaitPacket(t); !bytes.Equal(pm.Payload, []byte{byte(i)}) {
			t.Fatalf("queued packet %d has payload %x", i, pm.Payload)
		}
	}
}

func TestNodeSendUnknown(t *testing.T) {
	n := newTestNode(t, testConfig(t, false))

	err := n.Send(agent.PacketMessage{
		Peer:    netip.MustParseAddrPort("127.0.0.1:9"),
		Channel: 1,
		Payload: []byte("lost"),
	})
	if err == nil {
		t.Fatal("sending to an unknown peer did not error")
	}
}

func TestNodeHandleAnnouncement(t *testing.T) {
	server := newTestNode(t, testConfig(t, true))
	serverAgent := newTestAgent()
	server.RegisterAgent(serverAgent)

	conf := testConfig(t, false)
	conf.ConnectDiscovered = true
	client := newTestNode(t, conf)

	client.HandleAnnouncement(server.Host().Addr(), discovery.Announcement{
		Node:      "server",
		Port:      server.Host().Addr().Port(),
		PublicKey: server.Host().Authenticator().ExportPublicKey(),
	})

	if pm := serverAgent.awaitPeer(t, true); pm.Peer != client.Host().Addr() {
		t.Fatalf("server was connected by %v, expected %v", pm.Peer, client.Host().Addr())
	}

	pis, err := client.Store().QueryDiscovered()
	if err != nil {
		t.Fatal(err)
	} else if len(pis) != 1 {
		t.Fatalf("found %d discovered peers, expected 1", len(pis))
	} else if pis[0].PublicKey != server.Host().Authenticator().ExportPublicKey() {
		t.Fatalf("discovered peer has public key %q", pis[0].PublicKey)
	}

	peer := client.Host().FindPeer(server.Host().Addr())
	if peer == nil {
		t.Fatal("client has no peer for the server")
	}
	if peer.Config().RemotePublicKey == "" {
		t.Fatal("discovered peer is not authenticated")
	}
}

func TestNodeCheckPendingPackets(t *testing.T) {
	server := newTestNode(t, testConfig(t, true))
	serverAgent := newTestAgent()
	server.RegisterAgent(serverAgent)

	client := newTestNode(t, testConfig(t, false))

	// The server is known, but was never connected by this client.
	if err := client.Store().RecordDiscovered(server.Host().Addr(), ""); err != nil {
		t.Fatal(err)
	}
	if err := client.Send(agent.PacketMessage{
		Peer:     server.Host().Addr(),
		Channel:  1,
		Reliable: true,
		Payload:  []byte("queued"),
	}); err != nil {
		t.Fatal(err)
	}

	client.checkPendingPackets()

	if pm := serverAgent.awaitPacket(t); !bytes.Equal(pm.Payload, []byte("queued")) {
		t.Fatalf("received payload %q", pm.Payload)
	}
}

func TestNodePermanentPeer(t *testing.T) {
	server := newTestNode(t, testConfig(t, true))
	serverAgent := newTestAgent()
	server.RegisterAgent(serverAgent)

	client := newTestNode(t, testConfig(t, false))

	if _, err := client.ConnectPermanent(server.Host().Addr(), "", []byte("again")); err != nil {
		t.Fatal(err)
	}
	serverAgent.awaitPeer(t, true)

	// The server drops the connection without informing the client.
	server.Host().FindPeer(client.Host().Addr()).Close()
	client.Host().FindPeer(server.Host().Addr()).Close()
	serverAgent.awaitPeer(t, false)

	client.checkPermanentPeers()
	if pm := serverAgent.awaitPeer(t, true); pm.Peer != client.Host().Addr() {
		t.Fatalf("server was reconnected by %v", pm.Peer)
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := client.Disconnect(ctx, server.Host().Addr(), nil); err != nil {
		t.Fatal(err)
	}

	client.permanentMutex.Lock()
	defer client.permanentMutex.Unlock()
	if len(client.permanent) != 0 {
		t.Fatal("disconnected peer is still permanent")
	}
}
