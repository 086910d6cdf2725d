// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"context"
	"errors"
	"hash/crc32"
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dtn7/rudp-go/pkg/codec"
	"github.com/dtn7/rudp-go/pkg/crypto"
	"github.com/dtn7/rudp-go/pkg/transport/internal/msgs"
)

type received struct {
	payload []byte
	info    MessageReceived
}

type disconnected struct {
	payload []byte
	reason  DisconnectReason
	err     error
}

// testPeerEvents forwards a Peer's events into buffered channels.
type testPeerEvents struct {
	PeerEvents

	connects    chan *Peer
	receives    chan received
	disconnects chan disconnected
}

func newTestPeerEvents() *testPeerEvents {
	e := &testPeerEvents{
		connects:    make(chan *Peer, 1),
		receives:    make(chan received, 64),
		disconnects: make(chan disconnected, 1),
	}
	e.OnConnect = func(peer *Peer) { e.connects <- peer }
	e.OnReceive = func(_ *Peer, reader *codec.Reader, info MessageReceived) {
		e.receives <- received{append([]byte(nil), reader.ReadRemaining()...), info}
	}
	e.OnDisconnect = func(_ *Peer, reader *codec.Reader, reason DisconnectReason, err error) {
		var payload []byte
		if reader != nil {
			payload = append([]byte(nil), reader.ReadRemaining()...)
		}
		e.disconnects <- disconnected{payload, reason, err}
	}
	return e
}

type testPair struct {
	client, server             *Host
	clientPeer, serverPeer     *Peer
	clientEvents, serverEvents *testPeerEvents
	requests                   chan []byte
}

// connectPair connects a client Host to a server Host, which accepts every request.
func connectPair(t *testing.T, hostConf HostConfig, clientConf, serverConf PeerConfig) *testPair {
	t.Helper()

	pair := &testPair{
		clientEvents: newTestPeerEvents(),
		serverEvents: newTestPeerEvents(),
		requests:     make(chan []byte, 8),
	}

	pair.server = newTestHost(t, hostConf, &HostEvents{
		OnReceiveRequest: func(request *ConnectionRequest, reader *codec.Reader) {
			pair.requests <- append([]byte(nil), reader.ReadRemaining()...)
			if _, err := request.Accept(serverConf, pair.serverEvents); err != nil {
				t.Errorf("accepting failed: %v", err)
			}
		},
	})
	pair.client = newTestHost(t, hostConf, nil)

	var err error
	pair.clientPeer, err = pair.client.Connect(pair.server.Addr(), clientConf, pair.clientEvents, codec.Bytes("hello"))
	if err != nil {
		t.Fatal(err)
	}

	if payload := await(t, pair.requests, "connection request"); string(payload) != "hello" {
		t.Fatalf("expected request payload hello, got %q", payload)
	}
	await(t, pair.clientEvents.connects, "client connect")
	pair.serverPeer = await(t, pair.serverEvents.connects, "server connect")

	return pair
}

func TestHostConnectSend(t *testing.T) {
	tests := []struct {
		name         string
		crc          bool
		compression  bool
		encryption   bool
		authenticate bool
	}{
		{"plain", false, false, false, false},
		{"crc", true, false, false, false},
		{"compression", false, true, false, false},
		{"encryption", false, false, true, false},
		{"authentication", true, true, false, true},
		{"all", true, true, true, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			hostConf := testHostConfig()
			hostConf.CRC32 = test.crc
			hostConf.Compression = test.compression
			hostConf.Encryption = test.encryption

			clientConf := DefaultPeerConfig()
			if test.authenticate {
				auth, err := crypto.NewEd25519Authenticator()
				if err != nil {
					t.Fatal(err)
				}
				clientConf.RemotePublicKey = auth.ExportPublicKey()
				hostConf.PrivateKey = auth.ExportPrivateKey()
			}

			pair := connectPair(t, hostConf, clientConf, DefaultPeerConfig())

			acks := make(chan *MessageSent, 1)
			payload := bytes.Repeat([]byte("payload "), 32)
			_, err := pair.clientPeer.Send(Message{
				Channel:  1,
				Reliable: true,
				Ordered:  true,
				Unique:   true,
				Timed:    true,
				Payload:  codec.Bytes(payload),
			}, &MessageEvents{OnAcknowledge: func(_ *Peer, msg *MessageSent) { acks <- msg }})
			if err != nil {
				t.Fatal(err)
			}

			recv := await(t, pair.serverEvents.receives, "message")
			if !bytes.Equal(recv.payload, payload) {
				t.Fatalf("payload mismatch: %q", recv.payload)
			}
			if recv.info.Channel != 1 || !recv.info.Reliable() || !recv.info.Ordered() || !recv.info.Timed() {
				t.Fatalf("unexpected message info %v", recv.info)
			}

			msg := await(t, acks, "acknowledgement")
			if !msg.Stopped() || msg.Sends() < 1 {
				t.Fatalf("unexpected acknowledged message state: stopped=%t, sends=%d", msg.Stopped(), msg.Sends())
			}

			if stats := pair.serverPeer.Statistics(); stats.MessageReceiveReliable.Load() < 1 {
				t.Fatal("server did not count the reliable message")
			}
		})
	}
}

func TestHostFragmentation(t *testing.T) {
	pair := connectPair(t, testHostConfig(), DefaultPeerConfig(), DefaultPeerConfig())

	payload := make([]byte, 10000)
	rand.New(rand.NewSource(23)).Read(payload)

	if _, err := pair.serverPeer.Send(Message{Channel: 2, Reliable: true, Payload: codec.Bytes(payload)}, nil); err != nil {
		t.Fatal(err)
	}

	recv := await(t, pair.clientEvents.receives, "fragmented message")
	if !bytes.Equal(recv.payload, payload) {
		t.Fatal("fragmented payload mismatch")
	}
	if n := pair.clientPeer.Statistics().PacketReceiveCount.Load(); n < 8 {
		t.Fatalf("expected at least eight packets, got %d", n)
	}
}

func TestHostManyMessagesInOrder(t *testing.T) {
	pair := connectPair(t, testHostConfig(), DefaultPeerConfig(), DefaultPeerConfig())

	const count = 50
	sent := make(chan struct{}, count)
	listener := &MessageEvents{OnSend: func(_ *Peer, msg *MessageSent) {
		if msg.Attempt() == 0 {
			sent <- struct{}{}
		}
	}}

	for i := 0; i < count; i++ {
		i := i
		msg := Message{
			Channel:  3,
			Reliable: true,
			Ordered:  true,
			Payload:  codec.WritableFunc(func(w *codec.Writer) { w.WriteUint32(uint32(i)) }),
		}
		if _, err := pair.clientPeer.Send(msg, listener); err != nil {
			t.Fatal(err)
		}
		await(t, sent, "first send")
	}

	for i := 0; i < count; i++ {
		recv := await(t, pair.serverEvents.receives, "ordered message")
		value, err := codec.NewReader(recv.payload).ReadUint32()
		if err != nil {
			t.Fatal(err)
		}
		if int(value) != i {
			t.Fatalf("expected message %d, got %d", i, value)
		}
	}
}

func TestHostReject(t *testing.T) {
	server := newTestHost(t, testHostConfig(), &HostEvents{
		OnReceiveRequest: func(request *ConnectionRequest, _ *codec.Reader) {
			if err := request.Reject(codec.Bytes("go away")); err != nil {
				t.Errorf("rejecting failed: %v", err)
			}
			if err := request.Reject(nil); err != nil {
				t.Errorf("rejecting twice failed: %v", err)
			}
			if _, err := request.Accept(DefaultPeerConfig(), nil); err == nil {
				t.Error("accepting a rejected request succeeded")
			}
		},
	})
	client := newTestHost(t, testHostConfig(), nil)

	events := newTestPeerEvents()
	peer, err := client.Connect(server.Addr(), DefaultPeerConfig(), events, nil)
	if err != nil {
		t.Fatal(err)
	}

	d := await(t, events.disconnects, "reject")
	if d.reason != Rejected || string(d.payload) != "go away" {
		t.Fatalf("unexpected disconnect %v with payload %q", d.reason, d.payload)
	}
	if !peer.Disposed() || client.FindPeer(server.Addr()) != nil {
		t.Fatal("rejected peer was not disposed")
	}
}

func TestHostDisconnect(t *testing.T) {
	pair := connectPair(t, testHostConfig(), DefaultPeerConfig(), DefaultPeerConfig())

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	if err := pair.clientPeer.Disconnect(ctx, codec.Bytes("bye")); err != nil {
		t.Fatal(err)
	}

	local := await(t, pair.clientEvents.disconnects, "local disconnect")
	if local.reason != Disconnected {
		t.Fatalf("expected Disconnected, got %v", local.reason)
	}

	remote := await(t, pair.serverEvents.disconnects, "remote disconnect")
	if remote.reason != Terminated || string(remote.payload) != "bye" {
		t.Fatalf("unexpected remote disconnect %v with payload %q", remote.reason, remote.payload)
	}

	if _, err := pair.clientPeer.Send(Message{Channel: 1}, nil); err != ErrDisposed {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
}

func TestHostShutdown(t *testing.T) {
	pair := connectPair(t, testHostConfig(), DefaultPeerConfig(), DefaultPeerConfig())

	shutdown := make(chan struct{})
	pair.server.SetListener(&HostEvents{OnShutdown: func() { close(shutdown) }})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	if err := pair.server.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	await(t, shutdown, "shutdown")

	if d := await(t, pair.clientEvents.disconnects, "client disconnect"); d.reason != Terminated {
		t.Fatalf("expected Terminated, got %v", d.reason)
	}
	if !pair.server.Disposed() || len(pair.server.Peers()) != 0 {
		t.Fatal("server was not disposed")
	}
	if _, err := pair.server.Connect(pair.client.Addr(), DefaultPeerConfig(), nil, nil); err != ErrDisposed {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
}

func TestHostSendAll(t *testing.T) {
	server := newTestHost(t, testHostConfig(), &HostEvents{
		OnReceiveRequest: func(request *ConnectionRequest, _ *codec.Reader) {
			_, _ = request.Accept(DefaultPeerConfig(), &PeerEvents{})
		},
	})

	var clients []*testPeerEvents
	for i := 0; i < 3; i++ {
		events := newTestPeerEvents()
		client := newTestHost(t, testHostConfig(), nil)
		if _, err := client.Connect(server.Addr(), DefaultPeerConfig(), events, nil); err != nil {
			t.Fatal(err)
		}
		await(t, events.connects, "client connect")
		clients = append(clients, events)
	}

	deadline := time.Now().Add(testTimeout)
	for len(server.Peers()) < 3 || !allConnected(server.Peers()) {
		if time.Now().After(deadline) {
			t.Fatal("server peers did not connect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	excluded := server.Peers()[0]
	server.SendAll(Message{Channel: 1, Reliable: true, Payload: codec.Bytes("all")}, excluded)

	got := 0
	for _, events := range clients {
		select {
		case recv := <-events.receives:
			if string(recv.payload) != "all" {
				t.Fatalf("unexpected payload %q", recv.payload)
			}
			got++
		case <-time.After(time.Second):
		}
	}
	if got != 2 {
		t.Fatalf("expected two receivers, got %d", got)
	}
}

func allConnected(peers []*Peer) bool {
	for _, peer := range peers {
		if !peer.Connected() {
			return false
		}
	}
	return true
}

func TestHostHandshakeTimeout(t *testing.T) {
	sink, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	conf := DefaultPeerConfig()
	conf.ConnectAttempts = 5
	conf.ConnectDelay = 100 * time.Millisecond

	client := newTestHost(t, testHostConfig(), nil)
	events := newTestPeerEvents()

	start := time.Now()
	if _, err := client.Connect(sink.LocalAddr().(*net.UDPAddr).AddrPort(), conf, events, nil); err != nil {
		t.Fatal(err)
	}

	if d := await(t, events.disconnects, "timeout"); d.reason != Timeout {
		t.Fatalf("expected Timeout, got %v", d.reason)
	}
	if elapsed := time.Since(start); elapsed < 450*time.Millisecond {
		t.Fatalf("timed out after %v", elapsed)
	}

	requests := 0
	buf := make([]byte, 1500)
	for {
		_ = sink.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := sink.ReadFromUDP(buf)
		if err != nil {
			break
		}
		if pt, _ := msgs.ParsePacketHeader(buf[0]); n > 0 && pt == msgs.PacketRequest {
			requests++
		}
	}
	if requests != 5 {
		t.Fatalf("expected five requests, got %d", requests)
	}
}

func TestHostCRC(t *testing.T) {
	exceptions := make(chan error, 4)
	unconnected := make(chan []byte, 4)

	host := newTestHost(t, testHostConfig(), &HostEvents{
		OnReceiveUnconnected: func(_ netip.AddrPort, reader *codec.Reader) {
			unconnected <- append([]byte(nil), reader.ReadRemaining()...)
		},
		OnException: func(_ netip.AddrPort, err error) { exceptions <- err },
	})

	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(host.Addr()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	payload := []byte("checked payload")
	w := codec.NewWriter(nil)
	w.WriteUint8(msgs.PacketHeader(msgs.PacketUnconnected, msgs.PacketVerified))
	w.WriteUint32(crc32.ChecksumIEEE(payload))
	w.WriteBytes(payload)
	packet := w.Bytes()

	corrupted := append([]byte(nil), packet...)
	corrupted[len(corrupted)-1] ^= 0x01

	if _, err := conn.Write(corrupted); err != nil {
		t.Fatal(err)
	}
	var formatErr *FormatError
	if err := await(t, exceptions, "CRC exception"); !errors.As(err, &formatErr) {
		t.Fatalf("expected a FormatError, got %v", err)
	}

	if _, err := conn.Write(packet); err != nil {
		t.Fatal(err)
	}
	if got := await(t, unconnected, "unconnected packet"); !bytes.Equal(got, payload) {
		t.Fatalf("unexpected payload %q", got)
	}
}

func TestHostResendExhausted(t *testing.T) {
	clientConf := DefaultPeerConfig()
	clientConf.ResendCount = 3
	clientConf.ResendDelayMin = 50 * time.Millisecond
	clientConf.ResendDelayMax = 50 * time.Millisecond
	clientConf.ConnectDelay = time.Minute

	pair := connectPair(t, testHostConfig(), clientConf, DefaultPeerConfig())
	if err := pair.server.Close(); err != nil {
		t.Fatal(err)
	}

	var sends atomic.Int32
	if _, err := pair.clientPeer.Send(Message{Channel: 1, Reliable: true, Payload: codec.Bytes("lost")},
		&MessageEvents{OnSend: func(*Peer, *MessageSent) { sends.Add(1) }}); err != nil {
		t.Fatal(err)
	}

	if d := await(t, pair.clientEvents.disconnects, "resend timeout"); d.reason != Timeout {
		t.Fatalf("expected Timeout, got %v", d.reason)
	}
	if n := sends.Load(); n != 3 {
		t.Fatalf("expected three sends, got %d", n)
	}
}

func TestHostSendUnconnected(t *testing.T) {
	type packet struct {
		remote  netip.AddrPort
		payload []byte
	}
	packets := make(chan packet, 1)

	server := newTestHost(t, testHostConfig(), &HostEvents{
		OnReceiveUnconnected: func(remote netip.AddrPort, reader *codec.Reader) {
			packets <- packet{remote, append([]byte(nil), reader.ReadRemaining()...)}
		},
	})
	client := newTestHost(t, testHostConfig(), nil)

	payload := bytes.Repeat([]byte{0xAB}, 600)
	if err := client.SendUnconnected(server.Addr(), codec.Bytes(payload)); err != nil {
		t.Fatal(err)
	}

	p := await(t, packets, "unconnected packet")
	if p.remote != client.Addr() || !bytes.Equal(p.payload, payload) {
		t.Fatalf("unexpected packet from %v", p.remote)
	}
	if client.Statistics().SocketSendCount.Load() != 1 || server.Statistics().SocketReceiveCount.Load() != 1 {
		t.Fatal("socket statistics were not counted")
	}
}

func TestHostBroadcastDisabled(t *testing.T) {
	conf := testHostConfig()
	conf.Broadcast = false
	host := newTestHost(t, conf, nil)

	if err := host.SendBroadcast(12345, nil); err != ErrBroadcastDisabled {
		t.Fatalf("expected ErrBroadcastDisabled, got %v", err)
	}
}

func TestIsLocal(t *testing.T) {
	host, err := NewHost(testHostConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	addr := host.Addr()

	if !IsLocal(addr) {
		t.Fatalf("%v is not local", addr)
	}
	if IsLocal(netip.AddrPortFrom(netip.MustParseAddr("192.0.2.1"), addr.Port())) {
		t.Fatal("non-loopback address is local")
	}

	_ = host.Close()
	if IsLocal(addr) {
		t.Fatalf("%v is still local after closing", addr)
	}
}

func TestHostSimulatorLoss(t *testing.T) {
	conf := testHostConfig()
	conf.Simulator = SimulatorConfig{Enabled: true, OutgoingLoss: 1}
	client := newTestHost(t, conf, nil)

	received := make(chan struct{}, 1)
	server := newTestHost(t, testHostConfig(), &HostEvents{
		OnReceiveUnconnected: func(netip.AddrPort, *codec.Reader) { received <- struct{}{} },
	})

	if err := client.SendUnconnected(server.Addr(), codec.Bytes("dropped")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-received:
		t.Fatal("packet passed a simulated loss of 100%")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHostCloseWhileReceiving(t *testing.T) {
	for _, ordered := range []bool{false, true} {
		ordered := ordered
		t.Run(map[bool]string{false: "unordered", true: "ordered"}[ordered], func(t *testing.T) {
			var closeOnce sync.Once
			closed := make(chan struct{})
			disconnects := make(chan DisconnectReason, 1)
			serverEvents := &PeerEvents{
				OnReceive: func(peer *Peer, _ *codec.Reader, _ MessageReceived) {
					peer.Close()
					closeOnce.Do(func() { close(closed) })
				},
				OnDisconnect: func(_ *Peer, _ *codec.Reader, reason DisconnectReason, _ error) {
					disconnects <- reason
				},
			}

			server := newTestHost(t, testHostConfig(), &HostEvents{
				OnReceiveRequest: func(request *ConnectionRequest, _ *codec.Reader) {
					if _, err := request.Accept(DefaultPeerConfig(), serverEvents); err != nil {
						t.Errorf("accepting failed: %v", err)
					}
				},
			})
			client := newTestHost(t, testHostConfig(), nil)

			clientEvents := newTestPeerEvents()
			peer, err := client.Connect(server.Addr(), DefaultPeerConfig(), clientEvents, nil)
			if err != nil {
				t.Fatal(err)
			}
			await(t, clientEvents.connects, "client connect")

			msg := Message{Channel: 1, Reliable: true, Ordered: ordered, Payload: codec.Bytes("close")}
			if _, err := peer.Send(msg, nil); err != nil {
				t.Fatal(err)
			}

			await(t, closed, "close from within the receive callback")
			if reason := await(t, disconnects, "server disconnect"); reason != Disposed {
				t.Fatalf("expected Disposed, got %v", reason)
			}
			if server.FindPeer(client.Addr()) != nil {
				t.Fatal("closed peer is still known to the server")
			}
		})
	}
}

func TestHostBadSignature(t *testing.T) {
	server := newTestHost(t, testHostConfig(), &HostEvents{
		OnReceiveRequest: func(request *ConnectionRequest, _ *codec.Reader) {
			if _, err := request.Accept(DefaultPeerConfig(), nil); err != nil {
				t.Errorf("accepting failed: %v", err)
			}
		},
	})
	client := newTestHost(t, testHostConfig(), nil)

	foreign, err := crypto.NewEd25519Authenticator()
	if err != nil {
		t.Fatal(err)
	}
	conf := DefaultPeerConfig()
	conf.RemotePublicKey = foreign.ExportPublicKey()

	events := newTestPeerEvents()
	peer, err := client.Connect(server.Addr(), conf, events, nil)
	if err != nil {
		t.Fatal(err)
	}

	d := await(t, events.disconnects, "disconnect")
	if d.reason != BadSignature {
		t.Fatalf("expected BadSignature, got %v (%v)", d.reason, d.err)
	}
	if peer.State() != StateDisposed || !peer.Disposed() {
		t.Fatalf("peer is %v instead of disposed", peer.State())
	}
	if client.FindPeer(server.Addr()) != nil {
		t.Fatal("peer with a bad signature is still known")
	}

	select {
	case <-events.connects:
		t.Fatal("peer with a bad signature was connected")
	default:
	}
}

func TestHostAcceptFailedCallback(t *testing.T) {
	type outcome struct {
		reason   DisconnectReason
		accepted bool
		rejectOk bool
	}
	outcomes := make(chan outcome, 1)
	acceptErrs := make(chan error, 1)

	hostConf := testHostConfig()
	hostConf.CRC32 = false
	hostConf.Compression = false

	host := newTestHost(t, hostConf, &HostEvents{
		OnReceiveRequest: func(request *ConnectionRequest, _ *codec.Reader) {
			_, err := request.Accept(DefaultPeerConfig(), &PeerEvents{
				OnDisconnect: func(_ *Peer, _ *codec.Reader, reason DisconnectReason, _ error) {
					outcomes <- outcome{
						reason:   reason,
						accepted: request.Accepted(),
						rejectOk: request.Reject(nil) == nil,
					}
				},
			})
			acceptErrs <- err
		},
	})

	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(host.Addr()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// A low order exchange key lets the key derivation fail.
	w := codec.NewWriter(nil)
	w.WriteUint8(msgs.PacketHeader(msgs.PacketRequest, 0))
	w.WriteWritable(msgs.Handshake{Key: make([]byte, crypto.X25519KeyLength)})
	if _, err := conn.Write(w.Bytes()); err != nil {
		t.Fatal(err)
	}

	o := await(t, outcomes, "disconnect from within Accept")
	if o.reason != Exception || o.accepted || o.rejectOk {
		t.Fatalf("unexpected outcome %+v", o)
	}
	if err := await(t, acceptErrs, "Accept's result"); err == nil {
		t.Fatal("accepting with a bad exchange key succeeded")
	}
}
