// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"reflect"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"
)

// randomPort returns a random open TCP port.
func randomPort(t *testing.T) (port int) {
	if addr, err := net.ResolveTCPAddr("tcp", "localhost:0"); err != nil {
		t.Fatal(err)
	} else if l, err := net.ListenTCP("tcp", addr); err != nil {
		t.Fatal(err)
	} else {
		port = l.Addr().(*net.TCPAddr).Port
		_ = l.Close()
	}
	return
}

// isAddrReachable checks if a TCP address - like localhost:2342 - is reachable.
func isAddrReachable(addr string) (open bool) {
	if conn, err := net.DialTimeout("tcp", addr, time.Second); err != nil {
		open = false
	} else {
		open = true
		_ = conn.Close()
	}
	return
}

// startWebSocketAgent serves a new WebSocketAgent on a random port and returns its URL.
func startWebSocketAgent(t *testing.T) (*WebSocketAgent, string) {
	addr := fmt.Sprintf("localhost:%d", randomPort(t))
	ws := NewWebSocketAgent()

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/ws", ws.ServeHTTP)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: httpMux,
	}
	go func() { _ = httpServer.ListenAndServe() }()
	t.Cleanup(func() { _ = httpServer.Close() })

	// Let the WebSocketAgent start..
	time.Sleep(250 * time.Millisecond)

	for i := 1; i <= 3; i++ {
		if isAddrReachable(addr) {
			break
		} else if i == 3 {
			t.Fatal("WebSocketAgent seems to be unreachable")
		}
		time.Sleep(250 * time.Millisecond)
	}

	u := url.URL{
		Scheme: "ws",
		Host:   addr,
		Path:   "/ws",
	}
	return ws, u.String()
}

func writeWam(t *testing.T, conn *websocket.Conn, msg webAgentMessage) {
	if w, err := conn.NextWriter(websocket.BinaryMessage); err != nil {
		t.Fatal(err)
	} else if err := marshalCbor(msg, w); err != nil {
		t.Fatal(err)
	} else if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func readWam(t *testing.T, conn *websocket.Conn, code uint64) webAgentMessage {
	if mt, r, err := conn.NextReader(); err != nil {
		t.Fatal(err)
	} else if mt != websocket.BinaryMessage {
		t.Fatalf("expected message type %v, got %v", websocket.BinaryMessage, mt)
	} else if msg, err := unmarshalCbor(r); err != nil {
		t.Fatal(err)
	} else if msg.typeCode() != code {
		t.Fatalf("expected type code %d, got %d", code, msg.typeCode())
	} else {
		return msg
	}
	return nil
}

func TestWebAgentNew(t *testing.T) {
	log.SetLevel(log.DebugLevel)

	ws, apiUrl := startWebSocketAgent(t)

	// Connect dummy client
	wsClient, _, err := websocket.DefaultDialer.Dial(apiUrl, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Register client
	writeWam(t, wsClient, newRegisterMessage("192.0.2.1:2342"))

	// Check registration
	if msg := readWam(t, wsClient, wamStatusCode).(*wamStatus); msg.errorMsg != "" {
		t.Fatal(msg.errorMsg)
	}

	// Inform client about its peer
	pm := PeerMessage{Peer: netip.MustParseAddrPort("192.0.2.1:2342"), Connected: true}
	ws.MessageReceiver() <- pm

	if msg, err := readWam(t, wsClient, wamPeerCode).(*wamPeer).message(); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(msg, pm) {
		t.Fatalf("expected %v, got %v", pm, msg)
	}

	// Send packet to client
	p := createPacket("192.0.2.1:2342", "hello client")
	ws.MessageReceiver() <- p

	if pRecv := readWam(t, wsClient, wamPacketCode).(*wamPacket).p; !reflect.DeepEqual(p, pRecv) {
		t.Fatalf("expected %v, got %v", p, pRecv)
	}

	// Send packet from client without an address, which is filled in
	p = createPacket("192.0.2.1:2342", "hello server")
	pOut := p
	pOut.Peer = AnyPeer
	writeWam(t, wsClient, newPacketMessage(pOut))

	// Server checks received packet
	select {
	case msg := <-ws.MessageSender():
		if msg, ok := msg.(PacketMessage); !ok {
			t.Fatalf("Message is not a PacketMessage; %v", msg)
		} else if !reflect.DeepEqual(p, msg) {
			t.Fatalf("expected %v, got %v", p, msg)
		}

	case <-time.After(500 * time.Millisecond):
		t.Fatal("packet reception timed out")
	}

	// Shutdown WebSocketAgent with all its child processes
	ws.MessageReceiver() <- ShutdownMessage{}
}

func TestWebAgentIllegalPeer(t *testing.T) {
	log.SetLevel(log.DebugLevel)

	ws, apiUrl := startWebSocketAgent(t)

	wsClient, _, err := websocket.DefaultDialer.Dial(apiUrl, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Register client with an illegal peer address
	writeWam(t, wsClient, newRegisterMessage("uff"))

	if msg := readWam(t, wsClient, wamStatusCode).(*wamStatus); msg.errorMsg == "" {
		t.Fatal("Expected error due to illegal peer address")
	}

	// Shutdown WebSocketAgent
	ws.MessageReceiver() <- ShutdownMessage{}
}

func TestWebAgentConnector(t *testing.T) {
	ws, apiUrl := startWebSocketAgent(t)

	wac, err := NewWebSocketAgentConnector(apiUrl, "*")
	if err != nil {
		t.Fatal(err)
	}
	defer wac.Close()

	// Wait for the registration to be processed by the server's mux
	for i := 0; i < 20 && len(ws.Peers()) == 0; i++ {
		time.Sleep(50 * time.Millisecond)
	}
	if peers := ws.Peers(); !reflect.DeepEqual(peers, []netip.AddrPort{AnyPeer}) {
		t.Fatalf("expected wildcard registration, got %v", peers)
	} else if clients := ws.Clients(); clients != 1 {
		t.Fatalf("expected one client, got %d", clients)
	}

	p := createPacket("[2001:db8::1]:2342", "from a peer")
	ws.MessageReceiver() <- p

	if msg, err := wac.ReadMessage(); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(msg, p) {
		t.Fatalf("expected %v, got %v", p, msg)
	}

	p = createPacket("[2001:db8::2]:2342", "to a peer")
	if err := wac.WritePacket(p); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-ws.MessageSender():
		if !reflect.DeepEqual(msg, p) {
			t.Fatalf("expected %v, got %v", p, msg)
		}

	case <-time.After(500 * time.Millisecond):
		t.Fatal("packet reception timed out")
	}

	ws.MessageReceiver() <- ShutdownMessage{}
}

func TestWamPacketCbor(t *testing.T) {
	p := PacketMessage{
		Peer:    netip.MustParseAddrPort("192.0.2.1:2342"),
		Channel: 255,
		Unique:  true,
		Timed:   true,
		Payload: []byte{0x23, 0x42},
	}

	var buf bytes.Buffer
	if err := marshalCbor(newPacketMessage(p), &buf); err != nil {
		t.Fatal(err)
	}

	if msg, err := unmarshalCbor(&buf); err != nil {
		t.Fatal(err)
	} else if pRecv := msg.(*wamPacket).p; !reflect.DeepEqual(p, pRecv) {
		t.Fatalf("expected %v, got %v", p, pRecv)
	}
}
