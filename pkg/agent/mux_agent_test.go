// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"net/netip"
	"reflect"
	"testing"
	"time"
)

func TestMuxAgent(t *testing.T) {
	p1 := createPacket("192.0.2.1:2342", "hello world")

	mux := NewMuxAgent()

	mock1 := newMockAgent([]netip.AddrPort{netip.MustParseAddrPort("192.0.2.1:2342")})
	mock2 := newMockAgent([]netip.AddrPort{netip.MustParseAddrPort("192.0.2.2:2342")})

	mux.Register(mock1)
	mux.Register(mock2)

	if peers := mux.Peers(); len(peers) != 2 {
		t.Fatalf("expected two peers, got %v", peers)
	}

	mux.MessageReceiver() <- p1
	time.Sleep(500 * time.Millisecond)

	for i, mock := range []*mockAgent{mock1, mock2} {
		if msgs := mock.inbox(); len(msgs) != 1-i {
			t.Fatalf("mock agent%d did not receied %d messages; msgs := %v", i+1, 1-i, msgs)
		} else if 1-i > 0 && !reflect.DeepEqual(msgs[0], p1) {
			t.Fatalf("message is not p1; %v %v", msgs[0], p1)
		}
	}

	mock1.MessageSender() <- ShutdownMessage{}
	time.Sleep(500 * time.Millisecond)

	select {
	case msg := <-mux.MessageSender():
		t.Fatalf("Mux forwarded shutdown message %v", msg)

	case <-time.After(250 * time.Millisecond):
		break
	}

	p1.Peer = netip.MustParseAddrPort("192.0.2.2:2342")
	mux.MessageReceiver() <- p1
	time.Sleep(500 * time.Millisecond)

	if msgs := mock1.inbox(); len(msgs) != 0 {
		t.Fatalf("shutdowned mock agent1 received messages %v", msgs)
	}

	if msgs := mock2.inbox(); len(msgs) != 1 {
		t.Fatalf("mock agent2 did not receied messages; msgs := %v", msgs)
	} else if !reflect.DeepEqual(msgs[0], p1) {
		t.Fatalf("message is not p1; %v %v", msgs[0], p1)
	}

	mock2.send(p1)
	time.Sleep(500 * time.Millisecond)

	select {
	case msg := <-mux.MessageSender():
		if msg, ok := msg.(PacketMessage); !ok {
			t.Fatal("Message is no packet message")
		} else if !reflect.DeepEqual(msg, p1) {
			t.Fatalf("Expected %v, got %v", p1, msg)
		}

	case <-time.After(250 * time.Millisecond):
		t.Fatal("Mux did not received message")
	}

	mux.MessageReceiver() <- ShutdownMessage{}
	time.Sleep(500 * time.Millisecond)

	if msgs := mock2.inbox(); len(msgs) != 1 {
		t.Fatalf("mock agent did not received one message; msgs := %v", msgs)
	} else if !reflect.DeepEqual(msgs[0], ShutdownMessage{}) {
		t.Fatalf("expected %v, got %v", ShutdownMessage{}, msgs[0])
	}
}

func TestMuxAgentChannels(t *testing.T) {
	peer := netip.MustParseAddrPort("192.0.2.1:2342")

	mux := NewMuxAgent()
	echo := NewEcho(peer).OnChannels(7)
	mux.Register(echo)

	if mux.Children() != 1 {
		t.Fatalf("expected one child, got %d", mux.Children())
	}

	foreign := PacketMessage{Peer: peer, Channel: 8, Payload: []byte("nope")}
	if mux.Accepts(foreign) {
		t.Fatal("mux accepts a packet on a foreign channel")
	}

	pkt := PacketMessage{Peer: peer, Channel: 7, Payload: []byte("hello")}
	if !mux.Accepts(pkt) {
		t.Fatal("mux rejects a packet on a subscribed channel")
	}

	mux.MessageReceiver() <- foreign
	mux.MessageReceiver() <- pkt

	select {
	case msg := <-mux.MessageSender():
		if !reflect.DeepEqual(msg, pkt) {
			t.Fatalf("expected %v, got %v", pkt, msg)
		}
	case <-time.After(time.Second):
		t.Fatal("echo was not forwarded")
	}

	select {
	case msg := <-mux.MessageSender():
		t.Fatalf("unexpected message %v", msg)
	case <-time.After(250 * time.Millisecond):
	}

	mux.MessageReceiver() <- ShutdownMessage{}
}
