// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dtn7/rudp-go/pkg/codec"
	"github.com/dtn7/rudp-go/pkg/transport/internal/msgs"
)

func orderedInfo(seq uint16, reliable bool) MessageReceived {
	flags := msgs.MessageOrdered | msgs.MessageSequenced | msgs.MessageChanneled
	if reliable {
		flags |= msgs.MessageReliable
	}

	return MessageReceived{
		Channel:  1,
		Sequence: seq,
		header: msgs.MessageHeader{
			Type:     msgs.MessageCustom,
			Flags:    flags,
			Sequence: seq,
			Channel:  1,
		},
	}
}

func TestPeerAcknowledgeIdempotent(t *testing.T) {
	var acks atomic.Int32
	peer := newTestPeer(t, DefaultPeerConfig(), nil)

	msg := newMessageSent(&MessageEvents{OnAcknowledge: func(*Peer, *MessageSent) { acks.Add(1) }}, nil,
		msgs.MessageCustom, msgs.MessageReliable|msgs.MessageSequenced|msgs.MessageChanneled,
		3, 42, peer.host.Now(), 0)
	peer.reliables[reliableKey{channel: 3, sequence: 42}] = msg

	header := msgs.MessageHeader{
		Type:     msgs.MessageAcknowledge,
		Flags:    msgs.MessageTimed | msgs.MessageSequenced | msgs.MessageChanneled,
		Sequence: 42,
		Channel:  3,
	}
	for i := 0; i < 2; i++ {
		peer.receiveAcknowledge(header, []byte{0}, 0, true, peer.host.Ticks())
	}

	if n := acks.Load(); n != 1 {
		t.Fatalf("expected one acknowledgement, got %d", n)
	}
	if !msg.Stopped() {
		t.Fatal("resending was not stopped")
	}
	if len(peer.reliables) != 0 {
		t.Fatalf("reliable messages left: %v", peer.reliables)
	}
}

func TestPeerAcknowledgePingUpdatesRTT(t *testing.T) {
	rtts := make(chan uint16, 1)
	peer := newTestPeer(t, DefaultPeerConfig(), &PeerEvents{
		OnUpdateRTT: func(_ *Peer, rtt uint16) { rtts <- rtt },
	})

	sentAt := peer.host.Now()
	ping := newMessageSent(nil, nil, msgs.MessagePing,
		msgs.MessageTimed|msgs.MessageSequenced|msgs.MessageReliable, 0, 7, sentAt, 0)
	ping.onSend(peer, 0, sentAt)
	peer.reliables[reliableKey{channel: 0, sequence: 7}] = ping

	// The remote took 10 ticks between receiving the ping and sending its acknowledgement.
	header := msgs.MessageHeader{
		Type:     msgs.MessageAcknowledge,
		Flags:    msgs.MessageTimed | msgs.MessageSequenced | msgs.MessageChanneled,
		Ticks:    1000,
		Sequence: 7,
	}
	peer.receiveAcknowledge(header, []byte{0}, 1010, true, peer.host.ticksOf(sentAt)+50)

	if rtt := await(t, rtts, "RTT update"); rtt != 40 {
		t.Fatalf("expected RTT 40, got %d", rtt)
	}
	if rtt := peer.RTT(); rtt != 40 {
		t.Fatalf("expected peer RTT 40, got %d", rtt)
	}
}

func TestPeerOrderedInOrder(t *testing.T) {
	delivered := make(chan uint16, 8)
	conf := DefaultPeerConfig()
	peer := newTestPeer(t, conf, &PeerEvents{
		OnReceive: func(_ *Peer, _ *codec.Reader, info MessageReceived) { delivered <- info.Sequence },
	})

	for seq := uint16(1); seq <= 3; seq++ {
		if err := peer.receiveOrdered(nil, orderedInfo(seq, true)); err != nil {
			t.Fatal(err)
		}
		if got := await(t, delivered, "delivery"); got != seq {
			t.Fatalf("expected %d, got %d", seq, got)
		}
	}
}

func TestPeerOrderedDelayMax(t *testing.T) {
	delivered := make(chan uint16, 8)
	conf := DefaultPeerConfig()
	conf.OrderedDelayMax = 2
	conf.OrderedDelayTimeout = time.Minute
	peer := newTestPeer(t, conf, &PeerEvents{
		OnReceive: func(_ *Peer, _ *codec.Reader, info MessageReceived) { delivered <- info.Sequence },
	})

	waitForSignal := func() {
		deadline := time.Now().Add(testTimeout)
		for time.Now().Before(deadline) {
			peer.orderedMutex.Lock()
			signal := peer.orderedSignal[1]
			peer.orderedMutex.Unlock()

			if signal != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
		t.Fatal("delayed message did not wait again")
	}

	if err := peer.receiveOrdered(nil, orderedInfo(5, true)); err != nil {
		t.Fatal(err)
	}
	select {
	case seq := <-delivered:
		t.Fatalf("message %d was delivered too early", seq)
	case <-time.After(50 * time.Millisecond):
	}

	for _, seq := range []uint16{1, 2} {
		if err := peer.receiveOrdered(nil, orderedInfo(seq, true)); err != nil {
			t.Fatal(err)
		}
		if got := await(t, delivered, "in order delivery"); got != seq {
			t.Fatalf("expected %d, got %d", seq, got)
		}
		if seq == 1 {
			waitForSignal()
		}
	}

	// The second re-check exhausts OrderedDelayMax, long before the timeout.
	if got := await(t, delivered, "delayed delivery"); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestPeerOrderedDelayTimeout(t *testing.T) {
	delivered := make(chan uint16, 8)
	conf := DefaultPeerConfig()
	conf.OrderedDelayMax = 8
	conf.OrderedDelayTimeout = 100 * time.Millisecond
	peer := newTestPeer(t, conf, &PeerEvents{
		OnReceive: func(_ *Peer, _ *codec.Reader, info MessageReceived) { delivered <- info.Sequence },
	})

	start := time.Now()
	if err := peer.receiveOrdered(nil, orderedInfo(5, true)); err != nil {
		t.Fatal(err)
	}
	if got := await(t, delivered, "delayed delivery"); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("delivered after %v, before the timeout", elapsed)
	}

	// Late reliable messages are delivered anyway, late unreliable ones are dropped.
	if err := peer.receiveOrdered(nil, orderedInfo(4, true)); err != nil {
		t.Fatal(err)
	}
	if got := await(t, delivered, "late delivery"); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}

	if err := peer.receiveOrdered(nil, orderedInfo(3, false)); err != nil {
		t.Fatal(err)
	}
	select {
	case seq := <-delivered:
		t.Fatalf("late unreliable message %d was delivered", seq)
	case <-time.After(50 * time.Millisecond):
	}

	// An unreliable message ahead skips the missing ones.
	if err := peer.receiveOrdered(nil, orderedInfo(9, false)); err != nil {
		t.Fatal(err)
	}
	if got := await(t, delivered, "unreliable delivery"); got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}
}

func TestPeerOrderedWithoutSequence(t *testing.T) {
	peer := newTestPeer(t, DefaultPeerConfig(), nil)

	info := orderedInfo(1, true)
	info.header.Flags &^= msgs.MessageSequenced

	if err := peer.receiveOrdered(nil, info); err == nil {
		t.Fatal("ordered message without sequence was accepted")
	}
}

func TestPeerResendDelay(t *testing.T) {
	conf := DefaultPeerConfig()
	peer := newTestPeer(t, conf, nil)

	if d := peer.resendDelay(); d != conf.ResendDelayMax {
		t.Fatalf("expected %v without RTT, got %v", conf.ResendDelayMax, d)
	}

	tests := []struct {
		rtt      int64
		expected time.Duration
	}{
		{10, conf.ResendDelayMin},
		{100, 140 * time.Millisecond},
		{2000, conf.ResendDelayMax},
	}
	for _, test := range tests {
		peer.timing.update(peer.host.Ticks(), 0, test.rtt)
		if d := peer.resendDelay(); d != test.expected {
			t.Fatalf("RTT %d: expected %v, got %v", test.rtt, test.expected, d)
		}
	}
}

func TestPeerDisposeOnce(t *testing.T) {
	var disconnects atomic.Int32
	peer := newTestPeer(t, DefaultPeerConfig(), &PeerEvents{
		OnDisconnect: func(*Peer, *codec.Reader, DisconnectReason, error) { disconnects.Add(1) },
	})

	peer.disconnect(nil, Timeout, nil)
	peer.Close()

	if n := disconnects.Load(); n != 1 {
		t.Fatalf("expected one disconnect, got %d", n)
	}
	if !peer.Disposed() {
		t.Fatal("peer is not disposed")
	}
	if err, ok := peer.Err().(*DisconnectError); !ok || err.Reason != Timeout {
		t.Fatalf("unexpected error %v", peer.Err())
	}
	if _, err := peer.Send(Message{}, nil); err != ErrDisposed {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	if _, err := peer.wait(time.Minute, nil); err != ErrDisposed {
		t.Fatalf("expected ErrDisposed while waiting, got %v", err)
	}
}

func TestPeerUnique(t *testing.T) {
	unique := msgs.MessageHeader{
		Type:     msgs.MessageCustom,
		Flags:    msgs.MessageUnique | msgs.MessageSequenced | msgs.MessageChanneled,
		Sequence: 5,
		Channel:  1,
	}
	ack := msgs.MessageHeader{
		Type:     msgs.MessageAcknowledge,
		Flags:    msgs.MessageUnique | msgs.MessageSequenced | msgs.MessageChanneled,
		Sequence: 5,
		Channel:  1,
	}
	unsequenced := msgs.MessageHeader{
		Type:    msgs.MessageCustom,
		Flags:   msgs.MessageUnique | msgs.MessageChanneled,
		Channel: 1,
	}

	tests := []struct {
		name             string
		duplicateTimeout time.Duration
		header           msgs.MessageHeader
		formatError      bool
		delivered        int32
		duplicated       int64
		acks             int64
	}{
		{"duplicate", 2 * time.Second, unique, false, 1, 1, 0},
		{"check disabled", 0, unique, false, 2, 0, 0},
		{"acknowledgements exempt", 2 * time.Second, ack, false, 0, 0, 2},
		{"without sequence", 2 * time.Second, unsequenced, true, 0, 0, 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var delivered atomic.Int32
			conf := DefaultPeerConfig()
			conf.DuplicateTimeout = test.duplicateTimeout
			peer := newTestPeer(t, conf, &PeerEvents{
				OnReceive: func(*Peer, *codec.Reader, MessageReceived) { delivered.Add(1) },
			})

			w := codec.NewWriter(nil)
			w.WriteWritable(test.header)
			w.WriteBytes([]byte("payload"))
			message := w.Bytes()

			for i := 0; i < 2; i++ {
				err := peer.receiveConnected(message, 0, false)

				var formatErr *FormatError
				if test.formatError && !errors.As(err, &formatErr) {
					t.Fatalf("expected a FormatError, got %v", err)
				} else if !test.formatError && err != nil {
					t.Fatal(err)
				}
			}

			stats := peer.Statistics()
			if n := delivered.Load(); n != test.delivered {
				t.Fatalf("expected %d deliveries, got %d", test.delivered, n)
			}
			if n := stats.MessageReceiveDuplicated.Load(); n != test.duplicated {
				t.Fatalf("expected %d duplicates, got %d", test.duplicated, n)
			}
			if n := stats.MessageReceiveAcknowledge.Load(); n != test.acks {
				t.Fatalf("expected %d acknowledgements, got %d", test.acks, n)
			}
		})
	}
}
