// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"net/netip"
	"testing"
	"time"
)

const testTimeout = 5 * time.Second

func testHostConfig() HostConfig {
	conf := DefaultHostConfig()
	conf.BindAddress = netip.MustParseAddr("127.0.0.1")
	return conf
}

func newTestHost(t *testing.T, conf HostConfig, listener HostListener) *Host {
	t.Helper()

	host, err := NewHost(conf, listener)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = host.Close() })

	return host
}

// newTestPeer creates a Peer without any traffic, for testing its message handling.
func newTestPeer(t *testing.T, conf PeerConfig, listener PeerListener) *Peer {
	t.Helper()

	host := newTestHost(t, testHostConfig(), nil)
	peer, err := newPeer(host, netip.MustParseAddrPort("127.0.0.1:9"), conf, listener)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(peer.Close)

	return peer
}

// await a channel's value or fail after testTimeout.
func await[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatalf("timeout while waiting for %s", what)
		var zero T
		return zero
	}
}
