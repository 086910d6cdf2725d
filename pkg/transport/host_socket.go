// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
)

var (
	broadcastIPv4 = netip.MustParseAddr("255.255.255.255")
	broadcastIPv6 = netip.MustParseAddr("ff02::1")
)

// listen binds the UDP socket described by the HostConfig.
func listen(ctx context.Context, conf HostConfig) (*net.UDPConn, error) {
	network, address := "udp4", "0.0.0.0"
	if conf.DualMode {
		network, address = "udp", "::"
	}
	if conf.BindAddress.IsValid() {
		address = conf.BindAddress.Unmap().String()
		if conf.BindAddress.Unmap().Is6() && !conf.DualMode {
			network = "udp6"
		} else if conf.BindAddress.Unmap().Is4() {
			network = "udp4"
		}
	}

	lc := net.ListenConfig{Control: socketControl(conf)}
	pc, err := lc.ListenPacket(ctx, network, net.JoinHostPort(address, strconv.Itoa(conf.Port)))
	if err != nil {
		return nil, &SocketError{Op: "listen", Cause: err}
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, &SocketError{Op: "listen", Cause: fmt.Errorf("unexpected connection type %T", pc)}
	}

	if conf.ReceiveBufferSize > 0 {
		if err := conn.SetReadBuffer(conf.ReceiveBufferSize); err != nil {
			_ = conn.Close()
			return nil, &SocketError{Op: "set receive buffer", Cause: err}
		}
	}
	if conf.SendBufferSize > 0 {
		if err := conn.SetWriteBuffer(conf.SendBufferSize); err != nil {
			_ = conn.Close()
			return nil, &SocketError{Op: "set send buffer", Cause: err}
		}
	}

	return conn, nil
}

// normalize strips the IPv4-mapped IPv6 prefix, so that every remote has exactly one address.
func normalize(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

// localPorts counts the ports bound by Hosts in this process.
var localPorts = struct {
	sync.Mutex
	ports map[uint16]int
}{ports: make(map[uint16]int)}

func registerPort(port uint16) {
	localPorts.Lock()
	defer localPorts.Unlock()

	localPorts.ports[port]++
}

func unregisterPort(port uint16) {
	localPorts.Lock()
	defer localPorts.Unlock()

	if localPorts.ports[port] <= 1 {
		delete(localPorts.ports, port)
	} else {
		localPorts.ports[port]--
	}
}

// IsLocal reports if the address is a loopback address whose port is bound by a Host of this process.
func IsLocal(addr netip.AddrPort) bool {
	if !addr.Addr().Unmap().IsLoopback() {
		return false
	}

	localPorts.Lock()
	defer localPorts.Unlock()

	return localPorts.ports[addr.Port()] > 0
}
