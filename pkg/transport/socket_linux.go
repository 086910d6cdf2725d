// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux

package transport

import (
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// socketControl sets the socket options of a HostConfig before binding.
func socketControl(conf HostConfig) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var opErr error

		err := c.Control(func(fd uintptr) {
			sock := int(fd)

			broadcast := 0
			if conf.Broadcast {
				broadcast = 1
			}
			if opErr = unix.SetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_BROADCAST, broadcast); opErr != nil {
				return
			}

			if network == "udp6" {
				if conf.TTL > 0 {
					opErr = unix.SetsockoptInt(sock, unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, conf.TTL)
					if opErr != nil {
						return
					}
				}

				if conf.DualMode {
					if opErr = unix.SetsockoptInt(sock, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); opErr != nil {
						return
					}
				}

				if conf.Broadcast {
					_ = unix.SetsockoptInt(sock, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_LOOP, 0)

					mreq := &unix.IPv6Mreq{Multiaddr: broadcastIPv6.As16()}
					if err := unix.SetsockoptIPv6Mreq(sock, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq); err != nil {
						log.WithFields(log.Fields{
							"address": address,
							"error":   err,
						}).Debug("Joining the IPv6 all nodes group failed")
					}
				}
			} else {
				if conf.TTL > 0 {
					if opErr = unix.SetsockoptInt(sock, unix.IPPROTO_IP, unix.IP_TTL, conf.TTL); opErr != nil {
						return
					}
				}

				// Don't fragment; oversized packets are split by the Peer.
				opErr = unix.SetsockoptInt(sock, unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO)
			}
		})
		if err != nil {
			return err
		}
		return opErr
	}
}
