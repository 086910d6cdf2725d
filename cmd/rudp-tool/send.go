// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"net/netip"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rudp-go/pkg/codec"
	"github.com/dtn7/rudp-go/pkg/transport"
)

// sender transmits a single message through an ephemeral Host.
type sender struct {
	host *transport.Host
	peer *transport.Peer

	connected    chan struct{}
	disconnected chan error
	acknowledged chan struct{}
}

func newSender() (s *sender, err error) {
	s = &sender{
		connected:    make(chan struct{}, 1),
		disconnected: make(chan error, 1),
		acknowledged: make(chan struct{}, 1),
	}

	conf := transport.DefaultHostConfig()
	conf.Broadcast = false

	if s.host, err = transport.NewHost(conf, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// transmit the payload to the remote Host, waiting for its acknowledgement.
func (s *sender) transmit(ctx context.Context, remote netip.AddrPort, publicKey string, payload []byte) error {
	peerConf := transport.DefaultPeerConfig()
	peerConf.RemotePublicKey = publicKey

	events := &transport.PeerEvents{
		OnConnect: func(_ *transport.Peer) {
			s.connected <- struct{}{}
		},
		OnDisconnect: func(_ *transport.Peer, _ *codec.Reader, reason transport.DisconnectReason, err error) {
			s.disconnected <- &transport.DisconnectError{Reason: reason, Cause: err}
		},
	}

	var err error
	if s.peer, err = s.host.Connect(remote, peerConf, events, nil); err != nil {
		return err
	}

	select {
	case <-s.connected:
		log.WithField("peer", remote).Info("Connected")
	case err := <-s.disconnected:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	msg := transport.Message{
		Channel:  1,
		Reliable: true,
		Ordered:  true,
		Payload:  codec.Bytes(payload),
	}
	listener := &transport.MessageEvents{
		OnAcknowledge: func(_ *transport.Peer, _ *transport.MessageSent) {
			s.acknowledged <- struct{}{}
		},
	}
	if _, err := s.peer.Send(msg, listener); err != nil {
		return err
	}

	select {
	case <-s.acknowledged:
		log.WithFields(log.Fields{
			"peer":  remote,
			"bytes": len(payload),
			"rtt":   s.peer.RTT(),
		}).Info("Message was acknowledged")
	case err := <-s.disconnected:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.peer.Disconnect(ctx, nil)
}

func (s *sender) close() {
	_ = s.host.Close()
}

// send a file or the stdin as a single message.
func send(args []string) {
	if len(args) != 2 && len(args) != 3 {
		printUsage()
	}

	remote, err := netip.ParseAddrPort(args[0])
	if err != nil {
		printFatal(err, "Parsing address errored")
	}

	payload, err := readInput(args[1])
	if err != nil {
		printFatal(err, "Reading input errored")
	}

	var publicKey string
	if len(args) == 3 {
		publicKey = args[2]
	}

	s, err := newSender()
	if err != nil {
		printFatal(err, "Starting host errored")
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.transmit(ctx, remote, publicKey, payload); err != nil {
		s.close()
		printFatal(err, "Sending message errored")
	}
}
