// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/binary"
	"net/netip"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rudp-go/pkg/agent"
)

// pingChannel is reserved for ping packets, which an EchoAgent returns unmodified.
const pingChannel = 254

// pinger manages to send ping packets and show their echoes.
type pinger struct {
	peer netip.AddrPort

	websocketConn *agent.WebSocketAgentConnector

	closeChan chan os.Signal
}

// pingPacket creates a ping packet, carrying its creation time.
func (p *pinger) pingPacket() agent.PacketMessage {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, uint64(time.Now().UnixNano()))

	return agent.PacketMessage{
		Peer:     p.peer,
		Channel:  pingChannel,
		Reliable: true,
		Payload:  payload,
	}
}

// handle a pinger's task.
func (p *pinger) handle() {
	ticker := time.NewTicker(time.Second)

	defer p.websocketConn.Close()
	defer ticker.Stop()

	for {
		select {
		case <-p.closeChan:
			return

		case <-ticker.C:
			if err := p.websocketConn.WritePacket(p.pingPacket()); err != nil {
				log.WithError(err).Error("Cannot send ping packet")
			} else {
				log.Debug("Sent ping packet")
			}

		case msg, ok := <-p.websocketConn.Messages():
			if !ok {
				log.Error("WebSocket message channel was closed")
				return
			}

			pm, isPacket := msg.(agent.PacketMessage)
			if !isPacket || pm.Channel != pingChannel || len(pm.Payload) != 8 {
				log.WithField("message", msg).Info("Received message")
				continue
			}

			sent := time.Unix(0, int64(binary.BigEndian.Uint64(pm.Payload)))
			log.WithFields(log.Fields{
				"peer": pm.Peer,
				"rtt":  time.Since(sent),
			}).Info("Received ping echo")
		}
	}
}

// ping another host through a rudpd, whose counterpart echoes the packets.
func ping(args []string) {
	if len(args) != 2 {
		printUsage()
	}

	peer, err := netip.ParseAddrPort(args[1])
	if err != nil {
		printFatal(err, "Parsing peer errored")
	}

	p := pinger{
		peer:      peer,
		closeChan: make(chan os.Signal, 1),
	}

	if p.websocketConn, err = agent.NewWebSocketAgentConnector(args[0], args[1]); err != nil {
		printFatal(err, "Starting WebSocketAgentConnector errored")
	}

	signal.Notify(p.closeChan, os.Interrupt)

	p.handle()
}
