// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"
)

type webAgentClient struct {
	sync.Mutex

	conn       *websocket.Conn
	peer       netip.AddrPort
	registered bool
	receiver   chan Message
	sender     chan Message

	shutdownOnce sync.Once
}

func newWebAgentClient(conn *websocket.Conn) *webAgentClient {
	return &webAgentClient{
		conn:     conn,
		receiver: make(chan Message),
		sender:   make(chan Message),
	}
}

func (client *webAgentClient) start() {
	go client.handleReceiver()
	client.handleConn()
}

func (client *webAgentClient) shutdown() {
	client.shutdownOnce.Do(func() {
		log.WithField("web agent client", client.conn.RemoteAddr().String()).Debug("Reached shutdown")

		close(client.sender)
		_ = client.conn.Close()
	})
}

func (client *webAgentClient) handleReceiver() {
	defer client.shutdown()

	var logger = log.WithField("web agent client", client.conn.RemoteAddr().String())

	for msg := range client.receiver {
		switch msg := msg.(type) {
		case ShutdownMessage:
			logger.Debug("Received Shutdown")
			return

		case PacketMessage:
			if err := client.writeMessage(newPacketMessage(msg)); err != nil {
				logger.WithError(err).Warn("Sending incoming packet errored")
				return
			} else {
				logger.WithField("packet", msg).Debug("Sent packet to client")
			}

		case PeerMessage:
			if err := client.writeMessage(newPeerMessage(msg)); err != nil {
				logger.WithError(err).Warn("Sending peer notification errored")
				return
			} else {
				logger.WithField("peer", msg.Peer).Info("Sent peer notification to client")
			}

		default:
			logger.WithField("message", msg).Info("Received unknown / unsupported message")
		}
	}
}

func (client *webAgentClient) handleConn() {
	defer client.shutdown()

	var logger = log.WithField("web agent client", client.conn.RemoteAddr().String())

	for {
		if messageType, reader, err := client.conn.NextReader(); err != nil {
			if netErr, ok := err.(*net.OpError); ok && netErr.Err.Error() == "use of closed network connection" {
				logger.WithError(err).Debug("Reader errored due to closed network connection")
			} else {
				logger.WithError(err).Warn("Opening next Websocket Reader errored")
			}
			return
		} else if messageType != websocket.BinaryMessage {
			logger.WithField("message type", messageType).Warn("Websocket Reader's type is not binary")
			return
		} else if msg, err := unmarshalCbor(reader); err != nil {
			logger.WithError(err).Warn("Unmarshal CBOR errored")
			return
		} else {
			var err error

			switch msg := msg.(type) {
			case *wamRegister:
				err := client.handleIncomingRegister(msg)
				if err = client.acknowledgeIncoming(err); err != nil {
					logger.WithError(err).Warn("Handling registration errored")
					return
				}

			case *wamPacket:
				var pkt PacketMessage
				if pkt, err = client.outgoingPacket(msg.p); err == nil {
					logger.WithField("packet", pkt).Debug("Received packet")
					client.sender <- pkt
				}

			default:
				logger.WithField("message", msg).Info("Received unknown / unsupported message")
			}

			if err != nil {
				logger.WithField("message", msg).WithError(err).Warn("Handling message errored")
				return
			}
		}
	}
}

func (client *webAgentClient) handleIncomingRegister(m *wamRegister) error {
	client.Lock()
	defer client.Unlock()

	var logger = log.WithFields(log.Fields{
		"web agent client": client.conn.RemoteAddr().String(),
		"message":          m,
	})

	if !client.registered {
		if peer, err := parsePeer(m.peer); err != nil {
			logger.WithError(err).Warn("Parsing peer address errored")
			return err
		} else {
			logger.WithField("peer", peer).Debug("Setting peer address")
			client.peer = peer
			client.registered = true
			return nil
		}
	} else {
		msg := "register errored, a peer address is already present"
		logger.Warn(msg)
		return errors.New(msg)
	}
}

// outgoingPacket checks a client's packet against its registration. Clients registered for a single peer might
// leave the packet's address empty.
func (client *webAgentClient) outgoingPacket(pkt PacketMessage) (PacketMessage, error) {
	client.Lock()
	defer client.Unlock()

	switch {
	case !client.registered:
		return pkt, errors.New("packet of an unregistered client")
	case client.peer == AnyPeer && pkt.Peer == AnyPeer:
		return pkt, errors.New("packet without a peer address")
	case client.peer == AnyPeer:
		return pkt, nil
	case pkt.Peer != AnyPeer && pkt.Peer != client.peer:
		return pkt, fmt.Errorf("packet for %v, but client is registered for %v", pkt.Peer, client.peer)
	default:
		pkt.Peer = client.peer
		return pkt, nil
	}
}

func (client *webAgentClient) acknowledgeIncoming(err error) error {
	if writeErr := client.writeMessage(newStatusMessage(err)); writeErr != nil {
		return writeErr
	} else {
		return err
	}
}

func (client *webAgentClient) writeMessage(msg webAgentMessage) error {
	client.Lock()
	defer client.Unlock()

	wc, wcErr := client.conn.NextWriter(websocket.BinaryMessage)
	if wcErr != nil {
		return wcErr
	}

	if cborErr := marshalCbor(msg, wc); cborErr != nil {
		return cborErr
	}

	return wc.Close()
}

func (client *webAgentClient) Peers() []netip.AddrPort {
	client.Lock()
	defer client.Unlock()

	if !client.registered {
		return nil
	} else {
		return []netip.AddrPort{client.peer}
	}
}

func (client *webAgentClient) MessageReceiver() chan Message {
	return client.receiver
}

func (client *webAgentClient) MessageSender() chan Message {
	return client.sender
}
