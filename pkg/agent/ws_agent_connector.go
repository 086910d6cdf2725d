// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"fmt"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// WebSocketAgentConnector is the client side version of the WebSocketAgent.
type WebSocketAgentConnector struct {
	conn *websocket.Conn

	msgOutChan chan webAgentMessage
	msgOutErr  chan error

	msgInChan chan Message

	closeSyn chan struct{}
	closeAck chan struct{}
}

// NewWebSocketAgentConnector creates a new WebSocketAgentConnector connection to a WebSocketAgent, registered for
// the peer address or "*" for all peers.
func NewWebSocketAgentConnector(apiUrl, peer string) (wac *WebSocketAgentConnector, err error) {
	var conn *websocket.Conn
	if conn, _, err = websocket.DefaultDialer.Dial(apiUrl, nil); err != nil {
		return
	}

	wac = &WebSocketAgentConnector{
		conn: conn,

		msgOutChan: make(chan webAgentMessage),
		msgOutErr:  make(chan error),

		msgInChan: make(chan Message),

		closeSyn: make(chan struct{}),
		closeAck: make(chan struct{}),
	}

	if err = wac.registerPeer(peer); err != nil {
		_ = conn.Close()
		wac = nil
		return
	}

	go wac.handler()
	go wac.handleReader()

	return
}

func (wac *WebSocketAgentConnector) writeMessage(msg webAgentMessage) error {
	wc, wcErr := wac.conn.NextWriter(websocket.BinaryMessage)
	if wcErr != nil {
		return wcErr
	}

	if cborErr := marshalCbor(msg, wc); cborErr != nil {
		return cborErr
	}

	return wc.Close()
}

func (wac *WebSocketAgentConnector) readMessage() (msg webAgentMessage, err error) {
	if mt, r, rErr := wac.conn.NextReader(); rErr != nil {
		err = rErr
		return
	} else if mt != websocket.BinaryMessage {
		err = fmt.Errorf("expected binary message, got %d", mt)
		return
	} else {
		msg, err = unmarshalCbor(r)
		return
	}
}

func (wac *WebSocketAgentConnector) registerPeer(peer string) error {
	if err := wac.writeMessage(newRegisterMessage(peer)); err != nil {
		return err
	}

	if msg, err := wac.readMessage(); err != nil {
		return err
	} else if status, ok := msg.(*wamStatus); !ok {
		return fmt.Errorf("expected wamStatus, got %T", msg)
	} else if status.errorMsg != "" {
		return fmt.Errorf("received non-empty error message: %s", status.errorMsg)
	} else {
		return nil
	}
}

func (wac *WebSocketAgentConnector) handleReader() {
	defer close(wac.msgInChan)

	for {
		if msg, err := wac.readMessage(); err != nil {
			return
		} else {
			switch msg := msg.(type) {
			case *wamPacket:
				wac.msgInChan <- msg.p

			case *wamPeer:
				if pm, err := msg.message(); err != nil {
					log.WithError(err).Warn("WebSocketAgentConnector received an invalid peer notification")
				} else {
					wac.msgInChan <- pm
				}

			default:
				log.WithField("message", msg).Debug("WebSocketAgentConnector received an unsupported message")
			}
		}
	}
}

func (wac *WebSocketAgentConnector) handler() {
	defer func() {
		close(wac.closeAck)

		close(wac.msgOutChan)
		close(wac.msgOutErr)

		_ = wac.conn.Close()
	}()

	for {
		select {
		case <-wac.closeSyn:
			return

		case msg := <-wac.msgOutChan:
			wac.msgOutErr <- wac.writeMessage(msg)
		}
	}
}

// WritePacket sends a packet to the server, which forwards it to its peer.
func (wac *WebSocketAgentConnector) WritePacket(p PacketMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	wac.msgOutChan <- newPacketMessage(p)
	return <-wac.msgOutErr
}

// ReadMessage returns the next incoming PacketMessage or PeerMessage. This method blocks.
func (wac *WebSocketAgentConnector) ReadMessage() (Message, error) {
	msg, ok := <-wac.msgInChan
	if !ok {
		return nil, fmt.Errorf("connection closed")
	}
	return msg, nil
}

// Messages is the channel of all incoming Messages, closed together with the connection.
func (wac *WebSocketAgentConnector) Messages() <-chan Message {
	return wac.msgInChan
}

// Close this WebSocketAgentConnector.
func (wac *WebSocketAgentConnector) Close() {
	defer func() {
		// channel is already closed
		_ = recover()
	}()

	close(wac.closeSyn)
	<-wac.closeAck
}
