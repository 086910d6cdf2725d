// SPDX-FileCopyrightText: 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"net/http"
	"net/netip"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"
)

// wsReadLimit bounds a single incoming WebSocket message.
const wsReadLimit = 1 << 24

// WebSocketAgent is a WebSocket based ApplicationAgent. It can be used together with the WebSocketAgentConnector to
// exchange packets with the peers of a rudpd.
//
// Each WebSocket connection becomes a client registered at an internal MuxAgent. A client registers itself for one
// peer or for AnyPeer and receives that peer's packets and connection notifications.
type WebSocketAgent struct {
	receiver  chan Message
	clientMux *MuxAgent
	clients   atomic.Int32

	upgrader websocket.Upgrader
}

// NewWebSocketAgent will be started with its handler. The ServeHTTP function must be bound to the HTTP server.
func NewWebSocketAgent() (wa *WebSocketAgent) {
	wa = &WebSocketAgent{
		receiver:  make(chan Message),
		clientMux: NewMuxAgent(),

		upgrader: websocket.Upgrader{
			// Clients are local tools, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	go wa.handler()

	return
}

func (w *WebSocketAgent) handler() {
	for msg := range w.receiver {
		if pkt, ok := msg.(PacketMessage); ok && !w.clientMux.Accepts(pkt) {
			log.WithField("packet", pkt).Debug("WebSocketAgent has no client for this packet")
			continue
		}

		w.clientMux.MessageReceiver() <- msg

		if _, isShutdown := msg.(ShutdownMessage); isShutdown {
			log.WithField("clients", w.Clients()).Info("WebSocketAgent received a shutdown")
			return
		}
	}
}

// ServeHTTP must be bound to a HTTP endpoint, e.g., to /ws by a http.ServeMux. It blocks until the client leaves.
func (w *WebSocketAgent) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, connErr := w.upgrader.Upgrade(rw, r, nil)
	if connErr != nil {
		log.WithError(connErr).WithField("remote", r.RemoteAddr).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}
	conn.SetReadLimit(wsReadLimit)

	w.clients.Add(1)
	defer w.clients.Add(-1)

	client := newWebAgentClient(conn)
	w.clientMux.Register(client)

	log.WithField("remote", r.RemoteAddr).Debug("WebSocketAgent registered a new client")
	client.start()
}

// Clients is the number of currently connected WebSocket clients.
func (w *WebSocketAgent) Clients() int {
	return int(w.clients.Load())
}

// Peers of all currently connected clients.
func (w *WebSocketAgent) Peers() []netip.AddrPort {
	return w.clientMux.Peers()
}

// MessageReceiver is a channel on which the ApplicationAgent must listen for incoming Messages.
func (w *WebSocketAgent) MessageReceiver() chan Message {
	return w.receiver
}

// MessageSender is a channel to which the ApplicationAgent can send outgoing Messages.
func (w *WebSocketAgent) MessageSender() chan Message {
	return w.clientMux.MessageSender()
}
