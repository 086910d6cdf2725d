// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rudp-go/pkg/agent"
)

// RestAPI offers a Node's peers, statistics and peer book as JSON and allows connecting and disconnecting peers.
type RestAPI struct {
	router *mux.Router
	node   *Node

	// DisconnectTimeout for a graceful disconnect requested by POST /disconnect.
	DisconnectTimeout time.Duration
}

// NewRestAPI binds the REST endpoints of a Node to the router.
func NewRestAPI(router *mux.Router, node *Node) (ra *RestAPI) {
	ra = &RestAPI{
		router: router,
		node:   node,

		DisconnectTimeout: 5 * time.Second,
	}

	ra.router.HandleFunc("/peers", ra.handlePeers).Methods(http.MethodGet)
	ra.router.HandleFunc("/stats", ra.handleStats).Methods(http.MethodGet)
	ra.router.HandleFunc("/known", ra.handleKnown).Methods(http.MethodGet)
	ra.router.HandleFunc("/connect", ra.handleConnect).Methods(http.MethodPost)
	ra.router.HandleFunc("/disconnect", ra.handleDisconnect).Methods(http.MethodPost)

	return ra
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint.
func (ra *RestAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ra.router.ServeHTTP(w, r)
}

func (ra *RestAPI) writeJson(w http.ResponseWriter, v interface{}, what string) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).WithField("endpoint", what).Warn("Failed to write REST response")
	}
}

// handlePeers processes /peers GET requests.
func (ra *RestAPI) handlePeers(w http.ResponseWriter, _ *http.Request) {
	peers := []agent.RestPeer{}

	for _, peer := range ra.node.Host().Peers() {
		stats := peer.Statistics()
		_, timeDelta := peer.TimeDelta()

		peers = append(peers, agent.RestPeer{
			Address:      peer.Remote().String(),
			State:        peer.State().String(),
			RTT:          peer.RTT(),
			TimeDelta:    timeDelta,
			PacketsSent:  stats.PacketSendCount.Load(),
			PacketsRecv:  stats.PacketReceiveCount.Load(),
			MessagesSent: stats.MessageSendTotal.Load(),
			MessagesRecv: stats.MessageReceiveTotal.Load(),
			MessagesLost: stats.MessageReceiveLost.Load(),
			Duplicates:   stats.MessageReceiveDuplicated.Load(),
			Acknowledges: stats.MessageReceiveAcknowledge.Load(),
			Encrypted:    peer.Encrypted(),
		})
	}

	ra.writeJson(w, peers, "peers")
}

// handleStats processes /stats GET requests.
func (ra *RestAPI) handleStats(w http.ResponseWriter, _ *http.Request) {
	host := ra.node.Host()
	stats := host.Statistics()

	resp := agent.RestStats{
		Address:       host.Addr().String(),
		Peers:         len(host.Peers()),
		BytesSent:     stats.SocketSendBytes.Load(),
		BytesRecv:     stats.SocketReceiveBytes.Load(),
		PacketsSent:   stats.SocketSendCount.Load(),
		PacketsRecv:   stats.SocketReceiveCount.Load(),
		Allocated:     host.Allocator().Outstanding(),
		PublicKey:     host.Authenticator().ExportPublicKey(),
		AgentsTotal:   ra.node.Agents().Agents(),
		AgentsActive:  ra.node.Agents().Active(),
		UptimeSeconds: int64(ra.node.Uptime() / time.Second),
	}

	if store := ra.node.Store(); store != nil {
		if pis, err := store.QueryAll(); err == nil {
			resp.KnownPeers = len(pis)
		}
	}

	ra.writeJson(w, resp, "stats")
}

// handleKnown processes /known GET requests.
func (ra *RestAPI) handleKnown(w http.ResponseWriter, _ *http.Request) {
	known := []agent.RestKnownPeer{}

	if store := ra.node.Store(); store != nil {
		pis, err := store.QueryAll()
		if err != nil {
			log.WithError(err).Warn("Failed to query peer book")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for _, pi := range pis {
			known = append(known, agent.RestKnownPeer{
				Address:     pi.Id,
				Connects:    pi.Connects,
				Disconnects: pi.Disconnects,
				LastReason:  pi.LastReason,
				LastSeen:    pi.LastSeen.Format(time.RFC3339),
				Discovered:  pi.Discovered,
			})
		}
	}

	ra.writeJson(w, known, "known")
}

// handleConnect processes /connect POST requests.
func (ra *RestAPI) handleConnect(w http.ResponseWriter, r *http.Request) {
	var (
		connectRequest  agent.RestConnectRequest
		connectResponse agent.RestConnectResponse
	)

	if jsonErr := json.NewDecoder(r.Body).Decode(&connectRequest); jsonErr != nil {
		connectResponse.Error = jsonErr.Error()
	} else if remote, addrErr := netip.ParseAddrPort(connectRequest.Address); addrErr != nil {
		connectResponse.Error = addrErr.Error()
	} else if peer, connErr := ra.node.Connect(remote, connectRequest.PublicKey, connectRequest.Payload); connErr != nil {
		connectResponse.Error = connErr.Error()
	} else {
		connectResponse.Peer = peer.Remote().String()
	}

	log.WithFields(log.Fields{
		"request":  connectRequest.Address,
		"response": connectResponse,
	}).Info("Processing REST connect")

	ra.writeJson(w, connectResponse, "connect")
}

// handleDisconnect processes /disconnect POST requests.
func (ra *RestAPI) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var (
		disconnectRequest  agent.RestDisconnectRequest
		disconnectResponse agent.RestDisconnectResponse
	)

	if jsonErr := json.NewDecoder(r.Body).Decode(&disconnectRequest); jsonErr != nil {
		disconnectResponse.Error = jsonErr.Error()
	} else if remote, addrErr := netip.ParseAddrPort(disconnectRequest.Address); addrErr != nil {
		disconnectResponse.Error = addrErr.Error()
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), ra.DisconnectTimeout)
		defer cancel()

		if err := ra.node.Disconnect(ctx, remote, disconnectRequest.Payload); err != nil {
			disconnectResponse.Error = fmt.Sprintf("disconnecting %v failed: %v", remote, err)
		}
	}

	log.WithFields(log.Fields{
		"request":  disconnectRequest.Address,
		"response": disconnectResponse,
	}).Info("Processing REST disconnect")

	ra.writeJson(w, disconnectResponse, "disconnect")
}
