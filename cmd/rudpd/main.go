// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// rudpd runs a reliable UDP Host, offering its peers to applications via WebSocket and REST.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rudp-go/pkg/agent"
	"github.com/dtn7/rudp-go/pkg/discovery"
	"github.com/dtn7/rudp-go/pkg/node"
	"github.com/dtn7/rudp-go/pkg/transport"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

// startWebserver binds the configured agents and APIs to a HTTP server.
func startWebserver(conf webserverConf, n *node.Node) *http.Server {
	r := mux.NewRouter()

	if conf.Websocket {
		ws := agent.NewWebSocketAgent()
		r.Handle("/ws", ws)
		n.RegisterAgent(ws)
	}

	if conf.Rest {
		node.NewRestAPI(r, n)
	}

	if conf.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(transport.NewStatisticsCollector(n.Host()))
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	srv := &http.Server{
		Addr:              conf.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("address", conf.Address).Error("Webserver failed")
		}
	}()

	log.WithFields(log.Fields{
		"address":   conf.Address,
		"websocket": conf.Websocket,
		"rest":      conf.Rest,
		"metrics":   conf.Metrics,
	}).Info("Started webserver")

	return srv
}

// startDiscovery announces this node and reports other ones to the Node.
func startDiscovery(conf discoveryConf, n *node.Node) (*discovery.Manager, error) {
	announcements := []discovery.Announcement{{
		Node:      conf.Node,
		Port:      n.Host().Addr().Port(),
		PublicKey: n.Host().Authenticator().ExportPublicKey(),
	}}

	return discovery.NewManager(
		conf.Node, n.HandleAnnouncement, announcements,
		time.Duration(conf.Interval)*time.Second, conf.IPv4, conf.IPv6)
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	n, err := node.NewNode(conf.node)
	if err != nil {
		log.WithError(err).Fatal("Failed to start node")
	}

	for _, peer := range conf.echo {
		n.RegisterAgent(agent.NewEcho(peer).OnChannels(conf.echoChans...))
	}

	var srv *http.Server
	if conf.webserver.Address != "" {
		srv = startWebserver(conf.webserver, n)
	}

	var ds *discovery.Manager
	if conf.discovery.IPv4 || conf.discovery.IPv6 {
		if ds, err = startDiscovery(conf.discovery, n); err != nil {
			log.WithError(err).Warn("Failed to start discovery")
		}
	}

	for _, c := range conf.connect {
		connect := n.Connect
		if c.permanent {
			connect = n.ConnectPermanent
		}

		if _, err := connect(c.remote, c.publicKey, c.payload); err != nil {
			log.WithError(err).WithField("peer", c.remote).Warn("Failed to connect to a peer")
		}
	}

	waitSigint()
	log.Info("Shutting down..")

	if ds != nil {
		ds.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Failed to shut down webserver")
		}
	}

	if err := n.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Node shut down with errors")
	}
}
