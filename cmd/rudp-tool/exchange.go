// SPDX-FileCopyrightText: 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/netip"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"

	"github.com/dtn7/rudp-go/pkg/agent"
)

// exchange packets between an user and a rudpd over the filesystem.
type exchange struct {
	directory     string
	peer          netip.AddrPort
	knownFiles    sync.Map
	websocketConn *agent.WebSocketAgentConnector
	watcher       *fsnotify.Watcher

	closeChan chan os.Signal
	msgChan   <-chan agent.Message
}

// startExchange to exchange packets between client and a rudpd.
func startExchange(args []string) {
	if len(args) != 3 {
		printUsage()
	}

	var (
		websocketAddr = args[0]
		peer          = args[1]
		directory     = args[2]

		err error
	)

	ex := &exchange{
		directory: directory,
		closeChan: make(chan os.Signal, 1),
	}

	if peer != "*" {
		if ex.peer, err = netip.ParseAddrPort(peer); err != nil {
			printFatal(err, "Parsing peer errored")
		}
	}

	signal.Notify(ex.closeChan, os.Interrupt)

	if ex.websocketConn, err = agent.NewWebSocketAgentConnector(websocketAddr, peer); err != nil {
		printFatal(err, "Starting WebSocketAgentConnector errored")
	}
	ex.msgChan = ex.websocketConn.Messages()

	if ex.watcher, err = fsnotify.NewWatcher(); err != nil {
		printFatal(err, "Starting file watcher errored")
	}
	if err = ex.watcher.Add(directory); err != nil {
		printFatal(err, "Adding directory to file watcher errored")
	}

	ex.handler()
}

// cleanFilepath creates a relative path from the initial path to a new file's path.
func (ex *exchange) cleanFilepath(f string) string {
	if rel, err := filepath.Rel(ex.directory, f); err != nil {
		log.WithField("path", f).WithError(err).Fatal("Failed to clean file path")
		return ""
	} else {
		return rel
	}
}

func (ex *exchange) handler() {
	defer func() {
		_ = ex.watcher.Close()
		ex.websocketConn.Close()
	}()

	for {
		select {
		case <-ex.closeChan:
			log.Info("Received interrupt signal")
			return

		case e, ok := <-ex.watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if _, ok := ex.knownFiles.Load(ex.cleanFilepath(e.Name)); ok {
				log.WithField("file", e.Name).Debug("Skipping file; already known")
				continue
			}

			if e.Op&fsnotify.Create == 0 {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}

			ex.readNewFile(e)

		case err, ok := <-ex.watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}

			log.WithError(err).Error("fsnotify errored")
			return

		case msg, ok := <-ex.msgChan:
			if !ok {
				log.Error("WebSocket message channel was closed")
				return
			}

			switch msg := msg.(type) {
			case agent.PacketMessage:
				ex.writePacket(msg)

			case agent.PeerMessage:
				log.WithFields(log.Fields{
					"peer":      msg.Peer,
					"connected": msg.Connected,
					"reason":    msg.Reason,
				}).Info("Peer changed its state")
			}
		}
	}
}

// writePacket's payload into a new file, named by its hash.
func (ex *exchange) writePacket(p agent.PacketMessage) {
	hash := sha256.Sum256(p.Payload)
	filePath := path.Join(ex.directory, hex.EncodeToString(hash[:]))

	logger := log.WithFields(log.Fields{
		"packet": p,
		"file":   filePath,
	})

	ex.knownFiles.Store(ex.cleanFilepath(filePath), struct{}{})

	if err := os.WriteFile(filePath, p.Payload, 0644); err != nil {
		logger.WithError(err).Error("Writing file errored")
		return
	}

	logger.Info("Saved received packet")
}

func (ex *exchange) readNewFile(e fsnotify.Event) {
	for i := 0; i < 5; i++ {
		if data, err := os.ReadFile(e.Name); err != nil {
			log.WithError(err).WithField("file", e.Name).Warn("Reading file errored, retrying..")
		} else if len(data) == 0 {
			log.WithField("file", e.Name).Debug("File is still empty, retrying..")
		} else if err := ex.websocketConn.WritePacket(agent.PacketMessage{
			Peer:     ex.peer,
			Channel:  1,
			Reliable: true,
			Ordered:  true,
			Payload:  data,
		}); err != nil {
			log.WithError(err).WithField("file", e.Name).Error("Sending packet errored")
			return
		} else {
			log.WithFields(log.Fields{
				"file":  e.Name,
				"bytes": len(data),
			}).Info("Sent packet")
			return
		}

		time.Sleep(time.Duration(math.Pow(2, float64(i))) * 100 * time.Millisecond)
	}

	log.WithField("file", e.Name).Error("Failed to process file, giving up.")
}
