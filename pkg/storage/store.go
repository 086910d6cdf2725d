// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package storage keeps a persistent peer book: known remote Hosts, their connection history and packets queued for
// them while they are not connected.
package storage

import (
	"errors"
	"net/netip"
	"os"
	"path"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"

	"github.com/dtn7/rudp-go/pkg/agent"
)

const (
	dirBadger string = "db"
	dirOutbox string = "outbox"
)

// Store implements a storage for PeerItems together with their queued packets.
type Store struct {
	bh *badgerhold.Store

	// mutex serializes read-modify-write cycles on PeerItems.
	mutex sync.Mutex

	badgerDir string
	outboxDir string
}

// NewStore creates a new Store or opens an existing Store from the given path.
func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)
	outboxDir := path.Join(dir, dirOutbox)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}
	if dirErr := os.MkdirAll(outboxDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &Store{
			bh: bh,

			badgerDir: badgerDir,
			outboxDir: outboxDir,
		}
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// modify a PeerItem, creating it if it is unknown.
func (s *Store) modify(remote netip.AddrPort, f func(pi *PeerItem)) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	pi, err := s.Query(remote)
	if errors.Is(err, badgerhold.ErrNotFound) {
		pi = newPeerItem(remote)
		f(&pi)
		return s.bh.Insert(pi.Id, pi)
	} else if err != nil {
		return err
	}

	f(&pi)
	return s.bh.Update(pi.Id, pi)
}

// RecordConnect counts a successful connection to a remote address.
func (s *Store) RecordConnect(remote netip.AddrPort) error {
	log.WithField("peer", remote).Debug("Store records connect")

	return s.modify(remote, func(pi *PeerItem) {
		pi.Connects++
		pi.LastSeen = time.Now()
	})
}

// RecordDisconnect counts a disconnect from a remote address together with its reason.
func (s *Store) RecordDisconnect(remote netip.AddrPort, reason string) error {
	log.WithFields(log.Fields{
		"peer":   remote,
		"reason": reason,
	}).Debug("Store records disconnect")

	return s.modify(remote, func(pi *PeerItem) {
		pi.Disconnects++
		pi.LastReason = reason
		pi.LastSeen = time.Now()
	})
}

// RecordDiscovered marks a remote address as found by the peer discovery.
func (s *Store) RecordDiscovered(remote netip.AddrPort, publicKey string) error {
	return s.modify(remote, func(pi *PeerItem) {
		pi.Discovered = true
		pi.LastSeen = time.Now()
		if publicKey != "" {
			pi.PublicKey = publicKey
		}
	})
}

// Enqueue a packet for a peer which is currently not connected. Its payload is stored on the disk.
func (s *Store) Enqueue(p agent.PacketMessage) error {
	return s.modifyErr(p.Peer, func(pi *PeerItem) error {
		part := newOutboxPart(p, len(pi.Outbox), s.outboxDir)
		if err := part.storePayload(p.Payload); err != nil {
			return err
		}

		pi.Outbox = append(pi.Outbox, part)
		pi.Pending = true

		log.WithFields(log.Fields{
			"peer":   p.Peer,
			"queued": len(pi.Outbox),
		}).Info("Store queued packet")
		return nil
	})
}

// Dequeue all queued packets of a peer in their order of arrival, removing them from the Store.
func (s *Store) Dequeue(remote netip.AddrPort) (packets []agent.PacketMessage, err error) {
	err = s.modifyErr(remote, func(pi *PeerItem) error {
		for _, part := range pi.Outbox {
			p, loadErr := part.Load(remote)
			if loadErr != nil {
				log.WithError(loadErr).WithFields(log.Fields{
					"peer": remote,
					"file": part.Filename,
				}).Warn("Failed to load queued packet")
				continue
			}
			packets = append(packets, p)

			if delErr := part.deletePayload(); delErr != nil {
				log.WithError(delErr).WithField("file", part.Filename).Warn("Failed to delete queued packet")
			}
		}

		pi.Outbox = nil
		pi.Pending = false
		return nil
	})
	return
}

func (s *Store) modifyErr(remote netip.AddrPort, f func(pi *PeerItem) error) error {
	var ferr error
	err := s.modify(remote, func(pi *PeerItem) { ferr = f(pi) })
	if ferr != nil {
		return ferr
	}
	return err
}

// Delete a PeerItem together with its queued packets.
func (s *Store) Delete(remote netip.AddrPort) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if pi, err := s.Query(remote); err == nil {
		log.WithField("peer", remote).Info("Store deletes PeerItem")

		for _, part := range pi.Outbox {
			if err := part.deletePayload(); err != nil {
				log.WithFields(log.Fields{
					"peer":  remote,
					"file":  part.Filename,
					"error": err,
				}).Warn("Failed to delete OutboxPart")
			}
		}

		return s.bh.Delete(pi.Id, PeerItem{})
	}

	return nil
}

// DeleteStale removes all PeerItems which were not seen since the given time.
func (s *Store) DeleteStale(before time.Time) {
	var pis []PeerItem
	if err := s.bh.Find(&pis, badgerhold.Where("LastSeen").Lt(before)); err != nil {
		log.WithError(err).Warn("Failed to get stale PeerItems")
		return
	}

	for _, pi := range pis {
		logger := log.WithField("peer", pi.Id)
		if remote, err := pi.Address(); err != nil {
			logger.WithError(err).Warn("Stale PeerItem has an invalid address")
		} else if err := s.Delete(remote); err != nil {
			logger.WithError(err).Warn("Failed to delete stale PeerItem")
		} else {
			logger.Info("Deleted stale PeerItem")
		}
	}
}

// Query fetches the PeerItem for the requested remote address.
func (s *Store) Query(remote netip.AddrPort) (pi PeerItem, err error) {
	err = s.bh.Get(key(remote), &pi)
	return
}

// QueryAll fetches all PeerItems.
func (s *Store) QueryAll() (pis []PeerItem, err error) {
	err = s.bh.Find(&pis, nil)
	return
}

// QueryDiscovered fetches all PeerItems found by the peer discovery.
func (s *Store) QueryDiscovered() (pis []PeerItem, err error) {
	err = s.bh.Find(&pis, badgerhold.Where("Discovered").Eq(true))
	return
}

// QueryPending fetches all PeerItems with queued packets.
func (s *Store) QueryPending() (pis []PeerItem, err error) {
	err = s.bh.Find(&pis, badgerhold.Where("Pending").Eq(true))
	return
}

// Knows checks if such a remote address is known.
func (s *Store) Knows(remote netip.AddrPort) bool {
	_, err := s.Query(remote)
	return err != badgerhold.ErrNotFound
}
