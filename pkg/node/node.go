// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package node bundles a transport Host with application agents, a persistent peer book and a REST API, as being
// run by the rudpd daemon.
package node

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rudp-go/pkg/agent"
	"github.com/dtn7/rudp-go/pkg/codec"
	"github.com/dtn7/rudp-go/pkg/discovery"
	"github.com/dtn7/rudp-go/pkg/storage"
	"github.com/dtn7/rudp-go/pkg/transport"
)

const (
	// pendingInterval between two connection attempts to peers with queued packets.
	pendingInterval = 10 * time.Second

	// retryInterval between two connection attempts to disconnected permanent peers.
	retryInterval = 10 * time.Second
)

// Config of a Node.
type Config struct {
	Host transport.HostConfig
	Peer transport.PeerConfig

	// Accept incoming connection requests; otherwise they are rejected.
	Accept bool

	// StoreDir of the peer book; no peer book is kept if empty.
	StoreDir string

	// StoreExpire removes peer book entries not seen for this duration; zero keeps them forever.
	StoreExpire time.Duration

	// ConnectDiscovered peers automatically.
	ConnectDiscovered bool
}

// Node connects a transport Host to ApplicationAgents.
type Node struct {
	conf Config

	host   *transport.Host
	store  *storage.Store
	agents *AgentManager

	hostEvents *transport.HostEvents
	peerEvents *transport.PeerEvents

	// publicKeys of remote peers, by address, used when connecting to them.
	publicKeys sync.Map

	// permanent peers are reconnected after being disconnected.
	permanent      map[netip.AddrPort][]byte
	permanentMutex sync.Mutex

	started time.Time
	cron    *Cron

	closeOnce sync.Once
}

// NewNode creates and starts a new Node.
func NewNode(conf Config) (n *Node, err error) {
	n = &Node{
		conf:      conf,
		permanent: make(map[netip.AddrPort][]byte),
		started:   time.Now(),
	}

	n.hostEvents = &transport.HostEvents{
		OnReceiveRequest: n.onReceiveRequest,
		OnException:      n.onHostException,
	}
	n.peerEvents = &transport.PeerEvents{
		OnConnect:    n.onConnect,
		OnReceive:    n.onReceive,
		OnDisconnect: n.onDisconnect,
		OnException:  n.onPeerException,
	}

	if conf.StoreDir != "" {
		if n.store, err = storage.NewStore(conf.StoreDir); err != nil {
			return nil, fmt.Errorf("opening peer book failed: %w", err)
		}
	}

	n.agents = NewAgentManager(n)

	if n.host, err = transport.NewHost(conf.Host, n.hostEvents); err != nil {
		_ = n.agents.Close()
		if n.store != nil {
			_ = n.store.Close()
		}
		return nil, err
	}

	n.cron = NewCron(conf.Host.Clock, time.Second)
	if err := n.cron.Register("permanent_peers", n.checkPermanentPeers, retryInterval); err != nil {
		n.log().WithError(err).Warn("Failed to register permanent_peers at cron")
	}
	if n.store != nil {
		if err := n.cron.Register("pending_packets", n.checkPendingPackets, pendingInterval); err != nil {
			n.log().WithError(err).Warn("Failed to register pending_packets at cron")
		}
		if conf.StoreExpire > 0 {
			if err := n.cron.Register("clean_store", n.cleanStore, conf.StoreExpire/2); err != nil {
				n.log().WithError(err).Warn("Failed to register clean_store at cron")
			}
		}
	}

	n.log().Info("Node started")
	return n, nil
}

func (n *Node) log() *log.Entry {
	return log.WithField("node", n.host.Addr())
}

// Host of this Node.
func (n *Node) Host() *transport.Host {
	return n.host
}

// Store is the peer book, possibly nil.
func (n *Node) Store() *storage.Store {
	return n.store
}

// Agents manages the ApplicationAgents of this Node.
func (n *Node) Agents() *AgentManager {
	return n.agents
}

// Uptime since the Node's creation.
func (n *Node) Uptime() time.Duration {
	return time.Since(n.started)
}

// RegisterAgent for incoming packets and peer notifications.
func (n *Node) RegisterAgent(appAgent agent.ApplicationAgent) {
	n.agents.Register(appAgent)
}

// peerConfig for a remote address, authenticating against a known public key.
func (n *Node) peerConfig(remote netip.AddrPort) transport.PeerConfig {
	conf := n.conf.Peer
	if key, ok := n.publicKeys.Load(remote); ok {
		conf.RemotePublicKey = key.(string)
	}
	return conf
}

// Connect to a remote Host. A non-empty public key authenticates the remote Host.
func (n *Node) Connect(remote netip.AddrPort, publicKey string, payload []byte) (*transport.Peer, error) {
	remote = netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port())
	if publicKey != "" {
		n.publicKeys.Store(remote, publicKey)
	}

	var writable codec.Writable
	if len(payload) > 0 {
		writable = codec.Bytes(payload)
	}

	n.log().WithField("peer", remote).Info("Connecting to peer")
	return n.host.Connect(remote, n.peerConfig(remote), n.peerEvents, writable)
}

// ConnectPermanent connects to a remote Host and reconnects whenever it was disconnected.
func (n *Node) ConnectPermanent(remote netip.AddrPort, publicKey string, payload []byte) (*transport.Peer, error) {
	remote = netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port())

	n.permanentMutex.Lock()
	n.permanent[remote] = payload
	n.permanentMutex.Unlock()

	return n.Connect(remote, publicKey, payload)
}

// checkPermanentPeers reconnects all disconnected permanent peers.
func (n *Node) checkPermanentPeers() {
	n.permanentMutex.Lock()
	defer n.permanentMutex.Unlock()

	for remote, payload := range n.permanent {
		if peer := n.host.FindPeer(remote); peer != nil && !peer.Disposed() {
			continue
		}

		n.log().WithField("peer", remote).Info("Reconnecting to permanent peer")
		if _, err := n.Connect(remote, "", payload); err != nil {
			n.log().WithError(err).WithField("peer", remote).Debug("Failed to reconnect to permanent peer")
		}
	}
}

// Disconnect from a connected peer, passing the optional payload. A permanent peer will not be reconnected.
func (n *Node) Disconnect(ctx context.Context, remote netip.AddrPort, payload []byte) error {
	n.permanentMutex.Lock()
	delete(n.permanent, netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port()))
	n.permanentMutex.Unlock()

	peer := n.host.FindPeer(remote)
	if peer == nil {
		return transport.ErrNotConnected
	}

	var writable codec.Writable
	if len(payload) > 0 {
		writable = codec.Bytes(payload)
	}
	return peer.Disconnect(ctx, writable)
}

// Send a packet to its peer. Packets for a peer being known to the peer book but not connected are queued.
func (n *Node) Send(p agent.PacketMessage) error {
	if p.Peer == agent.AnyPeer {
		n.host.SendAll(n.message(p))
		return nil
	}

	peer := n.host.FindPeer(p.Peer)
	if peer != nil && peer.Connected() {
		_, err := peer.Send(n.message(p), nil)
		return err
	}

	if n.store != nil && n.store.Knows(p.Peer) {
		return n.store.Enqueue(p)
	}
	return fmt.Errorf("peer %v is neither connected nor known: %w", p.Peer, transport.ErrNotConnected)
}

func (n *Node) message(p agent.PacketMessage) transport.Message {
	return transport.Message{
		Channel:  p.Channel,
		Reliable: p.Reliable,
		Ordered:  p.Ordered,
		Unique:   p.Unique,
		Timed:    p.Timed,
		Payload:  codec.Bytes(p.Payload),
	}
}

// HandleAnnouncement of another node found by the peer discovery.
func (n *Node) HandleAnnouncement(remote netip.AddrPort, announcement discovery.Announcement) {
	logger := n.log().WithFields(log.Fields{
		"peer":         remote,
		"announcement": announcement,
	})

	if announcement.PublicKey != "" {
		n.publicKeys.Store(remote, announcement.PublicKey)
	}

	if n.store != nil {
		if err := n.store.RecordDiscovered(remote, announcement.PublicKey); err != nil {
			logger.WithError(err).Warn("Failed to record discovered peer")
		}
	}

	if !n.conf.ConnectDiscovered || n.host.FindPeer(remote) != nil {
		return
	}

	if _, err := n.Connect(remote, announcement.PublicKey, nil); err != nil {
		logger.WithError(err).Info("Failed to connect to discovered peer")
	} else {
		logger.Info("Connecting to discovered peer")
	}
}

func (n *Node) onReceiveRequest(request *transport.ConnectionRequest, reader *codec.Reader) {
	logger := n.log().WithField("request", request)

	if !n.conf.Accept {
		logger.Info("Rejecting connection request")
		if err := request.Reject(nil); err != nil {
			logger.WithError(err).Warn("Failed to reject connection request")
		}
		return
	}

	if _, err := request.Accept(n.peerConfig(request.Remote()), n.peerEvents); err != nil {
		logger.WithError(err).Warn("Failed to accept connection request")
	} else {
		logger.WithField("payload", reader.Len()).Info("Accepted connection request")
	}
}

func (n *Node) onHostException(remote netip.AddrPort, err error) {
	n.log().WithError(err).WithField("remote", remote).Debug("Host exception")
}

func (n *Node) onConnect(peer *transport.Peer) {
	remote := peer.Remote()
	n.log().WithField("peer", remote).Info("Peer connected")

	if n.store != nil {
		if err := n.store.RecordConnect(remote); err != nil {
			n.log().WithError(err).WithField("peer", remote).Warn("Failed to record connect")
		}
	}

	if err := n.agents.Deliver(agent.PeerMessage{Peer: remote, Connected: true}); err != nil {
		n.log().WithError(err).Debug("Failed to deliver connect notification")
	}

	if n.store != nil {
		go n.flushOutbox(peer)
	}
}

// flushOutbox sends all packets queued for a newly connected peer.
func (n *Node) flushOutbox(peer *transport.Peer) {
	packets, err := n.store.Dequeue(peer.Remote())
	if err != nil {
		n.log().WithError(err).WithField("peer", peer.Remote()).Warn("Failed to dequeue packets")
		return
	}

	for _, p := range packets {
		if _, err := peer.Send(n.message(p), nil); err != nil {
			n.log().WithError(err).WithField("packet", p).Warn("Failed to send queued packet")
		}
	}

	if len(packets) > 0 {
		n.log().WithFields(log.Fields{
			"peer":    peer.Remote(),
			"packets": len(packets),
		}).Info("Sent queued packets")
	}
}

func (n *Node) onReceive(peer *transport.Peer, reader *codec.Reader, info transport.MessageReceived) {
	payload := append([]byte(nil), reader.ReadRemaining()...)

	msg := agent.PacketMessage{
		Peer:     peer.Remote(),
		Channel:  info.Channel,
		Reliable: info.Reliable(),
		Ordered:  info.Ordered(),
		Unique:   info.Unique(),
		Timed:    info.Timed(),
		Payload:  payload,
	}

	if err := n.agents.Deliver(msg); err != nil {
		n.log().WithError(err).WithField("packet", msg).Debug("Dropping received packet")
	}
}

func (n *Node) onDisconnect(peer *transport.Peer, _ *codec.Reader, reason transport.DisconnectReason, err error) {
	remote := peer.Remote()

	logger := n.log().WithFields(log.Fields{
		"peer":   remote,
		"reason": reason,
	})
	if err != nil {
		logger = logger.WithError(err)
	}
	logger.Info("Peer disconnected")

	if n.store != nil {
		if storeErr := n.store.RecordDisconnect(remote, reason.String()); storeErr != nil {
			logger.WithError(storeErr).Warn("Failed to record disconnect")
		}
	}

	msg := agent.PeerMessage{Peer: remote, Connected: false, Reason: reason.String()}
	if deliverErr := n.agents.Deliver(msg); deliverErr != nil {
		logger.WithError(deliverErr).Debug("Failed to deliver disconnect notification")
	}
}

func (n *Node) onPeerException(peer *transport.Peer, err error) {
	n.log().WithError(err).WithField("peer", peer.Remote()).Debug("Peer exception")
}

// cleanStore prunes peer book entries which were not seen within StoreExpire.
func (n *Node) cleanStore() {
	n.store.DeleteStale(time.Now().Add(-n.conf.StoreExpire))
}

// checkPendingPackets connects to peers for which packets are queued.
func (n *Node) checkPendingPackets() {
	pis, err := n.store.QueryPending()
	if err != nil {
		n.log().WithError(err).Warn("Failed to query pending peers")
		return
	}

	for _, pi := range pis {
		remote, err := pi.Address()
		if err != nil {
			continue
		}
		if peer := n.host.FindPeer(remote); peer != nil && !peer.Disposed() {
			continue
		}

		if _, err := n.Connect(remote, "", nil); err != nil {
			n.log().WithError(err).WithField("peer", remote).Debug("Failed to connect to pending peer")
		}
	}
}

// Shutdown the Node, disconnecting all peers first.
func (n *Node) Shutdown(ctx context.Context) error {
	var errs *multierror.Error

	n.closeOnce.Do(func() {
		n.cron.Stop()

		if err := n.host.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
		if err := n.agents.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		if n.store != nil {
			if err := n.store.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}

		log.Info("Node shut down")
	})
	return errs.ErrorOrNil()
}
