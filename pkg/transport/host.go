// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dtn7/rudp-go/pkg/alloc"
	"github.com/dtn7/rudp-go/pkg/codec"
	"github.com/dtn7/rudp-go/pkg/compress"
	"github.com/dtn7/rudp-go/pkg/crypto"
	"github.com/dtn7/rudp-go/pkg/transport/internal/msgs"
)

// Host owns a UDP socket and the Peers communicating over it.
type Host struct {
	conf  HostConfig
	conn  *net.UDPConn
	local netip.AddrPort
	ipv6  bool

	allocator     *alloc.Allocator
	compressor    compress.Compressor
	authenticator crypto.Authenticator
	exchanger     func() (crypto.Exchanger, error)
	keyLength     int
	clock         clock.Clock
	epoch         time.Time
	simulator     *simulator
	statistics    HostStatistics

	listenerMutex sync.RWMutex
	listener      HostListener

	peersMutex sync.RWMutex
	peers      map[netip.AddrPort]*Peer

	ctx         context.Context
	cancel      context.CancelFunc
	receiveSem  *semaphore.Weighted
	receiveDone chan struct{}

	closing   atomic.Bool
	closeOnce sync.Once
}

// NewHost binds a new socket and starts receiving.
func NewHost(conf HostConfig, listener HostListener) (*Host, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid host configuration: %w", err)
	}

	if listener == nil {
		listener = &HostEvents{}
	}

	clk := conf.Clock
	if clk == nil {
		clk = clock.New()
	}

	compressor := conf.Compressor
	if compressor == nil {
		compressor = compress.NewDeflate()
	}

	authenticator := conf.Authenticator
	if authenticator == nil {
		ed25519, err := crypto.NewEd25519Authenticator()
		if err != nil {
			return nil, fmt.Errorf("creating authenticator: %w", err)
		}
		authenticator = ed25519
	}
	if conf.PrivateKey != "" {
		if err := authenticator.ImportPrivateKey(conf.PrivateKey); err != nil {
			return nil, fmt.Errorf("importing private key: %w", err)
		}
	}

	exchanger := conf.Exchanger
	if exchanger == nil {
		exchanger = func() (crypto.Exchanger, error) {
			x25519, err := crypto.NewX25519Exchanger()
			if err != nil {
				return nil, err
			}
			return x25519, nil
		}
	}
	probe, err := exchanger()
	if err != nil {
		return nil, fmt.Errorf("creating key exchange: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	conn, err := listen(ctx, conf)
	if err != nil {
		cancel()
		return nil, err
	}
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()

	h := &Host{
		conf:          conf,
		conn:          conn,
		local:         normalize(local),
		ipv6:          local.Addr().Is6() && !local.Addr().Is4In6(),
		allocator:     alloc.New(conf.Allocator),
		compressor:    compressor,
		authenticator: authenticator,
		exchanger:     exchanger,
		keyLength:     probe.KeyLength(),
		clock:         clk,
		epoch:         clk.Now(),
		simulator:     newSimulator(conf.Simulator, clk),
		listener:      listener,
		peers:         make(map[netip.AddrPort]*Peer),
		ctx:           ctx,
		cancel:        cancel,
		receiveSem:    semaphore.NewWeighted(int64(conf.ReceiveCount)),
		receiveDone:   make(chan struct{}),
	}

	registerPort(h.local.Port())

	go h.receiveLoop()

	h.log().Info("Host started")
	return h, nil
}

func (h *Host) String() string {
	return fmt.Sprintf("host(%v)", h.local)
}

func (h *Host) log() *log.Entry {
	return log.WithField("host", h.local)
}

// Addr is the local address of the Host's socket.
func (h *Host) Addr() netip.AddrPort {
	return h.local
}

// Config of this Host.
func (h *Host) Config() HostConfig {
	return h.conf
}

// Statistics of this Host's socket.
func (h *Host) Statistics() *HostStatistics {
	return &h.statistics
}

// Allocator of this Host's buffers.
func (h *Host) Allocator() *alloc.Allocator {
	return h.allocator
}

// Authenticator of this Host, e.g., to export its public key.
func (h *Host) Authenticator() crypto.Authenticator {
	return h.authenticator
}

// Now is the current time of the Host's clock.
func (h *Host) Now() time.Time {
	return h.clock.Now()
}

// Ticks are the milliseconds passed since the Host was created.
func (h *Host) Ticks() int64 {
	return h.ticksOf(h.clock.Now())
}

func (h *Host) ticksOf(t time.Time) int64 {
	return t.Sub(h.epoch).Milliseconds()
}

func (h *Host) timeOf(ticks int64) time.Time {
	return h.epoch.Add(time.Duration(ticks) * time.Millisecond)
}

// Disposed reports if the Host is shutting down or closed.
func (h *Host) Disposed() bool {
	return h.closing.Load()
}

// SetListener replaces the HostListener and returns the previous one.
func (h *Host) SetListener(listener HostListener) HostListener {
	if listener == nil {
		listener = &HostEvents{}
	}

	h.listenerMutex.Lock()
	defer h.listenerMutex.Unlock()

	prev := h.listener
	h.listener = listener
	return prev
}

func (h *Host) getListener() HostListener {
	h.listenerMutex.RLock()
	defer h.listenerMutex.RUnlock()

	return h.listener
}

func (h *Host) exception(remote netip.AddrPort, err error) {
	h.log().WithFields(log.Fields{
		"remote": remote,
		"error":  err,
	}).Debug("Host exception")

	h.getListener().OnHostException(remote, err)
}

// FindPeer returns the Peer of a remote address or nil.
func (h *Host) FindPeer(remote netip.AddrPort) *Peer {
	remote = normalize(remote)

	h.peersMutex.RLock()
	defer h.peersMutex.RUnlock()

	return h.peers[remote]
}

// Peers returns a snapshot of all Peers.
func (h *Host) Peers() []*Peer {
	h.peersMutex.RLock()
	defer h.peersMutex.RUnlock()

	peers := make([]*Peer, 0, len(h.peers))
	for _, peer := range h.peers {
		peers = append(peers, peer)
	}
	return peers
}

// peerFor returns the existing Peer of an address or creates a new one.
func (h *Host) peerFor(remote netip.AddrPort, conf PeerConfig, listener PeerListener) (*Peer, error) {
	h.peersMutex.Lock()
	defer h.peersMutex.Unlock()

	if h.closing.Load() {
		return nil, ErrDisposed
	}

	if peer, ok := h.peers[remote]; ok && !peer.Disposed() {
		return peer, nil
	}

	peer, err := newPeer(h, remote, conf, listener)
	if err != nil {
		return nil, err
	}
	h.peers[remote] = peer
	return peer, nil
}

func (h *Host) removePeer(peer *Peer) {
	h.peersMutex.Lock()
	defer h.peersMutex.Unlock()

	if current, ok := h.peers[peer.remote]; ok && current == peer {
		delete(h.peers, peer.remote)
	}
}

// Connect to a remote Host. An existing Peer for this address is reused, ignoring the passed configuration. The
// optional payload is passed to the remote's OnHostReceiveRequest.
func (h *Host) Connect(remote netip.AddrPort, conf PeerConfig, listener PeerListener, payload codec.Writable) (*Peer, error) {
	if h.closing.Load() {
		return nil, ErrDisposed
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid peer configuration: %w", err)
	}

	peer, err := h.peerFor(normalize(remote), conf, listener)
	if err != nil {
		return nil, err
	}

	if err := peer.connect(payload); err != nil {
		return peer, err
	}
	return peer, nil
}

// Accept a ConnectionRequest; the same as ConnectionRequest.Accept.
func (h *Host) Accept(request *ConnectionRequest, conf PeerConfig, listener PeerListener) (*Peer, error) {
	if request.host != h {
		return nil, newProtocolError(request.remote, nil, "connection request of another host")
	}
	return request.Accept(conf, listener)
}

// Reject a ConnectionRequest; the same as ConnectionRequest.Reject.
func (h *Host) Reject(request *ConnectionRequest, payload codec.Writable) error {
	if request.host != h {
		return newProtocolError(request.remote, nil, "connection request of another host")
	}
	return request.Reject(payload)
}

// accept a validated request for the ConnectionRequest.
func (h *Host) accept(request *ConnectionRequest, conf PeerConfig, listener PeerListener) (*Peer, error) {
	if h.closing.Load() {
		return nil, ErrDisposed
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid peer configuration: %w", err)
	}

	switch {
	case conf.RemotePublicKey != "":
		return nil, newProtocolError(request.remote, nil, "a connection request cannot be authenticated")
	case len(request.key) > 0 && len(request.key) != h.keyLength:
		return nil, newFormatError(request.remote, nil, "connection request with exchange key of %d bytes instead of %d",
			len(request.key), h.keyLength)
	case len(request.random) > 0 && len(request.random) != h.authenticator.SignatureLength():
		return nil, newFormatError(request.remote, nil, "connection request with challenge of %d bytes instead of %d",
			len(request.random), h.authenticator.SignatureLength())
	}

	peer, err := h.peerFor(request.remote, conf, listener)
	if err != nil {
		return nil, err
	}

	if err := peer.accept(request); err != nil {
		return peer, err
	}
	return peer, nil
}

// SendAll sends a message to all connected Peers, except the excluded ones.
func (h *Host) SendAll(message Message, exclude ...*Peer) {
peers:
	for _, peer := range h.Peers() {
		if !peer.Connected() {
			continue
		}
		for _, excluded := range exclude {
			if peer == excluded {
				continue peers
			}
		}

		if _, err := peer.Send(message, nil); err != nil {
			peer.log().WithError(err).Debug("Sending to all peers failed for this peer")
		}
	}
}

// SendUnconnected sends a payload to a remote Host without a connection.
func (h *Host) SendUnconnected(remote netip.AddrPort, payload codec.Writable) error {
	if h.closing.Load() {
		return ErrDisposed
	}
	return h.sendPacket(msgs.PacketUnconnected, normalize(remote), payload)
}

// SendBroadcast sends a payload to all Hosts of the local network listening on the given port.
func (h *Host) SendBroadcast(port uint16, payload codec.Writable) error {
	if h.closing.Load() {
		return ErrDisposed
	} else if !h.conf.Broadcast {
		return ErrBroadcastDisabled
	}

	addr := broadcastIPv4
	if h.ipv6 {
		addr = broadcastIPv6
	}
	return h.sendPacket(msgs.PacketBroadcast, netip.AddrPortFrom(addr, port), payload)
}

// Shutdown disconnects all Peers in parallel and closes the Host afterwards. If the context ends first, the
// remaining Peers are disposed.
func (h *Host) Shutdown(ctx context.Context) error {
	h.closing.Store(true)

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range h.Peers() {
		peer := peer
		g.Go(func() error {
			if err := peer.Disconnect(gctx, nil); err != nil && !errors.Is(err, ErrDisposed) {
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	if closeErr := h.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close the Host immediately, disposing all Peers without informing the remote peers.
func (h *Host) Close() (err error) {
	h.closeOnce.Do(func() {
		h.closing.Store(true)
		h.cancel()

		if closeErr := h.conn.Close(); closeErr != nil {
			err = &SocketError{Op: "close", Cause: closeErr}
		}
		<-h.receiveDone

		for _, peer := range h.Peers() {
			peer.Close()
		}

		unregisterPort(h.local.Port())

		h.log().Info("Host closed")
		h.getListener().OnHostShutdown()
	})
	return
}

func (h *Host) receiveLoop() {
	defer close(h.receiveDone)

	for {
		if err := h.receiveSem.Acquire(h.ctx, 1); err != nil {
			return
		}

		buf := h.allocator.MustRent(h.conf.ReceiveMTU)
		n, remote, err := h.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			h.allocator.Return(buf)
			h.receiveSem.Release(1)

			if h.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			h.log().WithError(err).Warn("Host failed to receive from socket")
			h.exception(netip.AddrPort{}, &SocketError{Op: "receive", Cause: err})
			continue
		}

		h.statistics.SocketReceiveTicks.Store(h.Ticks())
		h.statistics.SocketReceiveBytes.Add(int64(n))
		h.statistics.SocketReceiveCount.Add(1)

		go h.receive(normalize(remote), buf, n)
	}
}

// receive processes a datagram and returns its buffer afterwards.
func (h *Host) receive(remote netip.AddrPort, buf []byte, n int) {
	defer h.receiveSem.Release(1)
	defer h.allocator.Return(buf)

	defer func() {
		if r := recover(); r != nil {
			h.log().WithFields(log.Fields{
				"remote": remote,
				"panic":  r,
			}).Error("Host recovered from a panic while receiving")
			h.exception(remote, fmt.Errorf("receiving panicked: %v", r))
		}
	}()

	if !h.simulator.incoming(h.ctx) {
		return
	}

	packet := buf[:n]
	h.getListener().OnHostReceiveSocket(remote, packet)

	if len(packet) < msgs.PacketHeaderLength {
		h.exception(remote, newFormatError(remote, nil, "empty packet"))
		return
	}

	pt, pf := msgs.ParsePacketHeader(packet[0])
	switch pt {
	case msgs.PacketConnected, msgs.PacketAccept, msgs.PacketReject:
		if peer := h.FindPeer(remote); peer != nil {
			peer.receive(packet)
		} else {
			h.exception(remote, newFormatError(remote, nil, "%v packet without a peer", pt))
		}
		return

	case msgs.PacketUnused1, msgs.PacketUnused2:
		h.exception(remote, newFormatError(remote, nil, "%v packet", pt))
		return
	}

	if pf.Has(msgs.PacketFragmented) || pf.Has(msgs.PacketCombined) || pf.Has(msgs.PacketTimed) {
		h.exception(remote, newFormatError(remote, nil, "%v packet with flags %v", pt, pf))
		return
	}

	data, err := h.verify(remote, packet[msgs.PacketHeaderLength:], pf)
	if err != nil {
		h.exception(remote, err)
		return
	}

	if pf.Has(msgs.PacketCompressed) {
		decompressed, rented, err := h.decompress(remote, data)
		if err != nil {
			h.exception(remote, err)
			return
		}
		defer h.allocator.Return(rented)

		data = decompressed
	}

	switch pt {
	case msgs.PacketRequest:
		h.receiveRequest(remote, data)

	case msgs.PacketUnconnected:
		h.getListener().OnHostReceiveUnconnected(remote, codec.NewReader(data))

	case msgs.PacketBroadcast:
		h.getListener().OnHostReceiveBroadcast(remote, codec.NewReader(data))
	}
}

func (h *Host) receiveRequest(remote netip.AddrPort, data []byte) {
	var hs msgs.Handshake
	if err := hs.Read(codec.NewReader(data)); err != nil {
		h.exception(remote, newFormatError(remote, err, "bad connection request"))
		return
	}

	request := newConnectionRequest(h, remote, hs.Key, hs.Data)

	// Requests are resent until accepted; an existing Peer answers them on its own.
	if peer := h.FindPeer(remote); peer != nil {
		_ = peer.accept(request)
		request.dispose()
		return
	}

	defer request.dispose()

	h.log().WithField("remote", remote).Debug("Host received a connection request")
	h.getListener().OnHostReceiveRequest(request, codec.NewReader(hs.Payload))
}

// verify strips the CRC of the data following a packet's header, checking it if CRC32 is enabled.
func (h *Host) verify(remote netip.AddrPort, data []byte, pf msgs.PacketFlags) ([]byte, error) {
	if !pf.Has(msgs.PacketVerified) {
		return data, nil
	}

	r := codec.NewReader(data)
	expected, err := r.ReadUint32()
	if err != nil {
		return nil, newFormatError(remote, err, "packet is too short for its CRC")
	}

	rest := r.ReadRemaining()
	if h.conf.CRC32 {
		if actual := crc32.ChecksumIEEE(rest); actual != expected {
			return nil, newFormatError(remote, nil, "CRC mismatch, expected %08x, got %08x", expected, actual)
		}
	}
	return rest, nil
}

// decompress data into a rented buffer, which must be returned by the caller.
func (h *Host) decompress(remote netip.AddrPort, data []byte) (decompressed, rented []byte, err error) {
	rented = h.allocator.MustRent(min(4*len(data)+64, compress.MaxDecompressedLength))
	if decompressed, err = h.compressor.Decompress(rented[:0], data); err != nil {
		h.allocator.Return(rented)
		return nil, nil, newFormatError(remote, err, "decompressing packet")
	}
	return decompressed, rented, nil
}

// writePacket writes an unfragmented packet, compressed if this makes it smaller.
func (h *Host) writePacket(w *codec.Writer, pt msgs.PacketType, payload codec.Writable) error {
	var flags msgs.PacketFlags

	w.WriteUint8(0)
	if h.conf.CRC32 {
		w.Skip(msgs.PacketCRCLength)
		flags |= msgs.PacketVerified
	}

	start := w.Len()
	if payload != nil {
		w.WriteWritable(payload)
	}

	if h.conf.Compression && w.Len() > start {
		data := w.Bytes()[start:]

		buf := h.allocator.MustRent(len(data))
		defer h.allocator.Return(buf)

		compressed, err := h.compressor.Compress(buf[:0], data)
		if err != nil {
			return fmt.Errorf("compressing packet: %w", err)
		}
		if len(compressed) < len(data) {
			w.Reset(start)
			w.WriteBytes(compressed)
			flags |= msgs.PacketCompressed
		}
	}

	packet := w.Bytes()
	if h.conf.CRC32 {
		w.PutUint32At(msgs.PacketHeaderLength, crc32.ChecksumIEEE(packet[msgs.PacketHeaderLength+msgs.PacketCRCLength:]))
	}
	packet[0] = msgs.PacketHeader(pt, flags)

	return nil
}

func (h *Host) sendPacket(pt msgs.PacketType, remote netip.AddrPort, payload codec.Writable) error {
	buf := h.allocator.MustRent(h.conf.ReceiveMTU)
	defer h.allocator.Return(buf)

	w := codec.NewWriter(buf)
	if err := h.writePacket(w, pt, payload); err != nil {
		return err
	}

	_, err := h.sendSocket(remote, w.Bytes())
	return err
}

// sendSocket writes a datagram, passing it through the simulator first.
func (h *Host) sendSocket(remote netip.AddrPort, packet []byte) (int, error) {
	if !h.simulator.outgoing(h.ctx) {
		return len(packet), nil
	}

	target := remote
	if h.ipv6 {
		target = netip.AddrPortFrom(netip.AddrFrom16(remote.Addr().As16()), remote.Port())
	} else {
		target = normalize(remote)
	}

	n, err := h.conn.WriteToUDPAddrPort(packet, target)
	if err != nil {
		return n, &SocketError{Op: "send", Remote: remote, Cause: err}
	}

	h.statistics.SocketSendTicks.Store(h.Ticks())
	h.statistics.SocketSendBytes.Add(int64(n))
	h.statistics.SocketSendCount.Add(1)

	return n, nil
}
