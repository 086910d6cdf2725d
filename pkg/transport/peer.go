// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rudp-go/pkg/codec"
	"github.com/dtn7/rudp-go/pkg/crypto"
	"github.com/dtn7/rudp-go/pkg/transport/internal/fragment"
	"github.com/dtn7/rudp-go/pkg/transport/internal/sequence"
	"github.com/dtn7/rudp-go/pkg/transport/internal/window"
)

type reliableKey struct {
	channel  uint8
	sequence uint16
}

// Peer is the connection to a single remote address, owned by its Host.
type Peer struct {
	host   *Host
	remote netip.AddrPort
	conf   PeerConfig

	statistics PeerStatistics
	timing     timing

	listenerMutex sync.RWMutex
	listener      PeerListener

	state       atomic.Int32
	closing     atomic.Bool
	terminating atomic.Bool
	notified    atomic.Bool

	ctx         context.Context
	cancel      context.CancelFunc
	disposeOnce sync.Once
	errMutex    sync.Mutex
	err         error

	connectMutex  sync.Mutex
	connectStop   chan struct{}
	exchanger     crypto.Exchanger
	encryptor     crypto.Encryptor
	random        []byte
	pingerStarted atomic.Bool

	sendSequences    sequence.Counters
	receiveSequences sequence.Counters
	unsequenced      *sequence.Unsequenced
	fragmentSequence atomic.Uint32

	unique    *window.Window
	fragments *fragment.Table

	orderedMutex    sync.Mutex
	orderedDeliver  [sequence.Channels]sync.Mutex
	orderedSequence [sequence.Channels]uint16
	orderedSignal   [sequence.Channels]chan struct{}

	reliablesMutex sync.Mutex
	reliables      map[reliableKey]*MessageSent

	flushMutex    sync.Mutex
	flushBatch    *flushBatch
	flushSendDone chan struct{}
}

func newPeer(host *Host, remote netip.AddrPort, conf PeerConfig, listener PeerListener) (*Peer, error) {
	if listener == nil {
		listener = &PeerEvents{}
	}

	unique, err := window.New(window.DefaultSize, conf.DuplicateTimeout, host.clock)
	if err != nil {
		return nil, err
	}

	// A closed channel stands for the send phase of a previous, non-existing flush.
	sendDone := make(chan struct{})
	close(sendDone)

	ctx, cancel := context.WithCancel(host.ctx)

	p := &Peer{
		host:          host,
		remote:        remote,
		conf:          conf,
		listener:      listener,
		ctx:           ctx,
		cancel:        cancel,
		unsequenced:   sequence.NewUnsequenced(conf.UnsequencedMax),
		unique:        unique,
		fragments:     fragment.NewTable(conf.FragmentTimeout, host.clock, host.allocator),
		reliables:     make(map[reliableKey]*MessageSent),
		flushSendDone: sendDone,
	}
	p.timing.stability = conf.TimeStability
	p.state.Store(int32(StateConnecting))

	return p, nil
}

func (p *Peer) String() string {
	return fmt.Sprintf("peer(%v, %v)", p.remote, p.State())
}

func (p *Peer) log() *log.Entry {
	return log.WithFields(log.Fields{
		"host": p.host.local,
		"peer": p.remote,
	})
}

// Host owning this Peer.
func (p *Peer) Host() *Host {
	return p.host
}

// Remote address of this Peer.
func (p *Peer) Remote() netip.AddrPort {
	return p.remote
}

// Config of this Peer.
func (p *Peer) Config() PeerConfig {
	return p.conf
}

// Statistics of this Peer.
func (p *Peer) Statistics() *PeerStatistics {
	return &p.statistics
}

// State of this Peer.
func (p *Peer) State() State {
	return State(p.state.Load())
}

// Connected reports if this Peer is connected and not disconnecting.
func (p *Peer) Connected() bool {
	return p.State() == StateConnected && !p.closing.Load()
}

// Connecting reports if this Peer still waits for the handshake's completion.
func (p *Peer) Connecting() bool {
	return p.State() == StateConnecting
}

// Disposed reports if this Peer was disposed.
func (p *Peer) Disposed() bool {
	return p.State() == StateDisposed
}

// RTT is the latest measured round trip time in milliseconds.
func (p *Peer) RTT() uint16 {
	return p.timing.RTT()
}

// TimeDelta returns the latest and the averaged clock difference in milliseconds between this Host and the remote,
// modulo 2^16.
func (p *Peer) TimeDelta() (last uint16, average float64) {
	return p.timing.Delta()
}

// Done is closed after this Peer was disposed.
func (p *Peer) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Err returns a *DisconnectError after this Peer was disposed and nil before.
func (p *Peer) Err() error {
	p.errMutex.Lock()
	defer p.errMutex.Unlock()

	return p.err
}

// SetListener replaces the PeerListener and returns the previous one.
func (p *Peer) SetListener(listener PeerListener) PeerListener {
	if listener == nil {
		listener = &PeerEvents{}
	}

	p.listenerMutex.Lock()
	defer p.listenerMutex.Unlock()

	prev := p.listener
	p.listener = listener
	return prev
}

func (p *Peer) getListener() PeerListener {
	p.listenerMutex.RLock()
	defer p.listenerMutex.RUnlock()

	return p.listener
}

// Close disposes this Peer immediately without informing the remote peer.
func (p *Peer) Close() {
	p.disconnect(nil, Disposed, nil)
}

// connected switches from StateConnecting to StateConnected and informs the listener.
func (p *Peer) connected() {
	if p.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		p.log().Info("Peer connected")
		p.getListener().OnPeerConnect(p)
	}
}

// exception reports an error which does not end the connection.
func (p *Peer) exception(err error) {
	if p.Disposed() {
		return
	}

	p.log().WithError(err).Debug("Peer exception")
	p.getListener().OnPeerException(p, err)
}

// fail ends the connection after an error of one of the Peer's goroutines. Errors caused by the disposal itself are
// ignored.
func (p *Peer) fail(err error) {
	switch {
	case err == nil, errors.Is(err, ErrDisposed):
	case errors.Is(err, errResendExhausted):
		p.disconnect(nil, Timeout, nil)
	default:
		p.disconnect(nil, Exception, err)
	}
}

// disconnect informs the listener exactly once and disposes this Peer.
func (p *Peer) disconnect(reader *codec.Reader, reason DisconnectReason, err error) {
	if p.notified.CompareAndSwap(false, true) {
		p.errMutex.Lock()
		p.err = &DisconnectError{Reason: reason, Cause: err}
		p.errMutex.Unlock()

		entry := p.log().WithField("reason", reason)
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Info("Peer disconnected")

		p.getListener().OnPeerDisconnect(p, reader, reason, err)
	}

	p.dispose()
}

func (p *Peer) dispose() {
	p.disposeOnce.Do(func() {
		p.state.Store(int32(StateDisposed))
		p.cancel()

		p.host.removePeer(p)

		p.connectMutex.Lock()
		if p.connectStop != nil {
			close(p.connectStop)
			p.connectStop = nil
		}
		p.exchanger = nil
		p.encryptor = nil
		p.random = nil
		p.connectMutex.Unlock()

		p.reliablesMutex.Lock()
		for key, msg := range p.reliables {
			msg.StopResending()
			delete(p.reliables, key)
		}
		p.reliablesMutex.Unlock()

		p.orderedMutex.Lock()
		for ch, signal := range p.orderedSignal {
			if signal != nil {
				close(signal)
				p.orderedSignal[ch] = nil
			}
		}
		p.orderedMutex.Unlock()

		p.fragments.Close()
		p.unique.Purge()
	})
}

// sleep for the given duration or until the Peer is disposed.
func (p *Peer) sleep(d time.Duration) error {
	_, err := p.wait(d, nil)
	return err
}

// wait for the given duration, until the signal channel is closed or until the Peer is disposed. An early signal is
// reported as signaled, the disposal as ErrDisposed.
func (p *Peer) wait(d time.Duration, signal <-chan struct{}) (signaled bool, err error) {
	select {
	case <-p.ctx.Done():
		return false, ErrDisposed
	default:
	}

	if d <= 0 {
		select {
		case <-signal:
			return true, nil
		default:
			return false, nil
		}
	}

	timer := p.host.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-p.ctx.Done():
		return false, ErrDisposed
	case <-signal:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

// Encrypted reports if the connected packets are encrypted.
func (p *Peer) Encrypted() bool {
	return p.getEncryptor() != nil
}

func (p *Peer) getEncryptor() crypto.Encryptor {
	p.connectMutex.Lock()
	defer p.connectMutex.Unlock()

	return p.encryptor
}
