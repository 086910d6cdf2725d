// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"

	"github.com/dtn7/rudp-go/pkg/codec"
	"github.com/dtn7/rudp-go/pkg/crypto"
	"github.com/dtn7/rudp-go/pkg/transport/internal/msgs"
)

// connect starts sending connection requests, carrying the optional payload. Without an accept or reject after
// ConnectAttempts requests, the Peer disconnects with Timeout.
func (p *Peer) connect(payload codec.Writable) error {
	if p.Disposed() {
		return ErrDisposed
	} else if p.State() == StateConnected {
		return nil
	}

	var payloadData []byte
	if payload != nil {
		w := codec.NewWriter(nil)
		payload.Write(w)
		payloadData = w.Bytes()
	}

	p.connectMutex.Lock()
	defer p.connectMutex.Unlock()

	if p.exchanger == nil && p.host.conf.Encryption {
		exchanger, err := p.host.exchanger()
		if err != nil {
			return fmt.Errorf("creating key exchange: %w", err)
		}
		p.exchanger = exchanger
	}

	if p.random == nil && p.conf.RemotePublicKey != "" {
		random, err := crypto.RandomBytes(p.host.authenticator.SignatureLength())
		if err != nil {
			return fmt.Errorf("creating random challenge: %w", err)
		}
		p.random = random
	}

	hs := msgs.Handshake{Data: p.random, Payload: payloadData}
	if p.exchanger != nil {
		hs.Key = p.exchanger.PublicKey()
	}

	w := codec.NewWriter(nil)
	if err := p.host.writePacket(w, msgs.PacketRequest, hs); err != nil {
		return err
	}

	if p.connectStop != nil {
		close(p.connectStop)
	}
	stop := make(chan struct{})
	p.connectStop = stop

	p.log().WithField("request", hs).Debug("Peer starts connecting")

	go p.connectLoop(w.Bytes(), stop)
	return nil
}

func (p *Peer) connectLoop(packet []byte, stop <-chan struct{}) {
	for attempt := 0; attempt < p.conf.ConnectAttempts; attempt++ {
		if _, err := p.host.sendSocket(p.remote, packet); err != nil {
			p.exception(err)
		}

		if stopped, err := p.wait(p.conf.ConnectDelay, stop); err != nil || stopped {
			return
		}
	}

	if p.Connecting() {
		p.disconnect(nil, Timeout, nil)
	}
}

func (p *Peer) stopConnecting() {
	p.connectMutex.Lock()
	defer p.connectMutex.Unlock()

	if p.connectStop != nil {
		close(p.connectStop)
		p.connectStop = nil
	}
}

// accept a connection request by answering with an accept packet, completing the key exchange and signing the
// remote's challenge.
func (p *Peer) accept(req *ConnectionRequest) error {
	if p.Disposed() {
		return ErrDisposed
	}

	// Requests are unauthenticated; once connected traffic arrived, a request might be spoofed.
	if p.statistics.MessageReceiveTotal.Load() > 0 {
		err := newProtocolError(p.remote, nil, "connection request after connected messages were received")
		p.exception(err)
		return err
	}

	p.stopConnecting()

	hs, err := p.acceptHandshake(req)
	if err != nil {
		p.acceptFailed(err)
		return err
	}

	w := codec.NewWriter(nil)
	if err := p.host.writePacket(w, msgs.PacketAccept, hs); err != nil {
		p.acceptFailed(err)
		return err
	}
	packet := w.Bytes()

	go func() {
		if _, err := p.host.sendSocket(p.remote, packet); err != nil {
			p.acceptFailed(err)
			return
		}

		p.startPinger()
		p.connected()
	}()

	return nil
}

func (p *Peer) acceptHandshake(req *ConnectionRequest) (hs msgs.Handshake, err error) {
	p.connectMutex.Lock()
	defer p.connectMutex.Unlock()

	if len(req.key) > 0 {
		if p.exchanger == nil {
			if p.exchanger, err = p.host.exchanger(); err != nil {
				return hs, fmt.Errorf("creating key exchange: %w", err)
			}
		}
		if p.encryptor == nil {
			if p.encryptor, err = p.exchanger.DeriveEncryptor(req.key); err != nil {
				return hs, fmt.Errorf("deriving encryption: %w", err)
			}
		}
		hs.Key = p.exchanger.PublicKey()
	}

	if len(req.random) > 0 {
		if hs.Data, err = p.host.authenticator.Sign(req.random); err != nil {
			return hs, fmt.Errorf("signing challenge: %w", err)
		}
	}

	return hs, nil
}

func (p *Peer) acceptFailed(err error) {
	if p.State() == StateConnected {
		p.exception(err)
	} else {
		p.disconnect(nil, Exception, err)
	}
}

// receiveAccept completes the handshake on the connecting side.
func (p *Peer) receiveAccept(data []byte) {
	if p.State() == StateConnected {
		p.exception(newProtocolError(p.remote, nil, "accept packet while being connected"))
		return
	}

	var hs msgs.Handshake
	if err := hs.Read(codec.NewReader(data)); err != nil {
		p.exception(newFormatError(p.remote, err, "bad accept packet"))
		return
	}

	encryption := p.host.conf.Encryption
	signatureLength := p.host.authenticator.SignatureLength()

	switch {
	case encryption && len(hs.Key) == 0:
		p.exception(newFormatError(p.remote, nil, "accept packet without exchange key"))
		return
	case encryption && len(hs.Key) != p.host.keyLength:
		p.exception(newFormatError(p.remote, nil, "accept packet with exchange key of %d bytes instead of %d",
			len(hs.Key), p.host.keyLength))
		return
	case !encryption && len(hs.Key) > 0:
		p.exception(newFormatError(p.remote, nil, "accept packet with exchange key while encryption is disabled"))
		return
	case len(hs.Data) > 0 && len(hs.Data) != signatureLength:
		p.exception(newFormatError(p.remote, nil, "accept packet with signature of %d bytes instead of %d",
			len(hs.Data), signatureLength))
		return
	case len(hs.Data) > 0 && p.conf.RemotePublicKey == "":
		p.exception(newFormatError(p.remote, nil, "signed accept packet without a remote public key"))
		return
	}

	p.connectMutex.Lock()
	random, exchanger := p.random, p.exchanger
	p.connectMutex.Unlock()

	if random != nil && !p.host.authenticator.Verify(random, hs.Data, p.conf.RemotePublicKey) {
		p.disconnect(nil, BadSignature, newProtocolError(p.remote, nil, "signature verification failed"))
		return
	}

	if encryption {
		if exchanger == nil {
			p.disconnect(nil, Exception, newProtocolError(p.remote, nil, "accept packet without a key exchange"))
			return
		}

		encryptor, err := exchanger.DeriveEncryptor(hs.Key)
		if err != nil {
			p.disconnect(nil, Exception, fmt.Errorf("deriving encryption: %w", err))
			return
		}

		p.connectMutex.Lock()
		p.encryptor = encryptor
		p.connectMutex.Unlock()
	}

	p.stopConnecting()
	p.startPinger()
	p.connected()
}

// receiveReject ends a connection attempt, passing the reject's payload to the listener.
func (p *Peer) receiveReject(data []byte) {
	if p.State() == StateConnected {
		p.exception(newProtocolError(p.remote, nil, "reject packet while being connected"))
		return
	}

	p.stopConnecting()
	p.disconnect(codec.NewReader(data), Rejected, nil)
}
