// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"errors"
	"fmt"

	"github.com/dtn7/rudp-go/pkg/codec"
	"github.com/dtn7/rudp-go/pkg/transport/internal/msgs"
	"github.com/dtn7/rudp-go/pkg/transport/internal/sequence"
)

// receive a packet from the remote address, which the Host already classified as connected, accept or reject packet.
// The packet is only valid during the call.
func (p *Peer) receive(packet []byte) {
	if p.Disposed() || len(packet) < msgs.PacketHeaderLength {
		return
	}

	p.statistics.PacketReceiveTicks.Store(p.host.Ticks())
	p.statistics.PacketReceiveBytes.Add(int64(len(packet)))
	p.statistics.PacketReceiveCount.Add(1)

	pt, pf := msgs.ParsePacketHeader(packet[0])
	switch pt {
	case msgs.PacketConnected, msgs.PacketAccept, msgs.PacketReject:
	default:
		p.exception(newFormatError(p.remote, nil, "unexpected %v packet", pt))
		return
	}

	data, err := p.host.verify(p.remote, packet[msgs.PacketHeaderLength:], pf)
	if err != nil {
		p.exception(err)
		return
	}

	var sent uint16
	timed := pf.Has(msgs.PacketTimed)
	if timed {
		r := codec.NewReader(data)
		if sent, err = r.ReadUint16(); err != nil {
			p.exception(newFormatError(p.remote, err, "%v packet is too short for its ticks", pt))
			return
		}
		data = r.ReadRemaining()
	}

	if pf.Has(msgs.PacketFragmented) {
		r := codec.NewReader(data)

		var header msgs.FragmentHeader
		if err := header.Read(r); err != nil {
			p.exception(newFormatError(p.remote, err, "bad fragment header"))
			return
		}

		payload, err := p.fragments.Add(header, r.ReadRemaining())
		if err != nil {
			p.exception(newFormatError(p.remote, err, "bad fragment"))
			return
		} else if payload == nil {
			return
		}
		defer p.host.allocator.Return(payload)

		data = payload
	}

	if pt == msgs.PacketConnected {
		if enc := p.getEncryptor(); enc != nil {
			buf := p.host.allocator.MustRent(len(data))
			defer p.host.allocator.Return(buf)

			if data, err = enc.Decrypt(buf[:0], data); err != nil {
				p.exception(newFormatError(p.remote, err, "decrypting packet"))
				return
			}
		}
	}

	if pf.Has(msgs.PacketCompressed) {
		decompressed, buf, err := p.host.decompress(p.remote, data)
		if err != nil {
			p.exception(err)
			return
		}
		defer p.host.allocator.Return(buf)

		data = decompressed
	}

	switch pt {
	case msgs.PacketConnected:
		if !pf.Has(msgs.PacketCombined) {
			if err := p.receiveConnected(data, sent, timed); err != nil {
				p.exception(err)
			}
			return
		}

		r := codec.NewReader(data)
		for r.Len() > 0 {
			length, err := r.ReadUint32()
			if err != nil {
				p.exception(newFormatError(p.remote, err, "combined packet is too short for a message length"))
				return
			} else if length == 0 || int(length) > r.Len() {
				p.exception(newFormatError(p.remote, nil,
					"combined packet has a message of length %d with %d bytes left", length, r.Len()))
				return
			}

			message, _ := r.ReadBytes(int(length))
			if err := p.receiveConnected(message, sent, timed); err != nil {
				p.exception(err)
			}
		}

	case msgs.PacketAccept:
		p.receiveAccept(data)

	case msgs.PacketReject:
		p.receiveReject(data)
	}
}

// receiveConnected handles a single message of a connected packet.
func (p *Peer) receiveConnected(message []byte, sent uint16, timed bool) error {
	p.statistics.MessageReceiveBytes.Add(int64(len(message)))

	r := codec.NewReader(message)

	var header msgs.MessageHeader
	if err := header.Read(r); err != nil {
		return newFormatError(p.remote, err, "bad message")
	}
	payload := r.ReadRemaining()

	isAck := header.Type == msgs.MessageAcknowledge
	sequenced := header.Flags.Has(msgs.MessageSequenced)
	reliable := header.Flags.Has(msgs.MessageReliable)

	unique := true
	if header.Flags.Has(msgs.MessageUnique) && !isAck && p.conf.DuplicateTimeout > 0 {
		if !sequenced {
			return newFormatError(p.remote, nil, "unique %v without sequence", header)
		}
		unique = p.unique.Add(header.Channel, header.Sequence)
	}

	p.statistics.MessageReceiveTotal.Add(1)
	if reliable {
		p.statistics.MessageReceiveReliable.Add(1)
	} else {
		p.statistics.MessageReceiveUnreliable.Add(1)
	}
	if !unique {
		p.statistics.MessageReceiveDuplicated.Add(1)
	}
	switch header.Type {
	case msgs.MessageAcknowledge:
		p.statistics.MessageReceiveAcknowledge.Add(1)
	case msgs.MessagePing:
		p.statistics.MessageReceivePing.Add(1)
	}

	if !isAck && sequenced && unique {
		if lost := p.receiveSequences.Track(header.Channel, header.Sequence); lost != 0 {
			p.statistics.MessageReceiveLost.Add(int64(lost))
		}
	}

	now := p.host.Ticks()
	info := MessageReceived{
		Channel:   header.Channel,
		Sequence:  header.Sequence,
		Attempt:   header.Attempt,
		Timestamp: p.host.timeOf(p.timing.localTicks(now, header.Ticks, header.Flags.Has(msgs.MessageTimed))),
		header:    header,
		sent:      sent,
		sentTimed: timed,
	}

	if reliable {
		if !sequenced {
			return newProtocolError(p.remote, nil, "reliable %v without sequence", header)
		}
		p.acknowledge(header, now)
	}

	switch header.Type {
	case msgs.MessageCustom:
		if !unique {
			return nil
		}
		if header.Flags.Has(msgs.MessageOrdered) {
			return p.receiveOrdered(payload, info)
		}
		p.deliver(payload, info)

	case msgs.MessageAcknowledge:
		if !sequenced {
			return newFormatError(p.remote, nil, "acknowledgement without sequence")
		}
		p.receiveAcknowledge(header, payload, sent, timed, now)

	case msgs.MessageDisconnect:
		if p.terminating.CompareAndSwap(false, true) {
			p.closing.Store(true)

			data := append([]byte(nil), payload...)
			go func() {
				if err := p.sleep(p.conf.DisconnectDelay); err != nil {
					return
				}
				p.disconnect(codec.NewReader(data), Terminated, nil)
			}()
		}

	case msgs.MessagePing:
	}

	return nil
}

// acknowledge a reliable message, echoing its attempt in the acknowledgement's payload.
func (p *Peer) acknowledge(header msgs.MessageHeader, now int64) {
	ack := newMessageSent(nil, codec.Bytes{header.Attempt}, msgs.MessageAcknowledge,
		msgs.MessageTimed|msgs.MessageSequenced|msgs.MessageChanneled,
		header.Channel, header.Sequence, p.host.timeOf(now), uint16(now))

	go func() {
		if err := p.sendUnreliable(ack); err != nil && !errors.Is(err, ErrDisposed) {
			p.exception(err)
		}
	}()
}

// receiveAcknowledge stops resending the acknowledged message. Acknowledged pings update the timing.
func (p *Peer) receiveAcknowledge(header msgs.MessageHeader, payload []byte, sent uint16, timed bool, now int64) {
	var attempt uint8
	if len(payload) > 0 {
		attempt = payload[0]
	}

	key := reliableKey{channel: header.Channel, sequence: header.Sequence}

	p.reliablesMutex.Lock()
	msg, ok := p.reliables[key]
	if ok {
		delete(p.reliables, key)
	}
	p.reliablesMutex.Unlock()

	if !ok {
		return
	}

	msg.StopResending()

	if msg.typ == msgs.MessagePing && header.Flags.Has(msgs.MessageTimed) && timed {
		if timestamp, ok := msg.timestampOf(attempt); ok {
			process := int64(sent - header.Ticks)
			rtt := now - p.host.ticksOf(timestamp)

			if rtt >= 0 && rtt >= process && rtt < 65535 {
				rtt -= process
				delta := uint16(now) - (sent + uint16(rtt/2))

				p.timing.update(now, delta, rtt)
				p.getListener().OnPeerUpdateRTT(p, uint16(rtt))
			}
		}
	}

	msg.onAcknowledge(p)
}

func (p *Peer) deliver(payload []byte, info MessageReceived) {
	p.getListener().OnPeerReceive(p, codec.NewReader(payload), info)
}

// receiveOrdered delivers an ordered message right away or delays it until the missing messages arrived.
func (p *Peer) receiveOrdered(payload []byte, info MessageReceived) error {
	if !info.Sequenced() {
		return newFormatError(p.remote, nil, "ordered %v without sequence", info.header)
	}

	delayable := p.conf.OrderedDelayMax > 0 && p.conf.OrderedDelayTimeout > 0
	signal := p.receiveOrderedOnce(payload, info, delayable)
	if signal == nil {
		return nil
	}

	data := p.host.allocator.MustRent(len(payload))
	copy(data, payload)
	go p.receiveDelayed(signal, data, info)

	return nil
}

// receiveOrderedOnce delivers or drops an ordered message, or returns a signal to wait for before retrying. The
// signal is closed once the channel's ordered sequence advanced.
//
// Deliveries of a channel are serialized by its orderedDeliver mutex, which is never held by dispose. Thus, the
// listener might dispose the Peer while receiving.
func (p *Peer) receiveOrderedOnce(payload []byte, info MessageReceived, delayable bool) <-chan struct{} {
	deliverMutex := &p.orderedDeliver[info.Channel]
	deliverMutex.Lock()
	defer deliverMutex.Unlock()

	signal, process := p.advanceOrdered(info, delayable)
	if process {
		p.deliver(payload, info)
	}
	return signal
}

// advanceOrdered decides about an ordered message and updates the channel's ordered sequence.
func (p *Peer) advanceOrdered(info MessageReceived, delayable bool) (signal <-chan struct{}, process bool) {
	p.orderedMutex.Lock()
	defer p.orderedMutex.Unlock()

	if p.Disposed() {
		return nil, false
	}

	ch := info.Channel
	reliable := info.Reliable()
	expected := p.orderedSequence[ch] + 1

	update := false
	switch dist := sequence.Distance(expected, info.Sequence); {
	case dist == 0:
		process, update = true, true

	case dist > 0:
		if reliable && delayable {
			if p.orderedSignal[ch] == nil {
				p.orderedSignal[ch] = make(chan struct{})
			}
			return p.orderedSignal[ch], false
		}
		// Missing messages are given up on.
		process, update = true, true

	default:
		// Late messages, previously assumed as lost.
		process = reliable
	}

	if update {
		p.orderedSequence[ch] = info.Sequence
		if p.orderedSignal[ch] != nil {
			close(p.orderedSignal[ch])
			p.orderedSignal[ch] = nil
		}
	}
	return nil, process
}

// receiveDelayed retries to deliver a delayed ordered message each time its channel advances, up to OrderedDelayMax
// times or until OrderedDelayTimeout passed. Afterwards it is delivered anyway.
func (p *Peer) receiveDelayed(signal <-chan struct{}, payload []byte, info MessageReceived) {
	defer p.host.allocator.Return(payload)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("delivering delayed message panicked: %v", r)
			if p.Connected() && info.Reliable() {
				// The message was acknowledged, but never delivered.
				p.disconnect(nil, Exception, err)
			} else {
				p.exception(err)
			}
		}
	}()

	deadline := p.host.Now().Add(p.conf.OrderedDelayTimeout)
	for i := 0; i < p.conf.OrderedDelayMax; i++ {
		signaled, err := p.wait(deadline.Sub(p.host.Now()), signal)
		if err != nil {
			return
		} else if !signaled {
			break
		}

		if signal = p.receiveOrderedOnce(payload, info, true); signal == nil {
			return
		}
	}

	p.receiveOrderedOnce(payload, info, false)
}
