// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/dtn7/rudp-go/pkg/codec"
	"github.com/dtn7/rudp-go/pkg/transport/internal/fragment"
	"github.com/dtn7/rudp-go/pkg/transport/internal/msgs"
)

// flushBatch collects the messages of one flush cycle. Each message is prefixed by its four byte length, which is
// stripped again if the batch holds only one message.
type flushBatch struct {
	buf    []byte
	writer *codec.Writer
	count  int
	timed  bool

	// delayDone is closed after the batch was taken for sending; sendDone after it was sent and err is set.
	delayDone chan struct{}
	sendDone  chan struct{}
	err       error
}

// Send a message to the remote peer. Sending happens in the background; the returned MessageSent allows to follow
// its progress.
func (p *Peer) Send(message Message, listener MessageListener) (*MessageSent, error) {
	if p.Disposed() {
		return nil, ErrDisposed
	} else if !p.Connected() {
		return nil, ErrNotConnected
	}

	flags := message.flags()
	seq := p.sendSequences.Next(message.Channel)
	if p.unsequenced.Next(message.Channel, message.Reliable || message.Ordered || message.Unique) {
		flags |= msgs.MessageSequenced
	}

	timestamp := message.Timestamp
	if timestamp.IsZero() {
		timestamp = p.host.Now()
	}

	msg := newMessageSent(listener, message.Payload, msgs.MessageCustom, flags, message.Channel, seq,
		timestamp, uint16(p.host.ticksOf(timestamp)))

	if message.Reliable {
		go func() {
			if err := p.sendReliable(msg, true); errors.Is(err, ErrNotConnected) {
				p.exception(err)
			} else {
				p.fail(err)
			}
		}()
	} else {
		go func() {
			if err := p.sendUnreliable(msg); err != nil && !errors.Is(err, ErrDisposed) {
				p.exception(err)
			}
		}()
	}

	return msg, nil
}

// Disconnect gracefully by sending a disconnect message, which carries the optional payload, and waiting for its
// acknowledgement. Afterwards the Peer is disposed with reason Disconnected. If the context ends first, the Peer is
// disposed immediately.
func (p *Peer) Disconnect(ctx context.Context, payload codec.Writable) error {
	if p.Disposed() {
		return ErrDisposed
	}

	if !p.closing.CompareAndSwap(false, true) {
		select {
		case <-p.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.stopConnecting()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.disconnectGracefully(payload)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.disconnect(nil, Disconnected, nil)
		return ctx.Err()
	}
}

func (p *Peer) disconnectGracefully(payload codec.Writable) {
	if p.State() == StateConnected {
		now := p.host.Now()
		msg := newMessageSent(nil, payload, msgs.MessageDisconnect, msgs.MessageSequenced|msgs.MessageReliable,
			channelDisconnect, p.sendSequences.Next(channelDisconnect), now, uint16(p.host.ticksOf(now)))

		if err := p.sendReliable(msg, false); err != nil && !errors.Is(err, errResendExhausted) {
			if !errors.Is(err, ErrDisposed) {
				p.disconnect(nil, Exception, err)
			}
			return
		}
	}

	if err := p.sleep(p.conf.DisconnectDelay); err != nil {
		return
	}

	p.flushMutex.Lock()
	sendDone := p.flushSendDone
	p.flushMutex.Unlock()

	select {
	case <-sendDone:
	case <-p.ctx.Done():
	}

	p.disconnect(nil, Disconnected, nil)
}

func (p *Peer) startPinger() {
	if p.pingerStarted.CompareAndSwap(false, true) {
		go p.pinger()
	}
}

// pinger sends a reliable ping after each PingDelay. Its acknowledgement updates the round trip time.
func (p *Peer) pinger() {
	if err := p.sleep(p.conf.ConnectDelay); err != nil {
		return
	}

	for !p.closing.Load() {
		now := p.host.Now()
		ping := newMessageSent(nil, nil, msgs.MessagePing,
			msgs.MessageTimed|msgs.MessageSequenced|msgs.MessageReliable,
			channelPinger, p.sendSequences.Next(channelPinger), now, uint16(p.host.ticksOf(now)))

		if err := p.sendReliable(ping, false); err != nil {
			p.fail(err)
			return
		}

		if err := p.sleep(p.conf.PingDelay); err != nil {
			return
		}
	}
}

func (p *Peer) resendDelay() time.Duration {
	delay := p.conf.ResendDelayMax
	if rtt := time.Duration(p.timing.RTT()) * time.Millisecond; rtt > 0 {
		delay = rtt + p.conf.ResendDelayJitter
	}

	if delay < p.conf.ResendDelayMin {
		delay = p.conf.ResendDelayMin
	} else if delay > p.conf.ResendDelayMax {
		delay = p.conf.ResendDelayMax
	}
	return delay
}

// sendReliable sends a message up to ResendCount times until it is acknowledged or StopResending is called. If no
// acknowledgement arrives, errResendExhausted is returned.
func (p *Peer) sendReliable(msg *MessageSent, validate bool) error {
	if validate {
		if p.Disposed() {
			return ErrDisposed
		} else if !p.Connected() {
			return ErrNotConnected
		}
	}

	key := reliableKey{channel: msg.Channel, sequence: msg.Sequence}

	p.reliablesMutex.Lock()
	if p.Disposed() {
		p.reliablesMutex.Unlock()
		return ErrDisposed
	}
	p.reliables[key] = msg
	p.reliablesMutex.Unlock()

	defer func() {
		p.reliablesMutex.Lock()
		if current, ok := p.reliables[key]; ok && current == msg {
			delete(p.reliables, key)
		}
		p.reliablesMutex.Unlock()
	}()

	for attempt := 0; attempt < p.conf.ResendCount; attempt++ {
		batch, err := p.enqueue(msg, uint8(attempt))
		if err != nil {
			return err
		}

		<-batch.delayDone
		msg.onSend(p, uint8(attempt), p.host.Now())

		<-batch.sendDone
		if batch.err != nil {
			return batch.err
		}

		if stopped, err := p.wait(p.resendDelay(), msg.stop); err != nil {
			return err
		} else if stopped {
			return nil
		}
	}

	msg.StopResending()
	return errResendExhausted
}

// sendUnreliable sends a message once.
func (p *Peer) sendUnreliable(msg *MessageSent) error {
	batch, err := p.enqueue(msg, 0)
	if err != nil {
		return err
	}

	<-batch.delayDone
	msg.onSend(p, 0, p.host.Now())

	<-batch.sendDone
	return batch.err
}

// enqueue writes a message into the current flush batch, starting a new flush cycle if there is none.
func (p *Peer) enqueue(msg *MessageSent, attempt uint8) (*flushBatch, error) {
	header := msgs.MessageHeader{
		Type:     msg.typ,
		Flags:    msg.flags,
		Ticks:    msg.ticks,
		Sequence: msg.Sequence,
		Attempt:  attempt,
		Channel:  msg.Channel,
	}

	p.flushMutex.Lock()
	defer p.flushMutex.Unlock()

	if p.Disposed() {
		return nil, ErrDisposed
	}

	batch := p.flushBatch
	if batch == nil {
		batch = &flushBatch{
			buf:       p.host.allocator.MustRent(p.conf.MTU),
			delayDone: make(chan struct{}),
			sendDone:  make(chan struct{}),
		}
		batch.writer = codec.NewWriter(batch.buf)

		prev := p.flushSendDone
		p.flushBatch = batch
		p.flushSendDone = batch.sendDone

		go p.flush(batch, prev)
	}

	w := batch.writer
	start := w.Len()
	w.Skip(4)
	header.Write(w)
	if msg.Payload != nil {
		w.WriteWritable(msg.Payload)
	}
	length := w.Len() - start - 4
	w.PutUint32At(start, uint32(length))

	batch.count++
	if header.Flags.Has(msgs.MessageTimed) {
		batch.timed = true
	}

	p.statistics.MessageSendBytes.Add(int64(length))
	p.statistics.MessageSendTotal.Add(1)
	if header.Flags.Has(msgs.MessageReliable) {
		p.statistics.MessageSendReliable.Add(1)
		if attempt > 0 {
			p.statistics.MessageSendDuplicated.Add(1)
		}
	} else {
		p.statistics.MessageSendUnreliable.Add(1)
	}
	switch header.Type {
	case msgs.MessageAcknowledge:
		p.statistics.MessageSendAcknowledge.Add(1)
	case msgs.MessagePing:
		p.statistics.MessageSendPing.Add(1)
	}

	return batch, nil
}

// flush a batch after SendDelay, once the previous batch was sent.
func (p *Peer) flush(batch *flushBatch, prev <-chan struct{}) {
	defer close(batch.sendDone)
	defer p.host.allocator.Return(batch.buf)

	err := p.sleep(p.conf.SendDelay)

	p.flushMutex.Lock()
	if p.flushBatch == batch {
		p.flushBatch = nil
	}
	p.flushMutex.Unlock()
	close(batch.delayDone)

	if err != nil {
		batch.err = err
		return
	}

	select {
	case <-prev:
	case <-p.ctx.Done():
		batch.err = ErrDisposed
		return
	}

	if batch.err = p.sendBatch(batch); batch.err != nil {
		p.log().WithError(batch.err).Debug("Sending packet failed")
	}
}

// sendBatch compresses and encrypts a batch's data before sending it.
func (p *Peer) sendBatch(batch *flushBatch) error {
	var flags msgs.PacketFlags

	data := batch.writer.Bytes()
	if batch.count == 1 {
		data = data[4:]
	} else {
		flags |= msgs.PacketCombined
	}
	if batch.timed {
		flags |= msgs.PacketTimed
	}

	if p.host.conf.Compression && len(data) > 0 {
		buf := p.host.allocator.MustRent(len(data))
		defer p.host.allocator.Return(buf)

		compressed, err := p.host.compressor.Compress(buf[:0], data)
		if err != nil {
			return fmt.Errorf("compressing packet: %w", err)
		}
		if len(compressed) < len(data) {
			data = compressed
			flags |= msgs.PacketCompressed
		}
	}

	if enc := p.getEncryptor(); enc != nil {
		buf := p.host.allocator.MustRent(len(data) + enc.Overhead())
		defer p.host.allocator.Return(buf)

		encrypted, err := enc.Encrypt(buf[:0], data)
		if err != nil {
			return fmt.Errorf("encrypting packet: %w", err)
		}
		data = encrypted
	}

	return p.sendPacket(data, flags)
}

// sendPacket writes a connected packet, fragmenting it if it exceeds the MTU.
func (p *Peer) sendPacket(data []byte, flags msgs.PacketFlags) error {
	crc := p.host.conf.CRC32
	timed := flags.Has(msgs.PacketTimed)

	mtu := p.conf.MTU - msgs.PacketHeaderLength
	if crc {
		mtu -= msgs.PacketCRCLength
		flags |= msgs.PacketVerified
	}
	if timed {
		mtu -= msgs.PacketTicksLength
	}

	partLength, last, fragmented, err := fragment.Split(len(data), mtu)
	if err != nil {
		return err
	}

	var id uint16
	if fragmented {
		flags |= msgs.PacketFragmented
		id = uint16(p.fragmentSequence.Add(1))
	}

	buf := p.host.allocator.MustRent(p.conf.MTU)
	defer p.host.allocator.Return(buf)

	for part := 0; part <= int(last); part++ {
		chunk := data
		if fragmented {
			begin := part * partLength
			chunk = data[begin:min(begin+partLength, len(data))]
		}

		w := codec.NewWriter(buf)
		w.WriteUint8(msgs.PacketHeader(msgs.PacketConnected, flags))
		if crc {
			w.Skip(msgs.PacketCRCLength)
		}
		if timed {
			w.WriteUint16(uint16(p.host.Ticks()))
		}
		if fragmented {
			msgs.FragmentHeader{ID: id, Part: uint16(part), Last: last}.Write(w)
		}
		w.WriteBytes(chunk)

		packet := w.Bytes()
		if crc {
			w.PutUint32At(msgs.PacketHeaderLength, crc32.ChecksumIEEE(packet[msgs.PacketHeaderLength+msgs.PacketCRCLength:]))
		}

		n, err := p.host.sendSocket(p.remote, packet)
		if err != nil {
			return err
		}

		p.statistics.PacketSendTicks.Store(p.host.Ticks())
		p.statistics.PacketSendBytes.Add(int64(n))
		p.statistics.PacketSendCount.Add(1)
	}

	return nil
}
