// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/dtn7/rudp-go/pkg/codec"
	"github.com/dtn7/rudp-go/pkg/transport/internal/msgs"
)

// Message to be sent through a Peer.
type Message struct {
	// Channel to send the message on. Sequence numbers and ordering are independent per channel.
	Channel uint8

	// Timed messages carry their creation time, which the receiver translates into its own clock.
	Timed bool

	// Reliable messages are resent until acknowledged.
	Reliable bool

	// Ordered messages are never delivered after a newer message of the same channel, except for reliable ones
	// which were delayed for too long.
	Ordered bool

	// Unique messages are delivered at most once.
	Unique bool

	// Timestamp of the message's creation; the zero value is replaced by the current time.
	Timestamp time.Time

	// Payload being serialized, possibly more than once.
	Payload codec.Writable
}

func (m Message) flags() (flags msgs.MessageFlags) {
	if m.Timed {
		flags |= msgs.MessageTimed
	}
	if m.Reliable {
		flags |= msgs.MessageReliable
	}
	if m.Ordered {
		flags |= msgs.MessageOrdered
	}
	if m.Unique {
		flags |= msgs.MessageUnique
	}
	if m.Channel != channelDefault {
		flags |= msgs.MessageChanneled
	}
	return
}

// MessageListener is informed about a sent message's progress.
type MessageListener interface {
	// OnMessageSend is called each time the message is written into a packet, i.e., once per attempt.
	OnMessageSend(peer *Peer, message *MessageSent)

	// OnMessageAcknowledge is called once after the remote peer acknowledged a reliable message.
	OnMessageAcknowledge(peer *Peer, message *MessageSent)
}

// MessageEvents implements MessageListener by its optional callbacks.
type MessageEvents struct {
	OnSend        func(peer *Peer, message *MessageSent)
	OnAcknowledge func(peer *Peer, message *MessageSent)
}

func (me *MessageEvents) OnMessageSend(peer *Peer, message *MessageSent) {
	if me.OnSend != nil {
		me.OnSend(peer, message)
	}
}

func (me *MessageEvents) OnMessageAcknowledge(peer *Peer, message *MessageSent) {
	if me.OnAcknowledge != nil {
		me.OnAcknowledge(peer, message)
	}
}

// MessageSent is the handle of a message which was queued for sending.
type MessageSent struct {
	// Listener to be informed, might be nil.
	Listener MessageListener

	// Payload of the message.
	Payload codec.Writable

	// Channel the message was sent on.
	Channel uint8

	// Sequence number of the message within its channel.
	Sequence uint16

	// Timestamp of the message's creation.
	Timestamp time.Time

	typ   msgs.MessageType
	flags msgs.MessageFlags
	ticks uint16

	mutex   sync.Mutex
	attempt uint8
	sent    int
	first   time.Time
	last    time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

func newMessageSent(listener MessageListener, payload codec.Writable, typ msgs.MessageType, flags msgs.MessageFlags,
	channel uint8, sequence uint16, timestamp time.Time, ticks uint16) *MessageSent {
	return &MessageSent{
		Listener:  listener,
		Payload:   payload,
		Channel:   channel,
		Sequence:  sequence,
		Timestamp: timestamp,
		typ:       typ,
		flags:     flags,
		ticks:     ticks,
		stop:      make(chan struct{}),
	}
}

func (ms *MessageSent) String() string {
	return fmt.Sprintf("%v(channel=%d, sequence=%d, flags=%v)", ms.typ, ms.Channel, ms.Sequence, ms.flags)
}

func (ms *MessageSent) Timed() bool     { return ms.flags.Has(msgs.MessageTimed) }
func (ms *MessageSent) Reliable() bool  { return ms.flags.Has(msgs.MessageReliable) }
func (ms *MessageSent) Ordered() bool   { return ms.flags.Has(msgs.MessageOrdered) }
func (ms *MessageSent) Unique() bool    { return ms.flags.Has(msgs.MessageUnique) }
func (ms *MessageSent) Sequenced() bool { return ms.flags.Has(msgs.MessageSequenced) }

// Attempt of the latest send, starting at zero.
func (ms *MessageSent) Attempt() uint8 {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	return ms.attempt
}

// Sends counts how often this message was written into a packet.
func (ms *MessageSent) Sends() int {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	return ms.sent
}

// TimestampFirst is the time of the first send or the zero time.
func (ms *MessageSent) TimestampFirst() time.Time {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	return ms.first
}

// TimestampLast is the time of the latest send or the zero time.
func (ms *MessageSent) TimestampLast() time.Time {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	return ms.last
}

// StopResending a reliable message. It will not be sent again, even if no acknowledgement arrives.
func (ms *MessageSent) StopResending() {
	ms.stopOnce.Do(func() { close(ms.stop) })
}

// Stopped reports if StopResending was called, either by the user or after an acknowledgement.
func (ms *MessageSent) Stopped() bool {
	select {
	case <-ms.stop:
		return true
	default:
		return false
	}
}

func (ms *MessageSent) onSend(peer *Peer, attempt uint8, now time.Time) {
	ms.mutex.Lock()
	ms.attempt = attempt
	ms.sent++
	if ms.first.IsZero() {
		ms.first = now
	}
	ms.last = now
	ms.mutex.Unlock()

	if ms.Listener != nil {
		ms.Listener.OnMessageSend(peer, ms)
	}
}

func (ms *MessageSent) onAcknowledge(peer *Peer) {
	if ms.Listener != nil {
		ms.Listener.OnMessageAcknowledge(peer, ms)
	}
}

// timestampOf the send belonging to an acknowledged attempt: the first one for attempt zero and the latest one for
// the latest attempt. Otherwise, the send cannot be identified.
func (ms *MessageSent) timestampOf(attempt uint8) (time.Time, bool) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	switch {
	case attempt == 0 && !ms.first.IsZero():
		return ms.first, true
	case attempt == ms.attempt && !ms.last.IsZero():
		return ms.last, true
	default:
		return time.Time{}, false
	}
}

// MessageReceived describes a received message, passed along its payload to PeerListener.OnPeerReceive.
type MessageReceived struct {
	// Channel the message was received on.
	Channel uint8

	// Sequence number, only valid for Sequenced messages.
	Sequence uint16

	// Attempt of the remote's send, only valid for Reliable messages.
	Attempt uint8

	// Timestamp of the message's creation in the local clock. For untimed messages, this is estimated by half the
	// round trip time.
	Timestamp time.Time

	header    msgs.MessageHeader
	sent      uint16
	sentTimed bool
}

func (mr MessageReceived) String() string {
	return fmt.Sprintf("%v(channel=%d, sequence=%d, attempt=%d, flags=%v)",
		mr.header.Type, mr.Channel, mr.Sequence, mr.Attempt, mr.header.Flags)
}

func (mr MessageReceived) Timed() bool     { return mr.header.Flags.Has(msgs.MessageTimed) }
func (mr MessageReceived) Reliable() bool  { return mr.header.Flags.Has(msgs.MessageReliable) }
func (mr MessageReceived) Ordered() bool   { return mr.header.Flags.Has(msgs.MessageOrdered) }
func (mr MessageReceived) Unique() bool    { return mr.header.Flags.Has(msgs.MessageUnique) }
func (mr MessageReceived) Sequenced() bool { return mr.header.Flags.Has(msgs.MessageSequenced) }

// CreatedTicks are the remote's compact creation ticks of a timed message.
func (mr MessageReceived) CreatedTicks() (uint16, bool) {
	return mr.header.Ticks, mr.Timed()
}

// SentTicks are the remote's compact ticks of the packet's send, if the packet was timed.
func (mr MessageReceived) SentTicks() (uint16, bool) {
	return mr.sent, mr.sentTimed
}
