// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package fragment splits oversized connected packets and reassembles them on the receiving side.
package fragment

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dtn7/rudp-go/pkg/alloc"
	"github.com/dtn7/rudp-go/pkg/transport/internal/msgs"
)

// Split calculates the fragmentation of a payload of length bytes for packets with room for mtu bytes after the
// packet's fixed fields. If the payload fits, fragmented is false. Otherwise each part, except possibly the last, holds
// partLength bytes and parts are numbered from zero to last.
func Split(length, mtu int) (partLength int, last uint16, fragmented bool, err error) {
	if length <= mtu {
		return length, 0, false, nil
	}

	partLength = mtu - msgs.FragmentHeaderLength
	if partLength <= 0 {
		return 0, 0, false, fmt.Errorf("MTU %d leaves no room for fragment data", mtu)
	}

	lastPart := (length - 1) / partLength
	if lastPart > math.MaxUint16 {
		return 0, 0, false, fmt.Errorf("payload of %d bytes needs %d fragments", length, lastPart+1)
	}

	return partLength, uint16(lastPart), true, nil
}

type entry struct {
	last     uint16
	received []byte

	parts      []byte
	partLength int
	lastPart   []byte

	timer *clock.Timer
}

func (e *entry) has(part uint16) bool {
	return e.received[part/8]&(1<<(part%8)) != 0
}

func (e *entry) mark(part uint16) {
	e.received[part/8] |= 1 << (part % 8)
}

func (e *entry) complete() bool {
	for part := uint16(0); part <= e.last; part++ {
		if !e.has(part) {
			return false
		}
		if part == math.MaxUint16 {
			break
		}
	}
	return true
}

// Table collects the fragments of incoming packets, keyed by their fragment id. Incomplete entries are dropped after
// a timeout. An error concerning one id drops this id's entry, but never affects others.
type Table struct {
	mutex   sync.Mutex
	entries map[uint16]*entry
	closed  bool

	timeout   time.Duration
	clock     clock.Clock
	allocator *alloc.Allocator
}

// NewTable creates an empty Table. Its buffers are rented from the Allocator.
func NewTable(timeout time.Duration, clk clock.Clock, allocator *alloc.Allocator) *Table {
	return &Table{
		entries:   make(map[uint16]*entry),
		timeout:   timeout,
		clock:     clk,
		allocator: allocator,
	}
}

// Add a received fragment. The data is copied. Once the last missing fragment was added, the reassembled payload is
// returned; it is rented from the Table's Allocator and must be returned by the caller.
func (t *Table) Add(header msgs.FragmentHeader, data []byte) (payload []byte, err error) {
	if err = header.Valid(); err != nil {
		return nil, err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return nil, fmt.Errorf("fragment table is closed")
	}

	e, exists := t.entries[header.ID]
	if !exists {
		e = &entry{
			last:     header.Last,
			received: make([]byte, 1+int(header.Last)/8),
		}
		t.entries[header.ID] = e

		id := header.ID
		e.timer = t.clock.AfterFunc(t.timeout, func() { t.expire(id, e) })
	}

	defer func() {
		if err != nil {
			t.remove(header.ID, e)
		}
	}()

	isLast := header.Part == header.Last

	switch {
	case e.last != header.Last:
		return nil, fmt.Errorf("%v does not match last part %d", header, e.last)

	case !isLast && e.parts != nil && e.partLength != len(data):
		return nil, fmt.Errorf("%v has %d bytes instead of %d", header, len(data), e.partLength)

	case isLast && e.lastPart != nil:
		return nil, fmt.Errorf("%v: last part was already received", header)

	case e.has(header.Part):
		return nil, fmt.Errorf("%v is duplicated", header)
	}

	e.mark(header.Part)

	if isLast {
		if e.lastPart, err = t.allocator.Rent(len(data)); err != nil {
			return nil, err
		}
		copy(e.lastPart, data)
	} else {
		if e.parts == nil {
			e.partLength = len(data)
			if e.parts, err = t.allocator.Rent(e.partLength * (int(e.last) + 1)); err != nil {
				return nil, err
			}
		}
		copy(e.parts[int(header.Part)*e.partLength:], data)
	}

	if !e.complete() {
		return nil, nil
	}

	if len(e.lastPart) > e.partLength {
		return nil, fmt.Errorf("%v: last part of %d bytes exceeds part length %d",
			header, len(e.lastPart), e.partLength)
	}

	offset := int(e.last) * e.partLength
	payload = e.parts[:offset+len(e.lastPart)]
	copy(payload[offset:], e.lastPart)

	// The parts buffer now belongs to the caller.
	e.parts = nil
	t.remove(header.ID, e)

	return payload, nil
}

// remove an entry and return its buffers; the caller must hold the mutex.
func (t *Table) remove(id uint16, e *entry) {
	if current, ok := t.entries[id]; ok && current == e {
		delete(t.entries, id)
	}

	e.timer.Stop()

	t.allocator.Return(e.parts)
	t.allocator.Return(e.lastPart)
	e.parts, e.lastPart = nil, nil
}

func (t *Table) expire(id uint16, e *entry) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if current, ok := t.entries[id]; ok && current == e {
		t.remove(id, e)
	}
}

// Len is the number of incomplete payloads.
func (t *Table) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return len(t.entries)
}

// Close the Table and drop all incomplete payloads.
func (t *Table) Close() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.closed = true
	for id, e := range t.entries {
		t.remove(id, e)
	}
}
