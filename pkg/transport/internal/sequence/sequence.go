// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package sequence implements wrapping 16 bit sequence numbers, kept per channel.
package sequence

import "sync"

// Channels is the number of independent channels, addressed by one byte.
const Channels = 256

// Distance from expected to actual, using the smaller of both wrap around distances. A positive result means actual
// is ahead of expected, i.e., messages in between are missing. A negative result means actual is late.
func Distance(expected, actual uint16) int {
	lead := actual - expected
	lag := expected - actual
	if lead < lag {
		return int(lead)
	}
	return -int(lag)
}

// Counters holds one sequence number per channel.
type Counters struct {
	mutex  sync.Mutex
	values [Channels]uint16
}

// Next increments the channel's counter and returns the new value.
func (c *Counters) Next(channel uint8) uint16 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.values[channel]++
	return c.values[channel]
}

// Get the channel's current value.
func (c *Counters) Get(channel uint8) uint16 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.values[channel]
}

// Set the channel's current value.
func (c *Counters) Set(channel uint8, value uint16) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.values[channel] = value
}

// Track the next received sequence number of a channel for loss statistics. The counter is advanced as if actual was
// the expected next value. The returned delta is positive for the number of messages assumed lost and -1 if a message
// previously counted as lost arrived late.
func (c *Counters) Track(channel uint8, actual uint16) (delta int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.values[channel]++
	expected := c.values[channel]
	if actual == expected {
		return 0
	}

	if dist := Distance(expected, actual); dist > 0 {
		c.values[channel] += uint16(dist)
		return dist
	}

	c.values[channel]--
	return -1
}

// Unsequenced counts messages sent without a sequence number per channel, so that every so often one of them is
// sequenced for loss statistics.
type Unsequenced struct {
	mutex  sync.Mutex
	values [Channels]int
	max    int
}

// NewUnsequenced creates a counter which requests a sequence number after max unsequenced messages.
func NewUnsequenced(max int) *Unsequenced {
	return &Unsequenced{max: max}
}

// Next registers an outgoing message and reports if it should carry a sequence number. Sequenced messages, as
// indicated by the caller, reset the channel's counter.
func (u *Unsequenced) Next(channel uint8, sequenced bool) bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if sequenced {
		u.values[channel] = 0
		return true
	}

	u.values[channel]++
	if u.values[channel] > u.max {
		u.values[channel] = 0
		return true
	}
	return false
}
