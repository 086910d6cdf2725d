// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import "sync"

// timing tracks the round trip time and the clock difference to the remote peer, both in ticks.
type timing struct {
	stability float64

	mutex        sync.Mutex
	measured     bool
	rtt          int64
	deltaAverage float64
	deltaCount   float64
	deltaLast    uint16
	deltaTicks   int64
}

// update with a new sample, taken at the local ticks now. The delta's average is an exponential moving average
// whose stability grows with the measured time, up to the configured stability.
func (t *timing) update(now int64, delta uint16, rtt int64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	elapsed := float64(now-t.deltaTicks) / Frequency
	if elapsed > 1 {
		elapsed = 1
	} else if elapsed < 0 {
		elapsed = 0
	}
	t.deltaTicks = now
	t.deltaCount += elapsed

	max := 0.0
	if t.deltaCount >= 1 {
		max = 1 - 1/t.deltaCount
	}

	stability := t.stability
	if stability < 0 {
		stability = 0
	}
	if stability > max {
		stability = max
	}

	t.deltaAverage = t.deltaAverage*stability + float64(delta)*(1-stability)
	t.deltaLast = delta
	t.rtt = rtt
	t.measured = true
}

// RTT in ticks.
func (t *timing) RTT() uint16 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return uint16(t.rtt)
}

func (t *timing) Delta() (last uint16, average float64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.deltaLast, t.deltaAverage
}

// localTicks estimates the local ticks of a message's creation. Compact remote ticks are shifted by the average
// clock delta and placed into the 2^16 window around now. Without both, half the round trip time is assumed.
func (t *timing) localTicks(now int64, created uint16, timed bool) int64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !timed || !t.measured {
		return now - t.rtt/2
	}

	slice := created + uint16(t.deltaAverage)
	ticks := (now &^ 0xFFFF) | int64(slice)
	if ticks-32768 > now {
		ticks -= 65536
	} else if ticks+32768 < now {
		ticks += 65536
	}
	return ticks
}
