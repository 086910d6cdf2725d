// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package window remembers recently received (channel, sequence) pairs to detect duplicates.
package window

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize bounds the number of remembered pairs. When full, the oldest pairs are forgotten early.
const DefaultSize = 65536

type key struct {
	channel  uint8
	sequence uint16
}

// Window is a rolling set of (channel, sequence) pairs. Each pair expires after the Window's timeout.
type Window struct {
	mutex   sync.Mutex
	cache   *lru.Cache[key, time.Time]
	timeout time.Duration
	clock   clock.Clock
}

// New Window holding at most size pairs for timeout each.
func New(size int, timeout time.Duration, clk clock.Clock) (*Window, error) {
	if size <= 0 {
		size = DefaultSize
	}

	cache, err := lru.New[key, time.Time](size)
	if err != nil {
		return nil, err
	}

	return &Window{
		cache:   cache,
		timeout: timeout,
		clock:   clk,
	}, nil
}

// Add a pair and report if it was unknown, i.e., not received within the timeout.
func (w *Window) Add(channel uint8, sequence uint16) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	k := key{channel: channel, sequence: sequence}
	now := w.clock.Now()

	if expires, ok := w.cache.Get(k); ok && now.Before(expires) {
		return false
	}

	w.cache.Add(k, now.Add(w.timeout))
	return true
}

// Len of the Window, including expired but not yet replaced pairs.
func (w *Window) Len() int {
	return w.cache.Len()
}

// Purge all pairs.
func (w *Window) Purge() {
	w.cache.Purge()
}
