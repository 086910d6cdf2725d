// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package alloc provides a bounded byte buffer pool with rent/return semantics.
//
// Buffers are grouped into power of two size classes. Each class keeps at most Count idle buffers in a free list,
// everything above is left to the garbage collector. Rented buffers must be returned exactly once, usually by a
// deferred Return right after renting.
package alloc

import (
	"fmt"
	"math/bits"
	"sync/atomic"
)

const minClassBits = 6 // 64 bytes

// Config of an Allocator.
type Config struct {
	// Count is the maximum number of idle buffers kept per size class.
	Count int

	// PooledLength is the largest buffer length being pooled. Larger buffers are allocated and dropped.
	PooledLength int

	// MaxLength is the largest buffer length which might be rented at all.
	MaxLength int
}

// DefaultConfig mirrors the defaults of a Host.
func DefaultConfig() Config {
	return Config{
		Count:        256,
		PooledLength: 32768,
		MaxLength:    16777216,
	}
}

// Allocator hands out byte buffers and takes them back.
type Allocator struct {
	conf    Config
	classes []chan []byte

	rented   atomic.Int64
	returned atomic.Int64
}

// New Allocator for the given Config. Non-positive values are replaced by their defaults.
func New(conf Config) *Allocator {
	def := DefaultConfig()
	if conf.Count <= 0 {
		conf.Count = def.Count
	}
	if conf.PooledLength <= 0 {
		conf.PooledLength = def.PooledLength
	}
	if conf.MaxLength <= 0 {
		conf.MaxLength = def.MaxLength
	}
	if conf.PooledLength > conf.MaxLength {
		conf.PooledLength = conf.MaxLength
	}

	a := &Allocator{conf: conf}
	for c := 0; classSize(c) <= conf.PooledLength; c++ {
		a.classes = append(a.classes, make(chan []byte, conf.Count))
	}
	return a
}

func classSize(class int) int {
	return 1 << (minClassBits + class)
}

// classOf returns the smallest class able to hold n bytes.
func classOf(n int) int {
	if n <= 1<<minClassBits {
		return 0
	}
	return bits.Len(uint(n-1)) - minClassBits
}

// Rent a buffer of length n. Its capacity might be larger.
func (a *Allocator) Rent(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("alloc: negative length %d", n)
	} else if n > a.conf.MaxLength {
		return nil, fmt.Errorf("alloc: length %d exceeds maximum %d", n, a.conf.MaxLength)
	}

	a.rented.Add(1)

	class := classOf(n)
	if class >= len(a.classes) {
		return make([]byte, n), nil
	}

	select {
	case buf := <-a.classes[class]:
		return buf[:n], nil
	default:
		return make([]byte, n, classSize(class)), nil
	}
}

// MustRent is Rent for internal callers which already checked the length.
func (a *Allocator) MustRent(n int) []byte {
	buf, err := a.Rent(n)
	if err != nil {
		panic(err)
	}
	return buf
}

// Expand returns a buffer holding buf's data with room for at least n more bytes. If buf has to be replaced, it is
// returned to the pool.
func (a *Allocator) Expand(buf []byte, n int) ([]byte, error) {
	if cap(buf)-len(buf) >= n {
		return buf, nil
	}

	next, err := a.Rent(len(buf) + n)
	if err != nil {
		return buf, err
	}
	next = next[:len(buf)]
	copy(next, buf)
	a.Return(buf)
	return next, nil
}

// Return a buffer, previously handed out by Rent. Nil buffers are ignored.
func (a *Allocator) Return(buf []byte) {
	if buf == nil {
		return
	}

	a.returned.Add(1)

	c := cap(buf)
	class := classOf(c)
	if class >= len(a.classes) || classSize(class) != c {
		return
	}

	select {
	case a.classes[class] <- buf[:0]:
	default:
	}
}

// Outstanding is the number of rented buffers which were not yet returned.
func (a *Allocator) Outstanding() int64 {
	return a.rented.Load() - a.returned.Load()
}
