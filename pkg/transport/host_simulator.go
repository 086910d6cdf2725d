// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// simulator drops and delays packets to simulate a lossy network.
type simulator struct {
	conf  SimulatorConfig
	clock clock.Clock

	mutex  sync.Mutex
	random *rand.Rand
}

// newSimulator returns nil for a disabled simulator.
func newSimulator(conf SimulatorConfig, clk clock.Clock) *simulator {
	if !conf.Enabled {
		return nil
	}

	return &simulator{
		conf:   conf,
		clock:  clk,
		random: rand.New(rand.NewSource(clk.Now().UnixNano())),
	}
}

// outgoing delays an outgoing packet and reports if it should be sent at all.
func (s *simulator) outgoing(ctx context.Context) bool {
	if s == nil {
		return true
	}
	return s.apply(ctx, s.conf.OutgoingLoss, s.conf.OutgoingLatency, s.conf.OutgoingJitter)
}

// incoming delays an incoming packet and reports if it should be processed at all.
func (s *simulator) incoming(ctx context.Context) bool {
	if s == nil {
		return true
	}
	return s.apply(ctx, s.conf.IncomingLoss, s.conf.IncomingLatency, s.conf.IncomingJitter)
}

func (s *simulator) apply(ctx context.Context, loss float64, latency, jitter time.Duration) bool {
	s.mutex.Lock()
	drop := loss > 0 && s.random.Float64() < loss
	delay := latency + time.Duration(s.random.Float64()*float64(jitter))
	s.mutex.Unlock()

	if drop {
		return false
	} else if delay <= 0 {
		return true
	}

	timer := s.clock.Timer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
