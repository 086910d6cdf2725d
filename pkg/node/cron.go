// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

type cronjob struct {
	task      func()
	interval  time.Duration
	nextEvent time.Time
}

// Cron manages different jobs which require interval based execution.
type Cron struct {
	clock      clock.Clock
	resolution time.Duration

	jobs  map[string]*cronjob
	mutex sync.Mutex

	stopOnce sync.Once
	stopSyn  chan struct{}
	stopAck  chan struct{}
}

// NewCron creates and starts an empty Cron instance, checking its jobs each resolution.
func NewCron(clk clock.Clock, resolution time.Duration) *Cron {
	if clk == nil {
		clk = clock.New()
	}

	cron := &Cron{
		clock:      clk,
		resolution: resolution,
		jobs:       make(map[string]*cronjob),
		stopSyn:    make(chan struct{}),
		stopAck:    make(chan struct{}),
	}

	ticker := clk.Ticker(resolution)
	go cron.loop(ticker)

	return cron
}

func (cron *Cron) loop(ticker *clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-cron.stopSyn:
			close(cron.stopAck)
			return

		case t := <-ticker.C:
			cron.fire(t)
		}
	}
}

func (cron *Cron) fire(t time.Time) {
	cron.mutex.Lock()
	defer cron.mutex.Unlock()

	for name, job := range cron.jobs {
		if job.nextEvent.After(t) {
			continue
		}

		// A delayed Cron does not catch up on missed events.
		for !job.nextEvent.After(t) {
			job.nextEvent = job.nextEvent.Add(job.interval)
		}
		go job.task()

		log.WithFields(log.Fields{
			"job":        name,
			"interval":   job.interval,
			"next_event": job.nextEvent,
		}).Debug("Cron executed job")
	}
}

// Stop this Cron. Further calls are no-ops.
func (cron *Cron) Stop() {
	cron.stopOnce.Do(func() {
		close(cron.stopSyn)
		<-cron.stopAck
	})
}

// Register a new task by its name, function and interval. The interval must be at least the Cron's resolution. The
// function will be executed in a new Goroutine and must be thread-safe.
func (cron *Cron) Register(name string, task func(), interval time.Duration) error {
	cron.mutex.Lock()
	defer cron.mutex.Unlock()

	if _, exists := cron.jobs[name]; exists {
		return fmt.Errorf("a job named %s is already registered", name)
	}

	if interval < cron.resolution {
		return fmt.Errorf("interval %v is shorter than the resolution %v", interval, cron.resolution)
	}

	cron.jobs[name] = &cronjob{
		task:      task,
		interval:  interval,
		nextEvent: cron.clock.Now().Add(interval),
	}

	return nil
}

// Unregister a task by its name.
func (cron *Cron) Unregister(name string) {
	cron.mutex.Lock()
	defer cron.mutex.Unlock()

	delete(cron.jobs, name)
}
