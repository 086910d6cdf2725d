// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// waitFor polls the condition until it holds or the test times out.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()

	for deadline := time.Now().Add(testTimeout); !cond(); {
		if time.Now().After(deadline) {
			t.Fatalf("timeout while waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCron(t *testing.T) {
	clk := clock.NewMock()
	cron := NewCron(clk, time.Second)
	defer cron.Stop()

	var fast, slow atomic.Int32

	if err := cron.Register("fast", func() { fast.Add(1) }, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := cron.Register("slow", func() { slow.Add(1) }, 3*time.Second); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 6; i++ {
		clk.Add(time.Second)

		expected := int32(i)
		waitFor(t, func() bool { return fast.Load() == expected }, "fast job")
	}

	waitFor(t, func() bool { return slow.Load() == 2 }, "slow job")
}

func TestCronRegister(t *testing.T) {
	cron := NewCron(clock.NewMock(), time.Second)
	defer cron.Stop()

	if err := cron.Register("job", func() {}, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := cron.Register("job", func() {}, time.Second); err == nil {
		t.Fatal("registering a job twice did not error")
	}
	if err := cron.Register("short", func() {}, time.Millisecond); err == nil {
		t.Fatal("registering a job below the resolution did not error")
	}

	cron.Unregister("job")
	if err := cron.Register("job", func() {}, time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestCronUnregister(t *testing.T) {
	clk := clock.NewMock()
	cron := NewCron(clk, time.Second)
	defer cron.Stop()

	var runs atomic.Int32
	if err := cron.Register("job", func() { runs.Add(1) }, time.Second); err != nil {
		t.Fatal(err)
	}

	clk.Add(time.Second)
	waitFor(t, func() bool { return runs.Load() == 1 }, "first run")

	cron.Unregister("job")
	clk.Add(5 * time.Second)
	time.Sleep(50 * time.Millisecond)

	if n := runs.Load(); n != 1 {
		t.Fatalf("unregistered job ran %d times", n)
	}
}
