// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package timerwheel implements C5: per-request expiry timers. Every
// bounded-duration tune request owns exactly one timer; a retune rearms
// it in place and an untune (synthesized or explicit) cancels it.
package timerwheel

import (
	"sync"
	"time"

	"oss.indeed.com/go/libtime"
)

// Fire is invoked, on its own goroutine, when a request's timer
// expires without having been cancelled first.
type Fire func(handle int64)

type entry struct {
	timer  libtime.Timer
	cancel chan struct{}
	once   sync.Once
}

// Wheel tracks one libtime.Timer per live handle. It owns no locks on
// the caller's behalf beyond protecting its own handle map; Fire
// callbacks run concurrently with each other and with Install/Rearm/
// Cancel, same as the teacher's own deferred-callback idioms.
type Wheel struct {
	clock libtime.Clock
	fire  Fire

	mu      sync.Mutex
	entries map[int64]*entry
}

// New builds a Wheel. clock is injected so tests can swap in a fake
// that also fakes NewTimer, matching this package's own test pattern
// for a controllable libtime.Clock.
func New(clock libtime.Clock, fire Fire) *Wheel {
	if clock == nil {
		clock = libtime.SystemClock()
	}
	return &Wheel{
		clock:   clock,
		fire:    fire,
		entries: make(map[int64]*entry),
	}
}

// Install arms a timer for handle that fires after d, whatever d is.
// The Wheel has no notion of "forever": callers check for
// structs.InfiniteDuration themselves and do not call Install for it.
func (w *Wheel) Install(handle int64, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.startLocked(handle, d)
}

// Rearm stops any existing timer for handle and installs a fresh one
// for the new duration — the atomic "retune modifies duration in
// place" behavior (spec §4.2, §4.6).
func (w *Wheel) Rearm(handle int64, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked(handle)
	w.startLocked(handle, d)
}

// Cancel stops handle's timer, if any, without firing the callback.
// Safe to call more than once or for an unknown handle.
func (w *Wheel) Cancel(handle int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked(handle)
}

// Len is the number of live timers, used by the testable-property
// check in spec §8 ("Timer count == active tune requests with
// duration != -1").
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func (w *Wheel) startLocked(handle int64, d time.Duration) {
	e := &entry{cancel: make(chan struct{})}
	e.timer = w.clock.NewTimer(d)
	w.entries[handle] = e

	go func() {
		select {
		case <-e.timer.Wait():
			w.mu.Lock()
			cur, ok := w.entries[handle]
			fire := ok && cur == e
			if fire {
				delete(w.entries, handle)
			}
			w.mu.Unlock()
			if fire {
				w.fire(handle)
			}
		case <-e.cancel:
		}
	}()
}

func (w *Wheel) stopLocked(handle int64) {
	e, ok := w.entries[handle]
	if !ok {
		return
	}
	e.timer.Stop()
	e.once.Do(func() { close(e.cancel) })
	delete(w.entries, handle)
}
