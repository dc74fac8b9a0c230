// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package gc implements C9, the Liveness Sweeper and Handle GC: two
// periodic daemons that reclaim state left behind by a crashed client.
package gc

import (
	"context"
	"sync"
	"time"

	"github.com/resourcetuner/urm/internal/clientreg"
	"github.com/resourcetuner/urm/internal/pqueue"
	"github.com/resourcetuner/urm/internal/structs"
	"github.com/shirou/gopsutil/v3/process"
)

// PidExists reports whether pid is still alive. Injected so tests
// don't depend on real processes; DefaultPidExists wraps gopsutil.
type PidExists func(pid int32) bool

// DefaultPidExists is the production PidExists, backed by gopsutil's
// /proc read.
func DefaultPidExists(pid int32) bool {
	alive, err := process.PidExists(pid)
	return err == nil && alive
}

// Sweeper bundles the Pulse Monitor and Handle GC (spec §4.10). Both
// share the Client Registry and post synthesized untunes into the same
// Priority Queue the dispatcher consumes from.
type Sweeper struct {
	clients   *clientreg.Registry
	queue     *pqueue.Queue
	exists    PidExists
	batchSize int

	pulseInterval time.Duration
	gcInterval    time.Duration

	intake chan int32 // tids awaiting cleanup
}

// Option configures New.
type Option func(*Sweeper)

func WithBatchSize(n int) Option { return func(s *Sweeper) { s.batchSize = n } }
func WithPulseInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.pulseInterval = d }
}
func WithGCInterval(d time.Duration) Option { return func(s *Sweeper) { s.gcInterval = d } }
func WithPidExists(fn PidExists) Option     { return func(s *Sweeper) { s.exists = fn } }

// New builds a Sweeper with production defaults: a 5s pulse period, a
// 5s GC period, batches of 32 tids, gopsutil-backed liveness checks.
func New(clients *clientreg.Registry, queue *pqueue.Queue, opts ...Option) *Sweeper {
	s := &Sweeper{
		clients:       clients,
		queue:         queue,
		exists:        DefaultPidExists,
		batchSize:     32,
		pulseInterval: 5 * time.Second,
		gcInterval:    5 * time.Second,
		intake:        make(chan int32, 4096),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PulseOnce runs a single Pulse Monitor sweep: every active pid with no
// live process has its tids pushed onto the GC intake.
func (s *Sweeper) PulseOnce() {
	for _, pid := range s.clients.ListActivePids() {
		if s.exists(pid) {
			continue
		}
		for _, tid := range s.clients.ListTids(pid) {
			select {
			case s.intake <- tid:
			default: // intake full: picked up on a later pulse
			}
		}
	}
}

// CollectOnce runs a single Handle GC batch: up to batchSize tids are
// popped from intake; each has its handles snapshotted, is dropped
// from the Client Registry, and has a HIGH_TRANSFER untune synthesized
// per handle.
func (s *Sweeper) CollectOnce() error {
	for i := 0; i < s.batchSize; i++ {
		var tid int32
		select {
		case tid = <-s.intake:
		default:
			return nil
		}

		handles := s.clients.HandlesSnapshot(tid)
		if err := s.clients.DropTid(tid); err != nil {
			return err
		}
		for _, h := range handles {
			msg := &structs.Message{
				Kind:     structs.MsgUntune,
				Priority: structs.HighTransfer,
				Untune:   &structs.UntuneFrame{Handle: h},
			}
			if err := s.queue.AddAndWakeup(msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run drives both daemons until ctx is cancelled, each on its own
// ticker (spec §5 "the pulse monitor" / "the handle GC" as named
// threads).
func (s *Sweeper) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		t := time.NewTicker(s.pulseInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.PulseOnce()
			}
		}
	}()

	go func() {
		defer wg.Done()
		t := time.NewTicker(s.gcInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_ = s.CollectOnce()
			}
		}
	}()

	wg.Wait()
}
