// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package dispatch implements C10: the ingress admission path (client
// → C2/C3/C4 → C6) and the single-consumer dispatcher thread that
// drains the Priority Queue and drives the CocoTable (spec §4.11).
package dispatch

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/resourcetuner/urm/internal/clientreg"
	"github.com/resourcetuner/urm/internal/coco"
	"github.com/resourcetuner/urm/internal/modectl"
	"github.com/resourcetuner/urm/internal/pqueue"
	"github.com/resourcetuner/urm/internal/ratelimit"
	"github.com/resourcetuner/urm/internal/registry"
	"github.com/resourcetuner/urm/internal/reqreg"
	"github.com/resourcetuner/urm/internal/structs"
	"github.com/resourcetuner/urm/internal/timerwheel"
)

// PropStore is the optional Prop get/set collaborator (§9 supplemented
// features). A nil PropStore causes every PropGet/PropSet to be
// rejected with ErrBadRequest.
type PropStore interface {
	Get(prop, fallback string, pid, tid int32) (string, error)
	Set(prop, value string, pid, tid int32) error
}

// SignalHandler is the optional Signal subsystem peer (§9 supplemented
// features; spec §1 "peers that submit into the same pipeline"). A nil
// SignalHandler rejects every signal message.
type SignalHandler interface {
	Acquire(f *structs.SignalFrame) error
	Release(f *structs.SignalFrame) error
	Relay(f *structs.SignalFrame) error
}

// NowFunc returns the current time in milliseconds, injected so tests
// don't depend on wall-clock timing.
type NowFunc func() int64

// Dispatcher is C10. Its ingress methods (SubmitTune/SubmitRetune/
// SubmitUntune) may be called concurrently from any number of
// transport-handler goroutines; Run is the single consumer of the
// Priority Queue and must only ever execute on one goroutine (the
// CocoTable's sole-writer invariant, spec §5).
type Dispatcher struct {
	queue    *pqueue.Queue
	registry *registry.Registry
	clients  *clientreg.Registry
	limiter  *ratelimit.Limiter
	reqs     *reqreg.Registry
	table    *coco.Table
	timers   *timerwheel.Wheel
	mode     *modectl.Controller
	now      NowFunc
	log      hclog.Logger

	props   PropStore
	signals SignalHandler
}

// New builds a Dispatcher. props and signals may be nil.
func New(
	queue *pqueue.Queue,
	reg *registry.Registry,
	clients *clientreg.Registry,
	limiter *ratelimit.Limiter,
	reqs *reqreg.Registry,
	table *coco.Table,
	timers *timerwheel.Wheel,
	mode *modectl.Controller,
	props PropStore,
	signals SignalHandler,
	now NowFunc,
	log hclog.Logger,
) *Dispatcher {
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Dispatcher{
		queue: queue, registry: reg, clients: clients, limiter: limiter,
		reqs: reqs, table: table, timers: timers, mode: mode,
		props: props, signals: signals, now: now, log: log.Named("dispatch"),
	}
}

// SetSignalHandler wires the peer Signal subsystem in after
// construction. It exists because signal.Handler needs a Submitter
// that is itself the Dispatcher — New can't take a finished Handler
// without the two packages importing each other.
func (d *Dispatcher) SetSignalHandler(h SignalHandler) {
	d.signals = h
}

func (d *Dispatcher) currentMode() structs.Mode {
	if d.mode == nil {
		return structs.ModeOn
	}
	return d.mode.Current()
}

// PostServerCleanup enqueues the sentinel that causes Run to return
// (spec §5 "server shutdown posts a SERVER_CLEANUP sentinel").
func (d *Dispatcher) PostServerCleanup() error {
	return d.queue.AddAndWakeup(&structs.Message{Kind: structs.MsgServerCleanup, Priority: structs.ServerCleanup})
}

// Run is the single dispatcher consumer thread: pop, act, repeat,
// until SERVER_CLEANUP is popped.
func (d *Dispatcher) Run() {
	for {
		d.queue.Wait()
		msg := d.queue.Pop()
		if msg == nil {
			continue
		}
		if msg.Kind == structs.MsgServerCleanup {
			return
		}
		d.Dispatch(msg)
	}
}

// Dispatch runs a single message through the state machine of spec
// §4.11. Exported so tests can single-step the dispatcher without
// spinning up the Wait/Pop loop.
func (d *Dispatcher) Dispatch(msg *structs.Message) {
	switch msg.Kind {
	case structs.MsgTune:
		d.handleTune(msg)
	case structs.MsgRetune:
		d.handleRetune(msg)
	case structs.MsgUntune:
		d.handleUntune(msg)
	case structs.MsgPropGet:
		d.handlePropGet(msg)
	case structs.MsgPropSet:
		d.handlePropSet(msg)
	case structs.MsgSignalAcquire, structs.MsgSignalRelease, structs.MsgSignalRelay:
		d.handleSignal(msg)
	case structs.MsgModeChange:
		d.handleModeChange(msg)
	}
}

func reply(msg *structs.Message, r structs.Reply) {
	if msg.ReplyCh != nil {
		msg.ReplyCh <- r
	}
}
