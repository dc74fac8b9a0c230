// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package core

import (
	"github.com/resourcetuner/urm/internal/structs"
)

// errShuttingDown is returned by every ingress method once Shutdown
// has been called: the daemon is draining in-flight work and refusing
// new admissions.
var errShuttingDown = structs.NewError(structs.ErrBadRequest, "core: shutting down")

// run executes fn on c's bounded worker pool and blocks for its
// result — the "small worker pool" spec §5's scheduling model names,
// sized so an arbitrary number of transport-handler goroutines can
// call into Core without each one piling straight into the admission
// path's registry/memdb lookups unbounded.
func (c *Core) run(fn func()) {
	done := make(chan struct{})
	c.workers.Go(func() error {
		fn()
		close(done)
		return nil // ingress errors are returned to the caller, not to the pool
	})
	<-done
}

// SubmitTune runs the admission pipeline for a tune frame and returns
// its handle.
func (c *Core) SubmitTune(f *structs.TuneFrame) (int64, error) {
	if c.closing.Load() {
		return structs.NoHandle, errShuttingDown
	}
	var handle int64
	var err error
	c.run(func() { handle, err = c.dispatch.SubmitTune(f) })
	return handle, err
}

// SubmitRetune updates a live tune's duration.
func (c *Core) SubmitRetune(f *structs.RetuneFrame) error {
	if c.closing.Load() {
		return errShuttingDown
	}
	var err error
	c.run(func() { err = c.dispatch.SubmitRetune(f) })
	return err
}

// SubmitUntune cancels a live tune (or a pending one still in the
// queue).
func (c *Core) SubmitUntune(f *structs.UntuneFrame) error {
	if c.closing.Load() {
		return errShuttingDown
	}
	var err error
	c.run(func() { err = c.dispatch.SubmitUntune(f) })
	return err
}

// submitAndWait builds a Message around one of the reply-bearing frame
// kinds (Prop/Signal/Mode), enqueues it at derived priority, and blocks
// for the dispatcher's reply — these kinds ride the same priority
// queue every tune/retune/untune does (spec §3's tagged Message union
// names them as peers, not a side channel), so a client's PropSet
// before a Tune is still processed before it.
func (c *Core) submitAndWait(msg *structs.Message) structs.Reply {
	msg.ReplyCh = make(chan structs.Reply, 1)
	var reply structs.Reply
	c.run(func() {
		if err := c.queue.AddAndWakeup(msg); err != nil {
			reply = structs.Reply{Err: err}
			return
		}
		reply = <-msg.ReplyCh
	})
	return reply
}

func (c *Core) priorityFor(pid int32) structs.Priority {
	trust, _ := c.clients.TrustOf(pid)
	return structs.DerivePriority(trust, structs.ClientHigh)
}

// PropGet reads a property's current value.
func (c *Core) PropGet(f *structs.PropFrame) (string, error) {
	if c.closing.Load() {
		return "", errShuttingDown
	}
	r := c.submitAndWait(&structs.Message{Kind: structs.MsgPropGet, Priority: c.priorityFor(f.Pid), Prop: f})
	return r.Value, r.Err
}

// PropSet writes a property's value.
func (c *Core) PropSet(f *structs.PropFrame) error {
	if c.closing.Load() {
		return errShuttingDown
	}
	r := c.submitAndWait(&structs.Message{Kind: structs.MsgPropSet, Priority: c.priorityFor(f.Pid), Prop: f})
	return r.Err
}

// SignalAcquire resolves a Signal acquisition to its backing tune.
func (c *Core) SignalAcquire(f *structs.SignalFrame) error {
	if c.closing.Load() {
		return errShuttingDown
	}
	r := c.submitAndWait(&structs.Message{Kind: structs.MsgSignalAcquire, Priority: c.priorityFor(f.Pid), Signal: f})
	return r.Err
}

// SignalRelease drops a ref-count on a live Signal acquisition.
func (c *Core) SignalRelease(f *structs.SignalFrame) error {
	if c.closing.Load() {
		return errShuttingDown
	}
	r := c.submitAndWait(&structs.Message{Kind: structs.MsgSignalRelease, Priority: c.priorityFor(f.Pid), Signal: f})
	return r.Err
}

// SignalRelay notifies subscribed features without touching the
// CocoTable.
func (c *Core) SignalRelay(f *structs.SignalFrame) error {
	if c.closing.Load() {
		return errShuttingDown
	}
	r := c.submitAndWait(&structs.Message{Kind: structs.MsgSignalRelay, Priority: c.priorityFor(f.Pid), Signal: f})
	return r.Err
}

// SetMode drives a device-level mode transition (spec §4.8), called by
// whatever external detector watches for display-on/off/doze — out of
// this module's scope, same as the transport collaborator that would
// call SubmitTune et al.
func (c *Core) SetMode(newMode structs.Mode) error {
	if c.closing.Load() {
		return errShuttingDown
	}
	r := c.submitAndWait(&structs.Message{Kind: structs.MsgModeChange, Priority: structs.HighTransfer, Mode: &structs.ModeFrame{NewMode: newMode}})
	return r.Err
}
