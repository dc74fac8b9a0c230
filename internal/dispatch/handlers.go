// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package dispatch

import (
	"time"

	"github.com/resourcetuner/urm/internal/structs"
)

// handleTune implements spec §4.11 step 3. The sticky cancelled bit may
// already be set by the time this pops (an untune for the same handle
// raced ahead in the queue); in that case the tune is dropped and its
// registry/client bookkeeping is torn down, since the untune that
// cancelled it found nothing yet installed in the CocoTable and so did
// nothing itself (see handleUntune).
func (d *Dispatcher) handleTune(msg *structs.Message) {
	f := msg.Tune
	req, ok := d.reqs.Get(f.Handle)
	if !ok {
		return
	}
	if req.Status == structs.StatusCancelled || req.Status == structs.StatusCompleted {
		d.discard(req)
		return
	}

	if err := d.reqs.MarkCompleted(f.Handle); err != nil {
		d.log.Warn("mark completed failed", "handle", f.Handle, "error", err)
		return
	}
	// MarkCompleted clones the stored Request; re-fetch so the
	// CocoNodeIDs that Insert is about to write land on the exact
	// pointer the registry now holds, not the pre-clone one.
	req, ok = d.reqs.Get(f.Handle)
	if !ok {
		return
	}

	if _, err := d.table.Insert(req, d.currentMode()); err != nil {
		d.log.Debug("tune insert rejected", "handle", f.Handle, "error", err)
		d.discard(req)
		return
	}

	if req.Duration >= 0 {
		d.timers.Install(f.Handle, req.Duration)
	}
}

// handleRetune implements spec §4.11 step 4's retune branch: update
// duration only, rearm the timer in place. If the matching tune hasn't
// completed yet (raced ahead of it in the queue) there is nothing to
// rearm; the eventual handleTune call installs a timer with the
// already-updated duration.
func (d *Dispatcher) handleRetune(msg *structs.Message) {
	f := msg.Retune
	req, ok := d.reqs.Get(f.Handle)
	if !ok || req.Pid != f.Pid {
		return
	}
	if err := d.reqs.ModifyDuration(f.Handle, f.DurationMS); err != nil {
		d.log.Warn("modify duration failed", "handle", f.Handle, "error", err)
		return
	}
	if len(req.CocoNodeIDs) == 0 {
		return
	}
	if f.DurationMS == structs.InfiniteDuration {
		d.timers.Cancel(f.Handle)
		return
	}
	d.timers.Rearm(f.Handle, time.Duration(f.DurationMS)*time.Millisecond)
}

// handleUntune implements spec §4.11 step 4's untune branch. pid == 0
// marks a synthesized untune (Timer Wheel, Handle GC, Signal Release,
// Core shutdown)
// and bypasses the ownership check — none of those callers act on
// behalf of a client pid.
func (d *Dispatcher) handleUntune(msg *structs.Message) {
	f := msg.Untune
	req, ok := d.reqs.Get(f.Handle)
	if !ok {
		return
	}
	if f.Pid != 0 && req.Pid != f.Pid {
		return
	}
	if len(req.CocoNodeIDs) == 0 {
		// The matching tune hasn't reached the CocoTable yet (still
		// pending, or its own insert was rejected). Nothing to remove;
		// the sticky cancelled bit (already set by SubmitUntune, for
		// client-initiated untunes) makes sure the tune drops itself.
		return
	}

	if _, err := d.table.Remove(req.CocoNodeIDs); err != nil {
		d.log.Warn("coco remove failed", "handle", f.Handle, "error", err)
		return
	}
	d.discard(req)
}

// discard tears down every trace of req: its timer, its Client
// Registry handle attachment, and its Request Registry row.
func (d *Dispatcher) discard(req *structs.Request) {
	d.timers.Cancel(req.Handle)
	_ = d.clients.DetachHandle(req.Tid, req.Handle)
	_ = d.reqs.Remove(req.Handle)
}

func (d *Dispatcher) handlePropGet(msg *structs.Message) {
	f := msg.Prop
	if d.props == nil {
		reply(msg, structs.Reply{Err: structs.NewError(structs.ErrBadRequest, "no prop store configured")})
		return
	}
	val, err := d.props.Get(f.Prop, f.Default, f.Pid, f.Tid)
	reply(msg, structs.Reply{Value: val, Err: err})
}

func (d *Dispatcher) handlePropSet(msg *structs.Message) {
	f := msg.Prop
	if d.props == nil {
		reply(msg, structs.Reply{Err: structs.NewError(structs.ErrBadRequest, "no prop store configured")})
		return
	}
	err := d.props.Set(f.Prop, f.Value, f.Pid, f.Tid)
	reply(msg, structs.Reply{Err: err})
}

// handleModeChange implements spec §4.8's drain/restore: mode
// transitions mutate the CocoTable directly through the Mode
// Controller, so — same as every other CocoTable mutation — they must
// run on this, the single dispatcher goroutine, rather than wherever
// the external mode detector happens to call from.
func (d *Dispatcher) handleModeChange(msg *structs.Message) {
	f := msg.Mode
	if d.mode == nil {
		reply(msg, structs.Reply{Err: structs.NewError(structs.ErrBadRequest, "no mode controller configured")})
		return
	}
	var err error
	if f.NewMode == structs.ModeOn {
		err = d.mode.OnEnterOn()
	} else {
		err = d.mode.OnEnterOffOrDoze(f.NewMode)
	}
	reply(msg, structs.Reply{Err: err})
}

func (d *Dispatcher) handleSignal(msg *structs.Message) {
	if d.signals == nil {
		reply(msg, structs.Reply{Err: structs.NewError(structs.ErrBadRequest, "no signal handler configured")})
		return
	}
	var err error
	switch msg.Kind {
	case structs.MsgSignalAcquire:
		err = d.signals.Acquire(msg.Signal)
	case structs.MsgSignalRelease:
		err = d.signals.Release(msg.Signal)
	case structs.MsgSignalRelay:
		err = d.signals.Relay(msg.Signal)
	}
	reply(msg, structs.Reply{Err: err})
}
