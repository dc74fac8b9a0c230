// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package dispatch

import (
	"time"

	"github.com/resourcetuner/urm/internal/structs"
)

// SubmitTune runs the full admission pipeline for a tune frame (spec
// §4.11 steps preceding enqueue): client bookkeeping, permission and
// range validation, the health-model rate limiter, duplicate
// detection, handle assignment, and finally enqueueing onto the
// Priority Queue for the dispatcher to pick up. The handle is returned
// synchronously so the caller can hand it back over the wire before
// the dispatcher has actually run CocoTable.insert.
func (d *Dispatcher) SubmitTune(f *structs.TuneFrame) (int64, error) {
	if err := d.clients.Ensure(f.Pid, f.Tid); err != nil {
		return structs.NoHandle, err
	}

	cp, mask := structs.DecodeProperties(f.Properties)
	trust, _ := d.clients.TrustOf(f.Pid)
	prio := structs.DerivePriority(trust, cp)

	if err := d.validateResources(trust, f.Resources); err != nil {
		return structs.NoHandle, err
	}
	if f.DurationMS == 0 || f.DurationMS < structs.InfiniteDuration {
		return structs.NoHandle, structs.NewError(structs.ErrBadRequest, "invalid duration %d", f.DurationMS)
	}

	if dec := d.limiter.Admit(f.Tid, d.now(), true); !dec.Allowed {
		return structs.NoHandle, structs.NewError(dec.Reason, "tune rejected for tid %d", f.Tid)
	}

	dup, err := d.reqs.FindDuplicate(f.Tid, f.Resources)
	if err != nil {
		return structs.NoHandle, err
	}
	if dup != nil {
		return structs.NoHandle, structs.NewError(structs.ErrBadRequest, "duplicate of handle %d", dup.Handle)
	}

	handle := d.reqs.NextHandle()
	req := &structs.Request{
		Handle:    handle,
		Type:      structs.RequestTune,
		Duration:  durationOf(f.DurationMS),
		Priority:  prio,
		ModeMask:  mask,
		Pid:       f.Pid,
		Tid:       f.Tid,
		Resources: f.Resources,
	}
	if err := d.reqs.Insert(req); err != nil {
		return structs.NoHandle, err
	}
	if err := d.clients.AttachHandle(f.Tid, handle); err != nil {
		return structs.NoHandle, err
	}

	frame := *f
	frame.Handle = handle
	msg := &structs.Message{Kind: structs.MsgTune, Priority: prio, Tune: &frame}
	if err := d.queue.AddAndWakeup(msg); err != nil {
		return structs.NoHandle, err
	}
	return handle, nil
}

// SubmitRetune validates ownership up front (Design Notes §9: adopt
// the stricter pid-match check uniformly) and enqueues; the actual
// duration update and timer rearm happen on the dispatcher thread.
func (d *Dispatcher) SubmitRetune(f *structs.RetuneFrame) error {
	req, ok := d.reqs.Get(f.Handle)
	if !ok {
		return structs.NewError(structs.ErrNotFound, "handle %d", f.Handle)
	}
	if req.Pid != f.Pid {
		return structs.NewError(structs.ErrNotFound, "handle %d not owned by pid %d", f.Handle, f.Pid)
	}

	trust, _ := d.clients.TrustOf(f.Pid)
	prio := structs.DerivePriority(trust, structs.ClientHigh)
	msg := &structs.Message{Kind: structs.MsgRetune, Priority: prio, Retune: f}
	return d.queue.AddAndWakeup(msg)
}

// SubmitUntune validates ownership, sets the sticky cancelled bit
// immediately (before the message is even enqueued, let alone popped),
// and enqueues. This is what makes the race in spec §5 "Ordering
// guarantees" safe regardless of where the matching tune currently
// sits in the queue: once this call returns, the tune is doomed to
// drop itself the moment it is popped, even if it hasn't been popped
// yet.
//
// f.Pid == 0 skips the ownership check, the same bypass handleUntune
// applies: untunes synthesized internally (Signal Release, persisted-
// default teardown) aren't attributed to any one client pid.
func (d *Dispatcher) SubmitUntune(f *structs.UntuneFrame) error {
	req, ok := d.reqs.Get(f.Handle)
	if !ok {
		return structs.NewError(structs.ErrNotFound, "handle %d", f.Handle)
	}
	if f.Pid != 0 && req.Pid != f.Pid {
		return structs.NewError(structs.ErrNotFound, "handle %d not owned by pid %d", f.Handle, f.Pid)
	}
	if err := d.reqs.MarkCancelled(f.Handle); err != nil {
		return err
	}

	trust, _ := d.clients.TrustOf(f.Pid)
	prio := structs.DerivePriority(trust, structs.ClientHigh)
	msg := &structs.Message{Kind: structs.MsgUntune, Priority: prio, Untune: f}
	return d.queue.AddAndWakeup(msg)
}

func (d *Dispatcher) validateResources(trust structs.TrustLevel, resources []*structs.Resource) error {
	for _, res := range resources {
		rc := d.registry.Lookup(res.Opcode)
		if rc == nil {
			return structs.NewError(structs.ErrBadRequest, "unknown opcode %#x", res.Opcode)
		}
		if trust == structs.TrustThirdParty && rc.Permission == structs.PermSystem {
			return structs.NewError(structs.ErrBadRequest, "opcode %#x requires system trust", res.Opcode)
		}
		for _, v := range res.Values {
			if !rc.InRange(v) {
				return structs.NewError(structs.ErrBadRequest, "value %d out of range for %s", v, rc.Name)
			}
		}
	}
	return nil
}

func durationOf(durationMS int64) time.Duration {
	if durationMS == structs.InfiniteDuration {
		return -1
	}
	return time.Duration(durationMS) * time.Millisecond
}
