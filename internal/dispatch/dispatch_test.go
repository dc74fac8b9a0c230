// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package dispatch_test

import (
	"testing"
	"time"

	"github.com/resourcetuner/urm/internal/ci"
	"github.com/resourcetuner/urm/internal/clientreg"
	"github.com/resourcetuner/urm/internal/coco"
	"github.com/resourcetuner/urm/internal/dispatch"
	"github.com/resourcetuner/urm/internal/pqueue"
	"github.com/resourcetuner/urm/internal/ratelimit"
	"github.com/resourcetuner/urm/internal/registry"
	"github.com/resourcetuner/urm/internal/reqreg"
	"github.com/resourcetuner/urm/internal/structs"
	"github.com/resourcetuner/urm/internal/timerwheel"
	"github.com/shoenig/test/must"
	"oss.indeed.com/go/libtime"
)

// noopTimer never fires; its Wait channel is never written to. Used so
// dispatcher tests that exercise Install don't leave a real 1s sleep
// ticking in the background after the test returns.
type noopTimer struct{ ch chan time.Time }

func (t *noopTimer) Wait() <-chan time.Time { return t.ch }
func (t *noopTimer) Stop() bool             { return true }

type noopClock struct{}

func (noopClock) Now() time.Time                      { return time.Time{} }
func (noopClock) NewTimer(time.Duration) libtime.Timer { return &noopTimer{ch: make(chan time.Time)} }

func fakeTrust(int32) (structs.TrustLevel, error) { return structs.TrustSystem, nil }

const opX = structs.Opcode(0x00040001)

type fixture struct {
	d     *dispatch.Dispatcher
	queue *pqueue.Queue
	reqs  *reqreg.Registry
	table *coco.Table
	cb    *fakeCallbacks
}

type fakeCallbacks struct {
	applied []int32
	resets  int
}

func (f *fakeCallbacks) Apply(rc *structs.ResourceConfig, tgt coco.Target, r *structs.Resource) error {
	f.applied = append(f.applied, r.Values[0])
	return nil
}
func (f *fakeCallbacks) Reset(rc *structs.ResourceConfig, tgt coco.Target, defaultValue string) error {
	f.resets++
	return nil
}
func (f *fakeCallbacks) ReadCurrent(rc *structs.ResourceConfig, tgt coco.Target) (string, error) {
	return "1000", nil
}

func build(t *testing.T) *fixture {
	t.Helper()

	rc := &structs.ResourceConfig{
		Opcode: opX, Name: "x", Scope: structs.ScopeGlobal,
		Policy: structs.PolicyHigherIsBetter, Low: 0, High: 10000,
		Permission: structs.PermThirdParty, AllowedModes: structs.ModeResume,
	}
	reg, err := registry.New([]*structs.ResourceConfig{rc}, nil, registry.WithTopologyOverride(&registry.Topology{Clusters: [][]int{{0}}}))
	must.NoError(t, err)

	clients, err := clientreg.New(fakeTrust)
	must.NoError(t, err)

	counter := func() int { return 0 }
	limiter, err := ratelimit.New(ratelimit.Config{DeltaMS: 0, Penalty: 0, Reward: 0}, clients, counter)
	must.NoError(t, err)

	reqs, err := reqreg.New()
	must.NoError(t, err)

	cb := &fakeCallbacks{}
	table := coco.New(reg, cb)

	timers := timerwheel.New(noopClock{}, func(handle int64) {})
	queue := pqueue.New()

	d := dispatch.New(queue, reg, clients, limiter, reqs, table, timers, nil, nil, nil, func() int64 { return 0 }, nil)
	return &fixture{d: d, queue: queue, reqs: reqs, table: table, cb: cb}
}

func tuneFrame(pid, tid int32, value int32, durationMS int64) *structs.TuneFrame {
	return &structs.TuneFrame{
		DurationMS: durationMS,
		Properties: structs.EncodeProperties(structs.ClientHigh, structs.ModeResume),
		Pid:        pid,
		Tid:        tid,
		Resources: []*structs.Resource{
			{Opcode: opX, Count: 1, Values: []int32{value}},
		},
	}
}

// Scenario 1 from spec §8: a single tune request is admitted, assigned
// a handle, and applied.
func TestDispatcher_SingleTune(t *testing.T) {
	ci.Parallel(t)
	f := build(t)

	handle, err := f.d.SubmitTune(tuneFrame(1, 1, 500, 1000))
	must.NoError(t, err)
	must.NonZero(t, handle)

	msg := popOne(t, f)
	must.Eq(t, structs.MsgTune, msg.Kind)
	f.d.Dispatch(msg)

	req, ok := f.reqs.Get(handle)
	must.True(t, ok)
	must.Eq(t, structs.StatusCompleted, req.Status)
	must.Len(t, 1, f.cb.applied)
	must.Eq(t, int32(500), f.cb.applied[0])
}

// Scenario 4 from spec §8: retune extends duration without re-applying
// or reinstalling a second timer.
func TestDispatcher_RetuneExtendsDuration(t *testing.T) {
	ci.Parallel(t)
	f := build(t)

	handle, err := f.d.SubmitTune(tuneFrame(1, 1, 500, 1000))
	must.NoError(t, err)
	f.d.Dispatch(popOne(t, f))
	must.Eq(t, 1, len(f.cb.applied))

	must.NoError(t, f.d.SubmitRetune(&structs.RetuneFrame{Handle: handle, DurationMS: 3000, Pid: 1, Tid: 1}))
	f.d.Dispatch(popOne(t, f))

	req, ok := f.reqs.Get(handle)
	must.True(t, ok)
	must.Eq(t, 3*time.Second, req.Duration)
	must.Len(t, 1, f.cb.applied) // unchanged: retune never re-applies
}

// A duplicate tune request (same tid, identical resource list) from
// the same tid is rejected at admission and never reaches the queue.
func TestDispatcher_DuplicateTuneRejectedAtAdmission(t *testing.T) {
	ci.Parallel(t)
	f := build(t)

	_, err := f.d.SubmitTune(tuneFrame(1, 1, 500, 1000))
	must.NoError(t, err)

	_, err = f.d.SubmitTune(tuneFrame(1, 1, 500, 1000))
	must.Error(t, err)
	must.True(t, structs.KindIs(err, structs.ErrBadRequest))
}

// Spec §7: duration 0 or < -1 is bad_request at admission, rejected
// before a handle is ever assigned. A 0 duration would otherwise arm
// an immediately-firing timer; a negative-but-not-InfiniteDuration
// value would pass the req.Duration >= 0 check as false and leave an
// active tune with no timer at all (spec §8's Timer count invariant).
func TestDispatcher_TuneRejectsMalformedDuration(t *testing.T) {
	ci.Parallel(t)
	f := build(t)

	_, err := f.d.SubmitTune(tuneFrame(1, 1, 500, 0))
	must.Error(t, err)
	must.True(t, structs.KindIs(err, structs.ErrBadRequest))

	_, err = f.d.SubmitTune(tuneFrame(1, 1, 500, -5))
	must.Error(t, err)
	must.True(t, structs.KindIs(err, structs.ErrBadRequest))

	// -1 (InfiniteDuration) is still valid and admitted normally.
	handle, err := f.d.SubmitTune(tuneFrame(2, 2, 500, structs.InfiniteDuration))
	must.NoError(t, err)
	must.NonZero(t, handle)
}

// The sticky-cancel race: an untune admitted before its matching tune
// is ever popped leaves the tune a no-op when it is eventually popped,
// and the untune itself is a no-op too (nothing was ever installed).
func TestDispatcher_UntuneRacesAheadOfTune(t *testing.T) {
	ci.Parallel(t)
	f := build(t)

	handle, err := f.d.SubmitTune(tuneFrame(1, 1, 500, 1000))
	must.NoError(t, err)

	must.NoError(t, f.d.SubmitUntune(&structs.UntuneFrame{Handle: handle, Pid: 1, Tid: 1}))

	// Drain in FIFO order: tune first (lower seq), then untune.
	tuneMsg := popOne(t, f)
	untuneMsg := popOne(t, f)

	f.d.Dispatch(tuneMsg)
	must.Len(t, 0, f.cb.applied) // tune dropped: already cancelled
	_, stillThere := f.reqs.Get(handle)
	must.False(t, stillThere) // tune's own cleanup removed the row

	f.d.Dispatch(untuneMsg)
	must.Len(t, 0, f.cb.applied)
}

// A normal, non-racing untune after the tune has completed removes the
// applied value and restores the default.
func TestDispatcher_UntuneAfterCompletion(t *testing.T) {
	ci.Parallel(t)
	f := build(t)

	handle, err := f.d.SubmitTune(tuneFrame(1, 1, 500, 1000))
	must.NoError(t, err)
	f.d.Dispatch(popOne(t, f))
	must.Len(t, 1, f.cb.applied)

	must.NoError(t, f.d.SubmitUntune(&structs.UntuneFrame{Handle: handle, Pid: 1, Tid: 1}))
	f.d.Dispatch(popOne(t, f))

	must.Eq(t, 1, f.cb.resets)
	_, ok := f.reqs.Get(handle)
	must.False(t, ok)
}

// Untune from a foreign pid is dropped (Design Notes §9: stricter
// pid-match check adopted uniformly).
func TestDispatcher_UntuneForeignPidRejected(t *testing.T) {
	ci.Parallel(t)
	f := build(t)

	handle, err := f.d.SubmitTune(tuneFrame(1, 1, 500, 1000))
	must.NoError(t, err)

	err = f.d.SubmitUntune(&structs.UntuneFrame{Handle: handle, Pid: 999, Tid: 1})
	must.Error(t, err)
	must.True(t, structs.KindIs(err, structs.ErrNotFound))
}

func popOne(t *testing.T, f *fixture) *structs.Message {
	t.Helper()
	msg := f.queue.Pop()
	must.NotNil(t, msg)
	return msg
}
