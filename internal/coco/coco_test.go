// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package coco_test

import (
	"testing"

	"github.com/resourcetuner/urm/internal/ci"
	"github.com/resourcetuner/urm/internal/coco"
	"github.com/resourcetuner/urm/internal/registry"
	"github.com/resourcetuner/urm/internal/structs"
	"github.com/shoenig/test/must"
)

type event struct {
	kind  string // "apply" | "reset"
	value int32
}

type fakeCallbacks struct {
	events     []event
	forceEmpty bool
}

func (f *fakeCallbacks) Apply(rc *structs.ResourceConfig, tgt coco.Target, res *structs.Resource) error {
	f.events = append(f.events, event{kind: "apply", value: res.Values[0]})
	return nil
}

func (f *fakeCallbacks) Reset(rc *structs.ResourceConfig, tgt coco.Target, defaultValue string) error {
	f.events = append(f.events, event{kind: "reset"})
	return nil
}

func (f *fakeCallbacks) ReadCurrent(rc *structs.ResourceConfig, tgt coco.Target) (string, error) {
	if f.forceEmpty {
		return "", nil
	}
	return "1000", nil
}

func setup(t *testing.T, policy structs.Policy) (*coco.Table, *fakeCallbacks, structs.Opcode) {
	t.Helper()
	opcode := structs.Opcode(0x00040000)
	rc := &structs.ResourceConfig{
		Opcode: opcode,
		Name:   "cpu.freq.max",
		Low:    0,
		High:   4096,
		Scope:  structs.ScopeGlobal,
		Policy: policy,
	}
	reg, err := registry.New([]*structs.ResourceConfig{rc}, nil, registry.WithTopologyOverride(&registry.Topology{Clusters: [][]int{{0, 1}}}))
	must.NoError(t, err)
	cb := &fakeCallbacks{}
	return coco.New(reg, cb), cb, opcode
}

func tuneReq(handle int64, opcode structs.Opcode, value int32, prio structs.Priority) *structs.Request {
	return &structs.Request{
		Handle:   handle,
		Type:     structs.RequestTune,
		Priority: prio,
		ModeMask: structs.ModeResume,
		Resources: []*structs.Resource{
			{Opcode: opcode, Count: 1, Values: []int32{value}},
		},
	}
}

// Scenario 2 from spec §8: two competing tunes, higher_is_better.
func TestCoco_HigherIsBetter_PriorityWinsOverValue(t *testing.T) {
	ci.Parallel(t)

	table, cb, opcode := setup(t, structs.PolicyHigherIsBetter)

	reqA := tuneReq(1, opcode, 2000, structs.SystemLow)
	_, err := table.Insert(reqA, structs.ModeOn)
	must.NoError(t, err)

	reqB := tuneReq(2, opcode, 1500, structs.SystemHigh)
	_, err = table.Insert(reqB, structs.ModeOn)
	must.NoError(t, err)

	must.Len(t, 2, cb.events)
	must.Eq(t, int32(2000), cb.events[0].value)
	must.Eq(t, int32(1500), cb.events[1].value) // higher priority wins regardless of value

	_, err = table.Remove(reqA.CocoNodeIDs)
	must.NoError(t, err)
	must.Len(t, 2, cb.events) // A wasn't the winner; removing it changes nothing

	_, err = table.Remove(reqB.CocoNodeIDs)
	must.NoError(t, err)
	must.Eq(t, "reset", cb.events[len(cb.events)-1].kind)
}

// Scenario 3 from spec §8: lazy_apply FIFO.
func TestCoco_LazyApply_FIFO(t *testing.T) {
	ci.Parallel(t)

	table, cb, opcode := setup(t, structs.PolicyLazyApply)

	req1 := tuneReq(1, opcode, 10, structs.SystemLow)
	req2 := tuneReq(2, opcode, 20, structs.SystemLow)
	req3 := tuneReq(3, opcode, 30, structs.SystemLow)

	_, err := table.Insert(req1, structs.ModeOn)
	must.NoError(t, err)
	_, err = table.Insert(req2, structs.ModeOn)
	must.NoError(t, err)
	_, err = table.Insert(req3, structs.ModeOn)
	must.NoError(t, err)

	must.Len(t, 1, cb.events) // only the first insert causes a write
	must.Eq(t, int32(10), cb.events[0].value)

	_, err = table.Remove(req1.CocoNodeIDs)
	must.NoError(t, err)
	must.Eq(t, int32(20), cb.events[len(cb.events)-1].value)

	_, err = table.Remove(req2.CocoNodeIDs)
	must.NoError(t, err)
	must.Eq(t, int32(30), cb.events[len(cb.events)-1].value)

	_, err = table.Remove(req3.CocoNodeIDs)
	must.NoError(t, err)
	must.Eq(t, "reset", cb.events[len(cb.events)-1].kind)
}

// Round-trip idempotence from spec §8: insert(R); remove(R) restores
// the table (no leftover applied state, a later insert captures the
// default afresh).
func TestCoco_InsertRemove_RoundTrip(t *testing.T) {
	ci.Parallel(t)

	table, cb, opcode := setup(t, structs.PolicyInstantApply)
	req := tuneReq(1, opcode, 42, structs.SystemHigh)

	_, err := table.Insert(req, structs.ModeOn)
	must.NoError(t, err)
	rc := &structs.ResourceConfig{Opcode: opcode, Scope: structs.ScopeGlobal}
	must.False(t, table.IsAtDefault(rc, coco.Target{Scope: structs.ScopeGlobal}))

	_, err = table.Remove(req.CocoNodeIDs)
	must.NoError(t, err)
	must.True(t, table.IsAtDefault(rc, coco.Target{Scope: structs.ScopeGlobal}))
	must.Eq(t, 0, table.NodeCount())
}

func TestCoco_ModeIncompatibleRejectsInsert(t *testing.T) {
	ci.Parallel(t)

	table, _, opcode := setup(t, structs.PolicyInstantApply)
	req := tuneReq(1, opcode, 1, structs.SystemHigh)
	req.ModeMask = structs.ModeResume // doesn't include suspend

	_, err := table.Insert(req, structs.ModeOff)
	must.Error(t, err)
	must.True(t, structs.KindIs(err, structs.ErrModeIncompat))
}

// An applier that cannot report a current value before the first ever
// write must not silently adopt the write itself as "the default"
// (Design Notes §9, the run_on_cores_exclusively hazard).
func TestCoco_EmptyDefaultGuard(t *testing.T) {
	ci.Parallel(t)

	opcode := structs.Opcode(0x00040000)
	rc := &structs.ResourceConfig{Opcode: opcode, Name: "cpu.freq.max", Scope: structs.ScopeGlobal, Policy: structs.PolicyInstantApply}
	reg, err := registry.New([]*structs.ResourceConfig{rc}, nil, registry.WithTopologyOverride(&registry.Topology{Clusters: [][]int{{0}}}))
	must.NoError(t, err)
	table := coco.New(reg, &fakeCallbacks{forceEmpty: true})

	req := tuneReq(1, opcode, 1, structs.SystemHigh)
	_, err = table.Insert(req, structs.ModeOn)
	must.Error(t, err)
	must.True(t, structs.KindIs(err, structs.ErrBadRequest))
}
