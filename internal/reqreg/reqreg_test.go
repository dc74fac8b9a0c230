// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package reqreg_test

import (
	"testing"

	"github.com/resourcetuner/urm/internal/ci"
	"github.com/resourcetuner/urm/internal/reqreg"
	"github.com/resourcetuner/urm/internal/structs"
	"github.com/shoenig/test/must"
)

func sampleRequest(r *reqreg.Registry, tid int32, value int32) *structs.Request {
	return &structs.Request{
		Handle: r.NextHandle(),
		Type:   structs.RequestTune,
		Tid:    tid,
		Resources: []*structs.Resource{
			{Opcode: 0x40000, Count: 1, Values: []int32{value}},
		},
	}
}

func TestReqReg_InsertGetRemove(t *testing.T) {
	ci.Parallel(t)

	r, err := reqreg.New()
	must.NoError(t, err)

	req := sampleRequest(r, 10, 100)
	must.NoError(t, r.Insert(req))
	must.True(t, r.Verify(req.Handle))

	got, ok := r.Get(req.Handle)
	must.True(t, ok)
	must.Eq(t, req.Handle, got.Handle)

	must.NoError(t, r.Remove(req.Handle))
	must.False(t, r.Verify(req.Handle))
}

func TestReqReg_HandlesMonotonic(t *testing.T) {
	ci.Parallel(t)

	r, err := reqreg.New()
	must.NoError(t, err)

	h1 := r.NextHandle()
	h2 := r.NextHandle()
	must.True(t, h1 > structs.NoHandle)
	must.True(t, h2 > h1)
}

func TestReqReg_DuplicateDetectionOrderSensitive(t *testing.T) {
	ci.Parallel(t)

	r, err := reqreg.New()
	must.NoError(t, err)

	req := sampleRequest(r, 20, 500)
	must.NoError(t, r.Insert(req))

	dup, err := r.FindDuplicate(20, req.Resources)
	must.NoError(t, err)
	must.NotNil(t, dup)
	must.Eq(t, req.Handle, dup.Handle)

	reordered := []*structs.Resource{
		{Opcode: 0x40001, Count: 1, Values: []int32{1}},
		req.Resources[0],
	}
	dup, err = r.FindDuplicate(20, reordered)
	must.NoError(t, err)
	must.Nil(t, dup)
}

func TestReqReg_CancelIsSticky(t *testing.T) {
	ci.Parallel(t)

	r, err := reqreg.New()
	must.NoError(t, err)

	req := sampleRequest(r, 30, 1)
	must.NoError(t, r.Insert(req))

	must.NoError(t, r.MarkCancelled(req.Handle))
	must.NoError(t, r.MarkCompleted(req.Handle))

	got, _ := r.Get(req.Handle)
	must.Eq(t, structs.StatusCancelled, got.Status)
}

func TestReqReg_ModifyDurationRespectsCancel(t *testing.T) {
	ci.Parallel(t)

	r, err := reqreg.New()
	must.NoError(t, err)

	req := sampleRequest(r, 40, 1)
	must.NoError(t, r.Insert(req))
	must.NoError(t, r.MarkCancelled(req.Handle))

	must.NoError(t, r.ModifyDuration(req.Handle, 5000))
	got, _ := r.Get(req.Handle)
	must.Eq(t, 0, int(got.Duration))
}

func TestReqReg_PartitionsAndActiveCount(t *testing.T) {
	ci.Parallel(t)

	r, err := reqreg.New()
	must.NoError(t, err)

	req := sampleRequest(r, 50, 1)
	must.NoError(t, r.Insert(req))
	must.Eq(t, 1, r.ActiveCount())

	must.NoError(t, r.SetPartition(req.Handle, reqreg.PartitionPendingTune))
	must.Eq(t, 0, r.ActiveCount())
	must.Len(t, 1, r.ListByPartition(reqreg.PartitionPendingTune))
}
