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

// setupScoped builds a two-cluster topology with deliberately
// non-contiguous physical core ids ({0,1},{4,5}) so a bounds check
// against CoreCount() alone couldn't catch an out-of-range pinned core.
func setupScoped(t *testing.T, scope structs.ApplyScope) (*coco.Table, structs.Opcode) {
	t.Helper()
	opcode := structs.Opcode(0x00040001)
	rc := &structs.ResourceConfig{
		Opcode: opcode,
		Name:   "scoped.res",
		Low:    0,
		High:   4096,
		Scope:  scope,
		Policy: structs.PolicyHigherIsBetter,
	}
	reg, err := registry.New([]*structs.ResourceConfig{rc}, nil,
		registry.WithTopologyOverride(&registry.Topology{Clusters: [][]int{{0, 1}, {4, 5}}}))
	must.NoError(t, err)
	return coco.New(reg, &fakeCallbacks{}), opcode
}

func pinnedReq(handle int64, opcode structs.Opcode, info int32) *structs.Request {
	return &structs.Request{
		Handle:   handle,
		Type:     structs.RequestTune,
		Priority: structs.SystemHigh,
		ModeMask: structs.ModeResume,
		Resources: []*structs.Resource{
			{Opcode: opcode, Info: info, Count: 1, Values: []int32{500}},
		},
	}
}

func TestCoco_Insert_UnknownPinnedClusterRejected(t *testing.T) {
	ci.Parallel(t)
	table, opcode := setupScoped(t, structs.ScopeCluster)

	_, err := table.Insert(pinnedReq(1, opcode, 99), structs.ModeOn)
	must.Error(t, err)
	must.True(t, structs.KindIs(err, structs.ErrBadRequest))
	must.Eq(t, 0, table.NodeCount())
}

func TestCoco_Insert_KnownPinnedClusterAccepted(t *testing.T) {
	ci.Parallel(t)
	table, opcode := setupScoped(t, structs.ScopeCluster)

	_, err := table.Insert(pinnedReq(1, opcode, 1), structs.ModeOn)
	must.NoError(t, err)
	must.Eq(t, 1, table.NodeCount())
}

func TestCoco_Insert_UnknownPinnedCoreRejected(t *testing.T) {
	ci.Parallel(t)
	table, opcode := setupScoped(t, structs.ScopeCore)

	// 99 is not a physical core id anywhere in the topology.
	_, err := table.Insert(pinnedReq(1, opcode, 99), structs.ModeOn)
	must.Error(t, err)
	must.True(t, structs.KindIs(err, structs.ErrBadRequest))
	must.Eq(t, 0, table.NodeCount())
}

func TestCoco_Insert_KnownPinnedCoreAccepted(t *testing.T) {
	ci.Parallel(t)
	table, opcode := setupScoped(t, structs.ScopeCore)

	// 4 is a real physical core id (second cluster's first core).
	_, err := table.Insert(pinnedReq(1, opcode, 4), structs.ModeOn)
	must.NoError(t, err)
	must.Eq(t, 1, table.NodeCount())
}
