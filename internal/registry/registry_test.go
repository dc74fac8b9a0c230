// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package registry_test

import (
	"testing"

	"github.com/resourcetuner/urm/internal/ci"
	"github.com/resourcetuner/urm/internal/registry"
	"github.com/resourcetuner/urm/internal/structs"
	"github.com/shoenig/test/must"
)

func fixtureTopology() *registry.Topology {
	return &registry.Topology{Clusters: [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}}}
}

func TestRegistry_LookupAndCGroup(t *testing.T) {
	ci.Parallel(t)

	rc := &structs.ResourceConfig{
		Opcode: 0x00040000,
		Name:   "cpu.freq.max",
		Low:    0,
		High:   4096,
		Scope:  structs.ScopeGlobal,
		Policy: structs.PolicyHigherIsBetter,
	}
	cg := &registry.CGroupConfig{NameID: 1, Name: "background", Path: "/sys/fs/cgroup/background"}

	reg, err := registry.New(
		[]*structs.ResourceConfig{rc},
		[]*registry.CGroupConfig{cg},
		registry.WithTopologyOverride(fixtureTopology()),
	)
	must.NoError(t, err)

	must.NotNil(t, reg.Lookup(0x00040000))
	must.Nil(t, reg.Lookup(0x00050000))
	must.Eq(t, "background", reg.CGroup(1).Name)
	must.Nil(t, reg.CGroup(2))
}

func TestRegistry_DuplicateOpcodeRejected(t *testing.T) {
	ci.Parallel(t)

	rc1 := &structs.ResourceConfig{Opcode: 1, Name: "a"}
	rc2 := &structs.ResourceConfig{Opcode: 1, Name: "b"}

	_, err := registry.New([]*structs.ResourceConfig{rc1, rc2}, nil, registry.WithTopologyOverride(fixtureTopology()))
	must.Error(t, err)
}

func TestRegistry_LogicalToPhysical(t *testing.T) {
	ci.Parallel(t)

	reg, err := registry.New(nil, nil, registry.WithTopologyOverride(fixtureTopology()))
	must.NoError(t, err)

	phys, ok := reg.LogicalToPhysical(1, 2)
	must.True(t, ok)
	must.Eq(t, 6, phys)

	_, ok = reg.LogicalToPhysical(5, 0)
	must.False(t, ok)
}

func TestTopology_Counts(t *testing.T) {
	ci.Parallel(t)

	topo := fixtureTopology()
	must.Eq(t, 2, topo.ClusterCount())
	must.Eq(t, 8, topo.CoreCount())
}
