// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package structs_test

import (
	"testing"

	"github.com/resourcetuner/urm/internal/ci"
	"github.com/resourcetuner/urm/internal/structs"
	"github.com/shoenig/test/must"
)

func TestDerivePriority(t *testing.T) {
	ci.Parallel(t)

	must.Eq(t, structs.SystemHigh, structs.DerivePriority(structs.TrustSystem, structs.ClientHigh))
	must.Eq(t, structs.SystemLow, structs.DerivePriority(structs.TrustSystem, structs.ClientLow))
	must.Eq(t, structs.ThirdPartyHigh, structs.DerivePriority(structs.TrustThirdParty, structs.ClientHigh))
	must.Eq(t, structs.ThirdPartyLow, structs.DerivePriority(structs.TrustThirdParty, structs.ClientLow))
}

func TestPriorityRank_PseudoLevelsFrontRun(t *testing.T) {
	ci.Parallel(t)

	must.True(t, structs.HighTransfer.Rank() < structs.SystemHigh.Rank())
	must.True(t, structs.SystemHigh.Rank() < structs.SystemLow.Rank())
	must.True(t, structs.SystemLow.Rank() < structs.ThirdPartyHigh.Rank())
	must.True(t, structs.ThirdPartyHigh.Rank() < structs.ThirdPartyLow.Rank())
}

func TestEncodeDecodeProperties(t *testing.T) {
	ci.Parallel(t)

	props := structs.EncodeProperties(structs.ClientHigh, structs.ModeResume|structs.ModeDoze)
	cp, mask := structs.DecodeProperties(props)
	must.Eq(t, structs.ClientHigh, cp)
	must.Eq(t, structs.ModeResume|structs.ModeDoze, mask)
}

func TestResourceConfig_InRange(t *testing.T) {
	ci.Parallel(t)

	rc := &structs.ResourceConfig{Low: 0, High: 4096}
	must.True(t, rc.InRange(0))
	must.True(t, rc.InRange(4096))
	must.False(t, rc.InRange(-1))
	must.False(t, rc.InRange(4097))
}

func TestResource_Equal(t *testing.T) {
	ci.Parallel(t)

	a := &structs.Resource{Opcode: 1, Info: 2, Values: []int32{3, 4}}
	b := &structs.Resource{Opcode: 1, Info: 2, Values: []int32{3, 4}}
	c := &structs.Resource{Opcode: 1, Info: 2, Values: []int32{4, 3}}

	must.True(t, a.Equal(b))
	must.False(t, a.Equal(c))
}
