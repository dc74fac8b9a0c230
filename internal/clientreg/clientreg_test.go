// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package clientreg_test

import (
	"testing"

	"github.com/resourcetuner/urm/internal/ci"
	"github.com/resourcetuner/urm/internal/clientreg"
	"github.com/resourcetuner/urm/internal/structs"
	"github.com/shoenig/test/must"
)

func fakeTrust(pid int32) (structs.TrustLevel, error) {
	if pid == 0 {
		return structs.TrustSystem, nil
	}
	return structs.TrustThirdParty, nil
}

func TestClientRegistry_EnsureIdempotent(t *testing.T) {
	ci.Parallel(t)

	r, err := clientreg.New(fakeTrust)
	must.NoError(t, err)

	must.NoError(t, r.Ensure(100, 100))
	must.NoError(t, r.Ensure(100, 100))

	h, ok := r.HealthOf(100)
	must.True(t, ok)
	must.Eq(t, 100.0, h)

	trust, ok := r.TrustOf(100)
	must.True(t, ok)
	must.Eq(t, structs.TrustThirdParty, trust)
}

func TestClientRegistry_HandlesAttachDetach(t *testing.T) {
	ci.Parallel(t)

	r, err := clientreg.New(fakeTrust)
	must.NoError(t, err)
	must.NoError(t, r.Ensure(1, 11))

	must.NoError(t, r.AttachHandle(11, 1))
	must.NoError(t, r.AttachHandle(11, 2))
	must.Len(t, 2, r.ListHandles(11))

	must.NoError(t, r.DetachHandle(11, 1))
	handles := r.ListHandles(11)
	must.Len(t, 1, handles)
	must.Eq(t, int64(2), handles[0])
}

func TestClientRegistry_ListTidsAndPids(t *testing.T) {
	ci.Parallel(t)

	r, err := clientreg.New(fakeTrust)
	must.NoError(t, err)
	must.NoError(t, r.Ensure(5, 50))
	must.NoError(t, r.Ensure(5, 51))
	must.NoError(t, r.Ensure(6, 60))

	tids := r.ListTids(5)
	must.Len(t, 2, tids)

	pids := r.ListActivePids()
	must.Len(t, 2, pids)
}

func TestClientRegistry_HealthClamped(t *testing.T) {
	ci.Parallel(t)

	r, err := clientreg.New(fakeTrust)
	must.NoError(t, err)
	must.NoError(t, r.Ensure(1, 11))

	must.NoError(t, r.SetHealth(11, 250))
	h, _ := r.HealthOf(11)
	must.Eq(t, 100.0, h)

	must.NoError(t, r.SetHealth(11, -50))
	h, _ = r.HealthOf(11)
	must.Eq(t, 0.0, h)
}

func TestClientRegistry_DropPidRemovesTids(t *testing.T) {
	ci.Parallel(t)

	r, err := clientreg.New(fakeTrust)
	must.NoError(t, err)
	must.NoError(t, r.Ensure(7, 70))
	must.NoError(t, r.Ensure(7, 71))

	must.NoError(t, r.DropPid(7))
	must.Len(t, 0, r.ListTids(7))
	must.Len(t, 0, r.ListActivePids())
}

func TestClientRegistry_DropTidKeepsPid(t *testing.T) {
	ci.Parallel(t)

	r, err := clientreg.New(fakeTrust)
	must.NoError(t, err)
	must.NoError(t, r.Ensure(8, 80))
	must.NoError(t, r.Ensure(8, 81))

	must.NoError(t, r.DropTid(80))
	tids := r.ListTids(8)
	must.Len(t, 1, tids)
	must.Eq(t, int32(81), tids[0])
}
