// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package gc_test

import (
	"testing"

	"github.com/resourcetuner/urm/internal/ci"
	"github.com/resourcetuner/urm/internal/clientreg"
	"github.com/resourcetuner/urm/internal/gc"
	"github.com/resourcetuner/urm/internal/pqueue"
	"github.com/resourcetuner/urm/internal/structs"
	"github.com/shoenig/test/must"
)

func fakeTrust(int32) (structs.TrustLevel, error) { return structs.TrustThirdParty, nil }

// Scenario 5 from spec §8: client crash reclamation. A third-party pid
// holding 3 tunes on independent resources is killed; the Pulse
// Monitor marks it dead, the Handle GC synthesizes 3 untunes at
// HIGH_TRANSFER.
func TestSweeper_ReclaimsCrashedClient(t *testing.T) {
	ci.Parallel(t)

	clients, err := clientreg.New(fakeTrust)
	must.NoError(t, err)
	must.NoError(t, clients.Ensure(99, 1))
	for _, h := range []int64{10, 20, 30} {
		must.NoError(t, clients.AttachHandle(1, h))
	}

	q := pqueue.New()
	dead := map[int32]bool{99: true}
	sw := gc.New(clients, q, gc.WithPidExists(func(pid int32) bool { return !dead[pid] }))

	sw.PulseOnce()
	must.NoError(t, sw.CollectOnce())

	must.Eq(t, 3, q.Len())
	seen := map[int64]bool{}
	for i := 0; i < 3; i++ {
		m := q.Pop()
		must.Eq(t, structs.MsgUntune, m.Kind)
		must.Eq(t, structs.HighTransfer, m.Priority)
		seen[m.Untune.Handle] = true
	}
	must.True(t, seen[10] && seen[20] && seen[30])

	must.Len(t, 0, clients.ListTids(99))
}

func TestSweeper_LiveClientIsUntouched(t *testing.T) {
	ci.Parallel(t)

	clients, err := clientreg.New(fakeTrust)
	must.NoError(t, err)
	must.NoError(t, clients.Ensure(7, 1))
	must.NoError(t, clients.AttachHandle(1, 5))

	q := pqueue.New()
	sw := gc.New(clients, q, gc.WithPidExists(func(int32) bool { return true }))

	sw.PulseOnce()
	must.NoError(t, sw.CollectOnce())

	must.Eq(t, 0, q.Len())
	must.Len(t, 1, clients.ListTids(7))
}

func TestSweeper_BatchSizeLimitsPerCollect(t *testing.T) {
	ci.Parallel(t)

	clients, err := clientreg.New(fakeTrust)
	must.NoError(t, err)
	must.NoError(t, clients.Ensure(1, 1))
	must.NoError(t, clients.Ensure(1, 2))
	must.NoError(t, clients.Ensure(1, 3))
	must.NoError(t, clients.AttachHandle(1, 100))
	must.NoError(t, clients.AttachHandle(2, 200))
	must.NoError(t, clients.AttachHandle(3, 300))

	q := pqueue.New()
	sw := gc.New(clients, q,
		gc.WithPidExists(func(int32) bool { return false }),
		gc.WithBatchSize(1),
	)

	sw.PulseOnce()
	must.NoError(t, sw.CollectOnce())
	must.Eq(t, 1, q.Len())
	must.Len(t, 2, clients.ListTids(1))
}
