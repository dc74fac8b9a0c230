// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package clientreg implements C2, the Client Registry: per-pid and
// per-tid bookkeeping (trust level, health, outstanding handles).
//
// The backing store is two go-memdb tables, the same in-memory
// indexed-table idiom Nomad's own state store uses, rather than a
// hand-rolled map guarded by a sync.RWMutex: memdb's copy-on-write
// transactions give "readers are the hot path" (spec §5) for free.
package clientreg

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
	hashset "github.com/hashicorp/go-set/v3"
	"github.com/resourcetuner/urm/internal/structs"
)

const (
	tablePids = "pids"
	tableTids = "tids"
)

// pidRow and tidRow are the memdb-resident rows. Handles is kept as a
// go-set for O(1) attach/detach rather than a slice scan.
type pidRow struct {
	Pid   int
	Trust structs.TrustLevel
}

type tidRow struct {
	Tid      int
	Pid      int
	Handles  *hashset.Set[int64]
	Health   float64
	LastTsMS int64
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tablePids: {
				Name: tablePids,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "Pid"},
					},
				},
			},
			tableTids: {
				Name: tableTids,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "Tid"},
					},
					"pid": {
						Name:    "pid",
						Unique:  false,
						Indexer: &memdb.IntFieldIndex{Field: "Pid"},
					},
				},
			},
		},
	}
}

// TrustFunc derives a TrustLevel for a pid (effective uid == 0 ⇒
// system), usually backed by reading /proc/<pid>/status. Injected so
// tests don't need real processes.
type TrustFunc func(pid int32) (structs.TrustLevel, error)

// Registry is C2.
type Registry struct {
	db        *memdb.MemDB
	trustOf   TrustFunc
	healthMax float64
}

// New constructs an empty Registry. trustFn resolves a pid's trust
// level on first sight; see DefaultTrustFunc for the /proc-backed
// implementation used in production.
func New(trustFn TrustFunc) (*Registry, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("clientreg: build memdb: %w", err)
	}
	return &Registry{db: db, trustOf: trustFn, healthMax: 100.0}, nil
}

// Ensure is idempotent: creates the per-pid entry on first sight (with
// trust level resolved via TrustFunc) and the per-tid entry (health
// 100, last_ts 0) if either is missing.
func (r *Registry) Ensure(pid, tid int32) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	if raw, err := txn.First(tablePids, "id", int(pid)); err != nil {
		return err
	} else if raw == nil {
		trust, err := r.trustOf(pid)
		if err != nil {
			return fmt.Errorf("clientreg: resolve trust for pid %d: %w", pid, err)
		}
		if err := txn.Insert(tablePids, &pidRow{Pid: int(pid), Trust: trust}); err != nil {
			return err
		}
	}

	if raw, err := txn.First(tableTids, "id", int(tid)); err != nil {
		return err
	} else if raw == nil {
		row := &tidRow{
			Tid:     int(tid),
			Pid:     int(pid),
			Handles: hashset.New[int64](0),
			Health:  r.healthMax,
		}
		if err := txn.Insert(tableTids, row); err != nil {
			return err
		}
	}

	txn.Commit()
	return nil
}

func (r *Registry) tidRow(txn *memdb.Txn, tid int32) (*tidRow, bool) {
	raw, err := txn.First(tableTids, "id", int(tid))
	if err != nil || raw == nil {
		return nil, false
	}
	return raw.(*tidRow), true
}

// AttachHandle records that tid now owns handle h.
func (r *Registry) AttachHandle(tid int32, h int64) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	row, ok := r.tidRow(txn, tid)
	if !ok {
		return fmt.Errorf("clientreg: unknown tid %d", tid)
	}
	clone := *row
	clone.Handles = row.Handles.Copy()
	clone.Handles.Insert(h)
	if err := txn.Insert(tableTids, &clone); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// DetachHandle removes h from tid's set, if present.
func (r *Registry) DetachHandle(tid int32, h int64) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	row, ok := r.tidRow(txn, tid)
	if !ok {
		return nil
	}
	clone := *row
	clone.Handles = row.Handles.Copy()
	clone.Handles.Remove(h)
	if err := txn.Insert(tableTids, &clone); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// ListHandles returns the handles currently attached to tid.
func (r *Registry) ListHandles(tid int32) []int64 {
	txn := r.db.Txn(false)
	row, ok := r.tidRow(txn, tid)
	if !ok {
		return nil
	}
	return row.Handles.Slice()
}

// ListTids returns every tid registered under pid.
func (r *Registry) ListTids(pid int32) []int32 {
	txn := r.db.Txn(false)
	it, err := txn.Get(tableTids, "pid", int(pid))
	if err != nil {
		return nil
	}
	var out []int32
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, int32(raw.(*tidRow).Tid))
	}
	return out
}

// ListActivePids returns every registered pid, including one whose
// tids have all been dropped.
func (r *Registry) ListActivePids() []int32 {
	txn := r.db.Txn(false)
	it, err := txn.Get(tablePids, "id")
	if err != nil {
		return nil
	}
	var out []int32
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, int32(raw.(*pidRow).Pid))
	}
	return out
}

// TrustOf returns the trust level recorded for pid.
func (r *Registry) TrustOf(pid int32) (structs.TrustLevel, bool) {
	txn := r.db.Txn(false)
	raw, err := txn.First(tablePids, "id", int(pid))
	if err != nil || raw == nil {
		return structs.TrustThirdParty, false
	}
	return raw.(*pidRow).Trust, true
}

// HealthOf returns tid's current health.
func (r *Registry) HealthOf(tid int32) (float64, bool) {
	txn := r.db.Txn(false)
	row, ok := r.tidRow(txn, tid)
	if !ok {
		return 0, false
	}
	return row.Health, true
}

// SetHealth updates tid's health, clamped to [0, 100].
func (r *Registry) SetHealth(tid int32, h float64) error {
	if h < 0 {
		h = 0
	} else if h > r.healthMax {
		h = r.healthMax
	}
	txn := r.db.Txn(true)
	defer txn.Abort()

	row, ok := r.tidRow(txn, tid)
	if !ok {
		return fmt.Errorf("clientreg: unknown tid %d", tid)
	}
	clone := *row
	clone.Health = h
	if err := txn.Insert(tableTids, &clone); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// LastTsOf returns the ms timestamp of tid's last accepted request.
func (r *Registry) LastTsOf(tid int32) (int64, bool) {
	txn := r.db.Txn(false)
	row, ok := r.tidRow(txn, tid)
	if !ok {
		return 0, false
	}
	return row.LastTsMS, true
}

// SetLastTs updates tid's last-accepted timestamp.
func (r *Registry) SetLastTs(tid int32, tsMS int64) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	row, ok := r.tidRow(txn, tid)
	if !ok {
		return fmt.Errorf("clientreg: unknown tid %d", tid)
	}
	clone := *row
	clone.LastTsMS = tsMS
	if err := txn.Insert(tableTids, &clone); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// DropPid destroys pid's entry and every tid entry beneath it. Called
// only by the Liveness Sweeper / Handle GC (C9).
func (r *Registry) DropPid(pid int32) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(tableTids, "pid", int(pid))
	if err != nil {
		return err
	}
	var tids []interface{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		tids = append(tids, raw)
	}
	for _, raw := range tids {
		if err := txn.Delete(tableTids, raw); err != nil {
			return err
		}
	}
	if raw, err := txn.First(tablePids, "id", int(pid)); err == nil && raw != nil {
		if err := txn.Delete(tablePids, raw); err != nil {
			return err
		}
	}
	txn.Commit()
	return nil
}

// DropTid destroys a single tid entry, leaving its pid (and any
// sibling tids) untouched.
func (r *Registry) DropTid(tid int32) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableTids, "id", int(tid))
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	if err := txn.Delete(tableTids, raw); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// HandlesSnapshot returns the handle set owned by tid at the moment of
// the call, used by the Handle GC to fan out synthesized untunes
// before dropping the tid.
func (r *Registry) HandlesSnapshot(tid int32) []int64 {
	return r.ListHandles(tid)
}
