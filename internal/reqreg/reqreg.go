// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package reqreg implements C4, the Request Registry: handle -> Request
// storage, duplicate detection, and the processing-state flags the
// dispatcher and Mode Controller rely on.
//
// Like clientreg, the backing store is a go-memdb table rather than a
// map+RWMutex: `get`/`verify` are memdb read transactions (the fast
// path spec §5 calls for), `insert`/`remove`/status transitions are
// write transactions.
package reqreg

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/mitchellh/hashstructure"
	"github.com/resourcetuner/urm/internal/structs"
)

const tableRequests = "requests"

// Partition is the secondary ACTIVE_TUNE/PENDING_TUNE split the Mode
// Controller (C8) uses (spec §4.4).
type Partition string

const (
	PartitionNone        Partition = ""
	PartitionActiveTune  Partition = "active_tune"
	PartitionPendingTune Partition = "pending_tune"
)

type requestRow struct {
	Handle       int64
	Tid          int
	ResourceHash int64 // hashstructure output, reinterpreted as signed for indexing
	Partition    string
	Req          *structs.Request
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableRequests: {
				Name: tableRequests,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "Handle"},
					},
					"tid": {
						Name:    "tid",
						Unique:  false,
						Indexer: &memdb.IntFieldIndex{Field: "Tid"},
					},
					"dup": {
						Name:   "dup",
						Unique: false,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.IntFieldIndex{Field: "Tid"},
								&memdb.IntFieldIndex{Field: "ResourceHash"},
							},
						},
					},
					"partition": {
						Name:    "partition",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "Partition"},
					},
				},
			},
		},
	}
}

// Registry is C4.
type Registry struct {
	db    *memdb.MemDB
	nextH atomic.Int64
}

// New constructs an empty Registry. Handles start at 1; 0 is reserved
// to mean "none" (spec §4.4).
func New() (*Registry, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("reqreg: build memdb: %w", err)
	}
	return &Registry{db: db}, nil
}

// NextHandle allocates the next monotonic handle. Never reused across
// the life of the process (spec invariant: "Handles are strictly
// monotonic across a run").
func (r *Registry) NextHandle() int64 {
	return r.nextH.Add(1)
}

func resourceHash(resources []*structs.Resource) (int64, error) {
	h, err := hashstructure.Hash(resources, nil)
	if err != nil {
		return 0, err
	}
	return int64(h), nil
}

// Insert adds req to the registry under req.Handle. Returns
// ErrBadRequest if the handle is already present.
func (r *Registry) Insert(req *structs.Request) error {
	hash, err := resourceHash(req.Resources)
	if err != nil {
		return fmt.Errorf("reqreg: hash resources: %w", err)
	}

	txn := r.db.Txn(true)
	defer txn.Abort()

	if raw, err := txn.First(tableRequests, "id", req.Handle); err != nil {
		return err
	} else if raw != nil {
		return structs.NewError(structs.ErrBadRequest, "handle %d already registered", req.Handle)
	}

	row := &requestRow{
		Handle:       req.Handle,
		Tid:          int(req.Tid),
		ResourceHash: hash,
		Req:          req,
	}
	if req.Type == structs.RequestTune {
		row.Partition = string(PartitionActiveTune)
	}
	if err := txn.Insert(tableRequests, row); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Remove deletes req's entry, if present.
func (r *Registry) Remove(handle int64) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableRequests, "id", handle)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	if err := txn.Delete(tableRequests, raw); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Get returns the Request for handle, or (nil, false) when absent.
func (r *Registry) Get(handle int64) (*structs.Request, bool) {
	txn := r.db.Txn(false)
	raw, err := txn.First(tableRequests, "id", handle)
	if err != nil || raw == nil {
		return nil, false
	}
	return raw.(*requestRow).Req, true
}

// Verify reports whether handle currently names a live Request.
func (r *Registry) Verify(handle int64) bool {
	_, ok := r.Get(handle)
	return ok
}

// MarkCompleted transitions handle to Completed, unless a prior
// Cancelled sticky bit is already set.
func (r *Registry) MarkCompleted(handle int64) error {
	return r.transition(handle, structs.StatusCompleted)
}

// MarkCancelled sets the sticky Cancelled bit. Once set it is never
// cleared by MarkCompleted (spec §5 "sticky cancelled bit").
func (r *Registry) MarkCancelled(handle int64) error {
	return r.transition(handle, structs.StatusCancelled)
}

func (r *Registry) transition(handle int64, to structs.RequestStatus) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableRequests, "id", handle)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.NewError(structs.ErrNotFound, "handle %d", handle)
	}
	row := raw.(*requestRow)
	if row.Req.Status == structs.StatusCancelled {
		// Sticky: cancellation is never undone by a later completion.
		if to != structs.StatusCancelled {
			txn.Commit()
			return nil
		}
	}
	clone := *row
	reqClone := *row.Req
	reqClone.Status = to
	clone.Req = &reqClone
	if err := txn.Insert(tableRequests, &clone); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// ModifyDuration updates a request's duration, respecting the sticky
// cancel bit: a cancelled request's duration is never modified.
func (r *Registry) ModifyDuration(handle int64, d int64) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableRequests, "id", handle)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.NewError(structs.ErrNotFound, "handle %d", handle)
	}
	row := raw.(*requestRow)
	if row.Req.Status == structs.StatusCancelled {
		txn.Commit()
		return nil
	}
	clone := *row
	reqClone := *row.Req
	if d == structs.InfiniteDuration {
		reqClone.Duration = -1
	} else {
		reqClone.Duration = time.Duration(d) * time.Millisecond
	}
	clone.Req = &reqClone
	if err := txn.Insert(tableRequests, &clone); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// SetPartition moves handle between the ACTIVE_TUNE/PENDING_TUNE
// partitions (used by the Mode Controller, C8).
func (r *Registry) SetPartition(handle int64, p Partition) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableRequests, "id", handle)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.NewError(structs.ErrNotFound, "handle %d", handle)
	}
	clone := *raw.(*requestRow)
	clone.Partition = string(p)
	if err := txn.Insert(tableRequests, &clone); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// ListByPartition returns every Request currently in partition p.
func (r *Registry) ListByPartition(p Partition) []*structs.Request {
	txn := r.db.Txn(false)
	it, err := txn.Get(tableRequests, "partition", string(p))
	if err != nil {
		return nil
	}
	var out []*structs.Request
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*requestRow).Req)
	}
	return out
}

// ActiveCount returns the number of requests currently in the
// ACTIVE_TUNE partition, for the global admission gate (spec §4.3).
func (r *Registry) ActiveCount() int {
	return len(r.ListByPartition(PartitionActiveTune))
}

// FindDuplicate implements the order-sensitive duplicate check of
// spec §4.4: a candidate must share tid and an equal resource-list
// hash (fast filter via the "dup" compound index), then pass the exact
// pairwise compare.
func (r *Registry) FindDuplicate(tid int32, resources []*structs.Resource) (*structs.Request, error) {
	hash, err := resourceHash(resources)
	if err != nil {
		return nil, fmt.Errorf("reqreg: hash resources: %w", err)
	}

	txn := r.db.Txn(false)
	it, err := txn.Get(tableRequests, "dup", int(tid), hash)
	if err != nil {
		return nil, err
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		row := raw.(*requestRow)
		if row.Req.Type != structs.RequestTune {
			continue
		}
		if sameResourceSequence(row.Req.Resources, resources) {
			return row.Req, nil
		}
	}
	return nil, nil
}

func sameResourceSequence(a, b []*structs.Resource) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

