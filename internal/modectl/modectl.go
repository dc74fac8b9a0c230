// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package modectl implements C8, the Mode Controller: display-on /
// display-off / doze transitions that drain and restore the
// CocoTable.
//
// Unlike the Timer Wheel and the GC (C5, C9), which fan synthesized
// work back in through the Priority Queue, the Mode Controller
// operates directly on the Request Registry and the CocoTable (spec
// §2 "C8 operates directly on C4/C7"). Its methods must therefore be
// invoked from the dispatcher goroutine, the same single-writer
// constraint the CocoTable itself carries.
package modectl

import (
	"github.com/resourcetuner/urm/internal/coco"
	"github.com/resourcetuner/urm/internal/reqreg"
	"github.com/resourcetuner/urm/internal/structs"
)

// Controller is C8.
type Controller struct {
	reqs  *reqreg.Registry
	table *coco.Table
	mode  structs.Mode
}

// New builds a Controller. The device starts in ModeOn.
func New(reqs *reqreg.Registry, table *coco.Table) *Controller {
	return &Controller{reqs: reqs, table: table, mode: structs.ModeOn}
}

// Current returns the device-level mode the controller last settled
// into.
func (c *Controller) Current() structs.Mode { return c.mode }

// OnEnterOffOrDoze drains every active request from the table: each
// is removed (which resets its tunable to default once it was the
// last holder), then partitioned into ACTIVE_TUNE (background-enabled
// requests, whose mask permits the new mode) or PENDING_TUNE
// (everything else). Background-enabled requests are re-admitted
// (flood_in) so the table reapplies their winning values under the
// new mode.
func (c *Controller) OnEnterOffOrDoze(newMode structs.Mode) error {
	active := c.reqs.ListByPartition(reqreg.PartitionActiveTune)
	for _, r := range active {
		if _, err := c.table.Remove(r.CocoNodeIDs); err != nil {
			return err
		}
		r.CocoNodeIDs = nil

		if r.ModeMask&newMode.Mask() != 0 {
			continue // background-enabled: stays ACTIVE_TUNE, flooded back in below
		}
		if err := c.reqs.SetPartition(r.Handle, reqreg.PartitionPendingTune); err != nil {
			return err
		}
	}

	c.mode = newMode
	return c.floodIn()
}

// OnEnterOn drains every active request (same as above), then
// re-admits every pending request into ACTIVE_TUNE before flooding the
// whole active set back into the table.
func (c *Controller) OnEnterOn() error {
	active := c.reqs.ListByPartition(reqreg.PartitionActiveTune)
	for _, r := range active {
		if _, err := c.table.Remove(r.CocoNodeIDs); err != nil {
			return err
		}
		r.CocoNodeIDs = nil
	}

	pending := c.reqs.ListByPartition(reqreg.PartitionPendingTune)
	for _, r := range pending {
		if err := c.reqs.SetPartition(r.Handle, reqreg.PartitionActiveTune); err != nil {
			return err
		}
	}

	c.mode = structs.ModeOn
	return c.floodIn()
}

// floodIn re-inserts every request now sitting in ACTIVE_TUNE, so the
// CocoTable recomputes and reapplies the correct winner per tunable
// instance under the (possibly new) mode.
func (c *Controller) floodIn() error {
	for _, r := range c.reqs.ListByPartition(reqreg.PartitionActiveTune) {
		if _, err := c.table.Insert(r, c.mode); err != nil {
			return err
		}
	}
	return nil
}
