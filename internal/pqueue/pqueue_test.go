// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package pqueue_test

import (
	"testing"
	"time"

	"github.com/resourcetuner/urm/internal/ci"
	"github.com/resourcetuner/urm/internal/pqueue"
	"github.com/resourcetuner/urm/internal/structs"
	"github.com/shoenig/test/must"
)

func msg(p structs.Priority) *structs.Message {
	return &structs.Message{Kind: structs.MsgUntune, Priority: p}
}

func TestQueue_OrdersByPriorityThenFIFO(t *testing.T) {
	ci.Parallel(t)

	q := pqueue.New()
	must.NoError(t, q.AddAndWakeup(msg(structs.ThirdPartyLow)))
	must.NoError(t, q.AddAndWakeup(msg(structs.SystemHigh)))
	must.NoError(t, q.AddAndWakeup(msg(structs.SystemHigh)))
	must.NoError(t, q.AddAndWakeup(msg(structs.HighTransfer)))

	var order []structs.Priority
	for {
		m := q.Pop()
		if m == nil {
			break
		}
		order = append(order, m.Priority)
	}

	must.Eq(t, []structs.Priority{
		structs.HighTransfer, structs.SystemHigh, structs.SystemHigh, structs.ThirdPartyLow,
	}, order)
}

func TestQueue_RejectsInvalidPriority(t *testing.T) {
	ci.Parallel(t)

	q := pqueue.New()
	err := q.AddAndWakeup(msg(structs.Priority(255)))
	must.Error(t, err)
}

func TestQueue_WaitBlocksUntilItem(t *testing.T) {
	ci.Parallel(t)

	q := pqueue.New()
	done := make(chan struct{})
	go func() {
		q.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before any item was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	must.NoError(t, q.AddAndWakeup(msg(structs.SystemLow)))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after enqueue")
	}
}

func TestQueue_ForcefulAwake(t *testing.T) {
	ci.Parallel(t)

	q := pqueue.New()
	done := make(chan struct{})
	go func() {
		q.Wait()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.ForcefulAwake()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after ForcefulAwake")
	}
}
