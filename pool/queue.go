// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"container/list"
	"context"
	"time"
)

// waitEntry is a pending checkout request, keyed by (submittedAt, seq) so
// ties break deterministically and the Wait Queue drains strictly FIFO.
type waitEntry struct {
	submittedAt time.Time
	seq         uint64
	ctx         context.Context
	opts        CheckoutOptions
	reply       chan checkoutReply
	stopWatch   chan struct{} // closed once, when the entry leaves the queue by any path
}

func (e *waitEntry) age(now time.Time) time.Duration {
	return now.Sub(e.submittedAt)
}

// live reports whether the client is still around to receive a handoff.
// Checking this before attempting delivery is this module's Go-idiomatic
// stand-in for a "recipient vanished, transfer failed" case: a buffered
// reply channel can always accept a send, so liveness has to be observed
// rather than discovered via a failed send.
func (e *waitEntry) live() bool {
	select {
	case <-e.ctx.Done():
		return false
	default:
		return true
	}
}

// waitQueue is the FIFO ordered container of pending checkouts. It is
// only ever touched from the Broker's own goroutine, so it needs no
// internal locking.
type waitQueue struct {
	order   *list.List // of *waitEntry, oldest submittedAt at Front
	byIndex map[uint64]*list.Element
}

func newWaitQueue() *waitQueue {
	return &waitQueue{
		order:   list.New(),
		byIndex: make(map[uint64]*list.Element),
	}
}

func (q *waitQueue) len() int { return q.order.Len() }

func (q *waitQueue) insert(e *waitEntry) {
	el := q.order.PushBack(e)
	q.byIndex[e.seq] = el
}

// first returns the oldest entry without removing it.
func (q *waitQueue) first() (*waitEntry, bool) {
	front := q.order.Front()
	if front == nil {
		return nil, false
	}
	return front.Value.(*waitEntry), true
}

// take removes and returns the entry with the given seq, if present.
func (q *waitQueue) take(seq uint64) (*waitEntry, bool) {
	el, ok := q.byIndex[seq]
	if !ok {
		return nil, false
	}
	delete(q.byIndex, seq)
	q.order.Remove(el)
	return el.Value.(*waitEntry), true
}

// popFront removes and returns the oldest entry.
func (q *waitQueue) popFront() (*waitEntry, bool) {
	front := q.order.Front()
	if front == nil {
		return nil, false
	}
	q.order.Remove(front)
	e := front.Value.(*waitEntry)
	delete(q.byIndex, e.seq)
	return e, true
}

// readyEntry is an idle Holder, keyed by the time it became idle.
type readyEntry struct {
	idleSince time.Time
	holder    *Holder
}

// readyQueue is the ordered container of idle Holders. Draining for a
// ping walks oldest-first; draining to satisfy a waiter takes any entry
// (the caller already has the returning Holder in hand and need not
// touch the queue at all in that case).
type readyQueue struct {
	order   *list.List // of *readyEntry, oldest idleSince at Front
	byIndex map[uint64]*list.Element
}

func newReadyQueue() *readyQueue {
	return &readyQueue{
		order:   list.New(),
		byIndex: make(map[uint64]*list.Element),
	}
}

func (q *readyQueue) len() int { return q.order.Len() }

func (q *readyQueue) insert(h *Holder, idleSince time.Time) {
	el := q.order.PushBack(&readyEntry{idleSince: idleSince, holder: h})
	q.byIndex[h.id] = el
}

// takeOldest removes and returns the longest-idle Holder, for pinging.
func (q *readyQueue) takeOldest() (*Holder, bool) {
	front := q.order.Front()
	if front == nil {
		return nil, false
	}
	q.order.Remove(front)
	e := front.Value.(*readyEntry)
	delete(q.byIndex, e.holder.id)
	return e.holder, true
}

// takeAny removes and returns an arbitrary idle Holder, for handing off to
// a client with no waiters ahead of it.
func (q *readyQueue) takeAny() (*Holder, bool) {
	return q.takeOldest()
}

// take removes a specific Holder by id, e.g. when it is destroyed while
// idle.
func (q *readyQueue) take(id uint64) (*Holder, bool) {
	el, ok := q.byIndex[id]
	if !ok {
		return nil, false
	}
	q.order.Remove(el)
	delete(q.byIndex, id)
	return el.Value.(*readyEntry).holder, true
}

func (q *readyQueue) oldestIdleSince() (time.Time, bool) {
	front := q.order.Front()
	if front == nil {
		return time.Time{}, false
	}
	return front.Value.(*readyEntry).idleSince, true
}
