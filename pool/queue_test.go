// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEntry(seq uint64, submittedAt time.Time) *waitEntry {
	return &waitEntry{
		submittedAt: submittedAt,
		seq:         seq,
		ctx:         context.Background(),
		reply:       make(chan checkoutReply, 1),
		stopWatch:   make(chan struct{}),
	}
}

func TestWaitQueueFIFOOrder(t *testing.T) {
	t.Parallel()

	q := newWaitQueue()
	base := time.Now()
	e1 := newTestEntry(1, base)
	e2 := newTestEntry(2, base.Add(time.Millisecond))
	e3 := newTestEntry(3, base.Add(2*time.Millisecond))

	q.insert(e1)
	q.insert(e2)
	q.insert(e3)
	require.Equal(t, 3, q.len())

	got, ok := q.popFront()
	require.True(t, ok)
	assert.Equal(t, e1, got)

	got, ok = q.popFront()
	require.True(t, ok)
	assert.Equal(t, e2, got)

	assert.Equal(t, 1, q.len())
}

func TestWaitQueueTakeByseq(t *testing.T) {
	t.Parallel()

	q := newWaitQueue()
	base := time.Now()
	e1 := newTestEntry(1, base)
	e2 := newTestEntry(2, base.Add(time.Millisecond))
	q.insert(e1)
	q.insert(e2)

	got, ok := q.take(1)
	require.True(t, ok)
	assert.Equal(t, e1, got)
	assert.Equal(t, 1, q.len())

	_, ok = q.take(1)
	assert.False(t, ok, "taking a seq twice must fail")

	front, ok := q.first()
	require.True(t, ok)
	assert.Equal(t, e2, front)
}

func TestWaitEntryLive(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	e := newTestEntry(1, time.Now())
	e.ctx = ctx
	assert.True(t, e.live())

	cancel()
	assert.False(t, e.live())
}

func TestReadyQueueOldestFirst(t *testing.T) {
	t.Parallel()

	q := newReadyQueue()
	base := time.Now()
	h1 := newHolder(1, &fakeConn{}, "", nil, 0)
	h2 := newHolder(2, &fakeConn{}, "", nil, 0)
	q.insert(h1, base)
	q.insert(h2, base.Add(time.Millisecond))

	oldest, ok := q.oldestIdleSince()
	require.True(t, ok)
	assert.Equal(t, base, oldest)

	got, ok := q.takeOldest()
	require.True(t, ok)
	assert.Equal(t, h1, got)
	assert.Equal(t, 1, q.len())
}

func TestReadyQueueTakeByID(t *testing.T) {
	t.Parallel()

	q := newReadyQueue()
	h1 := newHolder(1, &fakeConn{}, "", nil, 0)
	h2 := newHolder(2, &fakeConn{}, "", nil, 0)
	q.insert(h1, time.Now())
	q.insert(h2, time.Now())

	got, ok := q.take(2)
	require.True(t, ok)
	assert.Equal(t, h2, got)
	assert.Equal(t, 1, q.len())

	_, ok = q.take(2)
	assert.False(t, ok)
}
