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

func newTestPool(t *testing.T, opts ...PoolOption) *Pool {
	t.Helper()
	base := []PoolOption{
		WithName(t.Name()),
		WithQueueInterval(time.Hour),
		WithIdleInterval(time.Hour),
	}
	p := NewPool(append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p
}

func TestPoolPausedRejectsCheckOut(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	_, err := p.CheckOut(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolInstallThenCheckOutFastPath(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	require.NoError(t, p.Ready())

	_, err := p.Install("wire-v1", []byte("s0"), &fakeConn{})
	require.NoError(t, err)

	h, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wire-v1", h.Mod())
	assert.Equal(t, []byte("s0"), h.State())

	stats, err := p.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Available)
	assert.Equal(t, 1, stats.Total)
}

func TestPoolCheckOutUnavailableWhenNotQueueing(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	require.NoError(t, p.Ready())

	_, err := p.CheckOut(context.Background(), WithQueue(false))
	require.Error(t, err)
	var unavailable *UnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestPoolCheckOutQueuesUntilInstall(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	require.NoError(t, p.Ready())

	type result struct {
		h   *Handle
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		h, err := p.CheckOut(context.Background())
		resultCh <- result{h, err}
	}()

	require.Eventually(t, func() bool {
		stats, err := p.Stats()
		return err == nil && stats.Waiting == 1
	}, time.Second, time.Millisecond, "checkout never reached the Wait Queue")

	_, err := p.Install("wire-v1", nil, &fakeConn{})
	require.NoError(t, err)

	select {
	case r := <-resultCh:
		require.NoError(t, r.err)
		assert.NotNil(t, r.h)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued checkout to be satisfied")
	}

	stats, err := p.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Waiting)
}

func TestPoolCheckInIsIdempotent(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	require.NoError(t, p.Ready())
	_, err := p.Install("wire-v1", nil, &fakeConn{})
	require.NoError(t, err)

	h, err := p.CheckOut(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.CheckIn(h, []byte("s1")))
	// A second checkin of the same, now-stale Handle is a no-op rather
	// than an error.
	require.NoError(t, p.CheckIn(h, []byte("s2")))

	h2, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("s1"), h2.State())
}

func TestPoolCheckInFromWrongPoolFails(t *testing.T) {
	t.Parallel()

	p1 := newTestPool(t)
	p2 := newTestPool(t)
	require.NoError(t, p1.Ready())
	require.NoError(t, p2.Ready())

	_, err := p1.Install("wire-v1", nil, &fakeConn{})
	require.NoError(t, err)
	h, err := p1.CheckOut(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, p2.CheckIn(h, nil), ErrWrongPool)
}

func TestPoolCloseDropsQueuedWaiters(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	require.NoError(t, p.Ready())

	type result struct {
		h   *Handle
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		h, err := p.CheckOut(context.Background())
		resultCh <- result{h, err}
	}()

	require.Eventually(t, func() bool {
		stats, err := p.Stats()
		return err == nil && stats.Waiting == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))

	select {
	case r := <-resultCh:
		require.Error(t, r.err)
		var dropped *DroppedError
		assert.ErrorAs(t, r.err, &dropped)
	case <-time.After(time.Second):
		t.Fatal("dropped waiter never observed Close")
	}

	_, err := p.CheckOut(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolClearDestroysIdleConnections(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	require.NoError(t, p.Ready())
	_, err := p.Install("wire-v1", nil, &fakeConn{})
	require.NoError(t, err)

	stats, err := p.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.Available)

	require.NoError(t, p.Clear())

	stats, err = p.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestPoolClearMarksCheckedOutConnectionsStale(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	require.NoError(t, p.Ready())
	_, err := p.Install("wire-v1", nil, &fakeConn{})
	require.NoError(t, err)

	h, err := p.CheckOut(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Clear())

	// The generation bump doesn't touch a Holder a client already owns;
	// it only gets torn down once returned instead of recycled.
	require.NoError(t, p.CheckIn(h, nil))

	stats, err := p.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0, stats.Available)
}

func TestPoolDisconnectDestroysConnection(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	require.NoError(t, p.Ready())
	conn := &fakeConn{}
	_, err := p.Install("wire-v1", nil, conn)
	require.NoError(t, err)

	h, err := p.CheckOut(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Disconnect(h, assert.AnError))

	require.Eventually(t, func() bool { return conn.closed }, time.Second, time.Millisecond)

	stats, err := p.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestPoolCheckOutRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	require.NoError(t, p.Ready())

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan error, 1)
	go func() {
		_, err := p.CheckOut(ctx)
		resultCh <- err
	}()

	require.Eventually(t, func() bool {
		stats, err := p.Stats()
		return err == nil && stats.Waiting == 1
	}, time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-resultCh:
		require.Error(t, err)
		var dropped *DroppedError
		assert.ErrorAs(t, err, &dropped)
	case <-time.After(time.Second):
		t.Fatal("cancellation was never observed")
	}

	require.Eventually(t, func() bool {
		stats, err := p.Stats()
		return err == nil && stats.Waiting == 0
	}, time.Second, time.Millisecond, "the Client Watchdog never removed the dead Wait Entry")
}
