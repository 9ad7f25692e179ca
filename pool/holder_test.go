// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	closed bool
}

func (c *fakeConn) Close() { c.closed = true }

func TestHolderTransferRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHolder(1, &fakeConn{}, "wire-v1", []byte("s0"), 0)

	epoch, ok := h.transferToClient()
	require.True(t, ok)
	assert.Equal(t, uint64(1), epoch)

	ok = h.transferToPool(epoch, []byte("s1"))
	require.True(t, ok)

	_, _, _, state := h.snapshot()
	assert.Equal(t, []byte("s1"), state)
}

func TestHolderTransferToPoolStaleEpochIsNoop(t *testing.T) {
	t.Parallel()

	h := newHolder(1, &fakeConn{}, "wire-v1", nil, 0)

	epoch, ok := h.transferToClient()
	require.True(t, ok)

	// A second, stale release presenting the same epoch after it was
	// already superseded by a later checkout must not succeed.
	require.True(t, h.transferToPool(epoch, nil))
	epoch2, ok := h.transferToClient()
	require.True(t, ok)
	assert.NotEqual(t, epoch, epoch2)

	assert.False(t, h.transferToPool(epoch, nil))
}

func TestHolderTransferToClientFailsOnceDestroyed(t *testing.T) {
	t.Parallel()

	h := newHolder(1, &fakeConn{}, "wire-v1", nil, 0)
	h.destroy()

	_, ok := h.transferToClient()
	assert.False(t, ok)
	assert.True(t, h.isDestroyed())
}

func TestHolderDeadlineStaleness(t *testing.T) {
	t.Parallel()

	h := newHolder(1, &fakeConn{}, "wire-v1", nil, 0)
	_, ok := h.transferToClient()
	require.True(t, ok)

	h.updateDeadline(7)
	assert.True(t, h.matchesDeadline(7))

	// Checking in clears the deadline; a fire that raced the checkin and
	// arrives afterward must find no match.
	require.True(t, h.transferToPool(1, nil))
	assert.False(t, h.matchesDeadline(7))
	assert.False(t, h.clearDeadlineIfMatches(7))
}

func TestHolderMatchesEpoch(t *testing.T) {
	t.Parallel()

	h := newHolder(1, &fakeConn{}, "wire-v1", nil, 0)
	epoch, ok := h.transferToClient()
	require.True(t, ok)

	assert.True(t, h.matchesEpoch(epoch))
	assert.False(t, h.matchesEpoch(epoch+1))

	require.True(t, h.transferToPool(epoch, nil))
	assert.False(t, h.matchesEpoch(epoch), "epoch check must fail once ownership returns to the pool")
}

func TestHolderIsStale(t *testing.T) {
	t.Parallel()

	h := newHolder(1, &fakeConn{}, "wire-v1", nil, 3)
	assert.False(t, h.isStale(3))
	assert.False(t, h.isStale(2))
	assert.True(t, h.isStale(4))
}
