// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// AcquireConnectSlot bounds how many connection establishments the
// Connector may run against this pool at once, independent of the number
// of live connections MaxPoolSize allows. It blocks until a slot is free
// or ctx is done. The returned release must be called exactly once,
// typically in a defer, whether or not the dial that follows succeeds.
//
// This is the only part of the checkout broker that talks to the
// Connector's side of the world at all; everything past a successful dial
// still goes through Install.
func (p *Pool) AcquireConnectSlot(ctx context.Context) (release func(), err error) {
	if p.connectSem == nil {
		return func() {}, nil
	}
	if err := p.connectSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { p.connectSem.Release(1) }, nil
}

func newConnectSem(maxConnecting uint64) *semaphore.Weighted {
	if maxConnecting == 0 {
		return nil
	}
	return semaphore.NewWeighted(int64(maxConnecting))
}
