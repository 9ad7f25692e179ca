// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"fmt"
	"time"
)

// PoolError is a sentinel error type for conditions that carry no extra
// diagnostic data, mirroring core/connection/pool.go's PoolError.
type PoolError string

func (e PoolError) Error() string { return string(e) }

// ErrPoolClosed is returned from any operation attempted after Close.
var ErrPoolClosed = PoolError("pool is closed")

// ErrWrongPool is returned when a Handle produced by one Pool is passed to
// a different Pool's CheckIn/Disconnect/Stop.
var ErrWrongPool = PoolError("connection does not belong to this pool")

// UnavailableError is returned by CheckOut when Queue is false and no
// connection is immediately idle.
type UnavailableError struct {
	PoolName string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("pool(%s): no idle connection and queueing was disabled", e.PoolName)
}

// DroppedError is returned to a waiter shed by the CoDel Controller, or
// whose Wait Entry was abandoned because the client died before a Holder
// could be delivered. Wrapped carries the client's own ctx.Err() when that
// is what actually ended the wait, nil when CoDel shed it instead.
type DroppedError struct {
	PoolName string
	Elapsed  time.Duration
	Wrapped  error
}

func (e *DroppedError) Error() string {
	return fmt.Sprintf("pool(%s): checkout dropped by queue discipline after waiting %s", e.PoolName, e.Elapsed)
}

func (e *DroppedError) Unwrap() error { return e.Wrapped }

// DeadlineInQueueError is returned to a client whose Handle arrived after
// its own wait deadline had already elapsed. The Holder itself is fine and
// has already been returned to the pool on the client's behalf.
type DeadlineInQueueError struct {
	PoolName string
	Elapsed  time.Duration
}

func (e *DeadlineInQueueError) Error() string {
	return fmt.Sprintf("pool(%s): checkout satisfied after its own deadline elapsed (%s); connection was not used", e.PoolName, e.Elapsed)
}

// TimeoutError describes a Deadline Timer firing against an active
// checkout. Nothing is synchronously waiting on the checkout at that
// instant, so this is never returned from a method call; the Broker
// constructs one purely to format the ConnectionClosed log line it writes
// when this happens; the matching PoolEvent carries ReasonTimeout and the
// elapsed time instead. A subsequent
// CheckIn/Disconnect/Stop against the now-destroyed Handle is a silent
// no-op, not a TimeoutError.
type TimeoutError struct {
	PoolName string
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pool(%s): checkout timed out after %s and its connection was closed", e.PoolName, e.Elapsed)
}

// invariantError marks a Broker-detected inconsistency (e.g. a Holder's
// recorded owner disagreeing with the Broker's own view). The Holder is
// always treated as destroyed when this occurs.
type invariantError struct {
	PoolName string
	Detail   string
}

func (e *invariantError) Error() string {
	return fmt.Sprintf("pool(%s): broker invariant violated: %s", e.PoolName, e.Detail)
}
