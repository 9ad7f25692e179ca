// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import "time"

// Handle is the opaque ticket a client holds during an active checkout. It
// bundles the pool identity, the Holder's stable ref, the epoch presented
// on release (so a checkin/disconnect/stop that arrives after the Holder
// has already been recycled is a safe no-op), and the deadline id armed
// for this checkout.
type Handle struct {
	pool          *Pool
	ref           uint64
	epoch         uint64
	holder        *Holder
	deadlineID    uint64
	deadlineTimer *time.Timer
}

// stopDeadline cancels the client-side timer backing this checkout's
// Deadline Timer. It is best-effort: if the timer already fired, the
// Broker's own id check (Holder.clearDeadlineIfMatches) is what actually
// prevents a stale fire from disconnecting the next tenant.
func (h *Handle) stopDeadline() {
	if h.deadlineTimer != nil {
		h.deadlineTimer.Stop()
	}
}

// Mod returns the protocol module/strategy identifier the Holder was
// installed with.
func (h *Handle) Mod() string {
	_, _, mod, _ := h.holder.snapshot()
	return mod
}

// State returns the per-connection state written back on the last checkin.
func (h *Handle) State() []byte {
	_, _, _, state := h.holder.snapshot()
	return state
}

// Conn returns the opaque connection worker reference. Only meaningful
// while this Handle's checkout is still active.
func (h *Handle) Conn() ConnWorker {
	conn, _, _, _ := h.holder.snapshot()
	return conn
}

// CheckoutOptions configures a single CheckOut call.
type CheckoutOptions struct {
	// Queue selects whether to wait when no connection is idle. Defaults
	// to true.
	Queue bool
	// Timeout bounds the whole checkout, from the moment it is submitted
	// through however long the caller then holds the connection. Zero
	// means "use the pool's default"; use InfiniteTimeout for no bound.
	// A checkout still queued when it elapses is dropped; one already
	// handed off is disconnected out from under the caller.
	Timeout time.Duration
	// Deadline, if non-zero, is an absolute cap combined with Timeout as
	// min(now+Timeout, Deadline).
	Deadline time.Time

	queueSet bool
}

// InfiniteTimeout, passed as CheckoutOptions.Timeout, disables the wait
// timeout entirely; the caller's context is then the only bound.
const InfiniteTimeout time.Duration = -1

// CheckoutOption configures a single CheckOut call, following the same
// functional-options shape as PoolOption.
type CheckoutOption func(*CheckoutOptions)

// WithQueue overrides the default of queueing when no connection is idle.
// Passing false makes CheckOut fail fast with an UnavailableError instead.
func WithQueue(v bool) CheckoutOption {
	return func(o *CheckoutOptions) { o.Queue = v; o.queueSet = true }
}

// WithCheckoutTimeout overrides the pool's default wait timeout for a
// single call. Use InfiniteTimeout to wait as long as ctx allows.
func WithCheckoutTimeout(d time.Duration) CheckoutOption {
	return func(o *CheckoutOptions) { o.Timeout = d }
}

// WithCheckoutDeadline sets an absolute cap on the wait, combined with any
// timeout as min(now+Timeout, Deadline).
func WithCheckoutDeadline(t time.Time) CheckoutOption {
	return func(o *CheckoutOptions) { o.Deadline = t }
}

func resolveCheckoutOptions(cfg *poolConfig, opts ...CheckoutOption) CheckoutOptions {
	out := CheckoutOptions{Queue: true, Timeout: cfg.Timeout}
	for _, opt := range opts {
		opt(&out)
	}
	if !out.queueSet {
		out.Queue = true
	}
	if out.Timeout == 0 {
		out.Timeout = cfg.Timeout
	}
	return out
}

// checkoutReply is delivered over a Wait Entry's buffered reply channel at
// most once: by a handoff, or by a drop that carries an error instead of a
// Handle. An entry removed because its client is already gone gets none.
type checkoutReply struct {
	handle *Handle
	err    error
}
