// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import "time"

// armDeadline starts the per-checkout Deadline Timer, if the resolved
// options carry a bound, and stamps its id on both h and the underlying
// Holder so a fire that races a concurrent checkin/disconnect can
// recognise it is stale (see Holder.clearDeadlineIfMatches) instead of
// tearing down whichever connection is using the Holder next.
//
// armDeadline is only ever called from handOff, on the Broker goroutine,
// so incrementing nextDeadlineID here never races a concurrent CheckOut.
// The timer itself runs on its own goroutine and only ever posts an
// event; all the actual bookkeeping happens back on the Broker goroutine
// inside deadlineFiredEvent.apply.
func (p *Pool) armDeadline(h *Handle, opts CheckoutOptions, submittedAt time.Time) {
	deadline, ok := effectiveDeadline(opts, submittedAt)
	if !ok {
		return
	}
	wait := time.Until(deadline)
	if wait <= 0 {
		wait = 0
	}
	p.nextDeadlineID++
	id := p.nextDeadlineID
	h.holder.updateDeadline(id)
	h.deadlineID = id
	armedAt := time.Now()
	h.deadlineTimer = time.AfterFunc(wait, func() {
		select {
		case p.mailbox <- &deadlineFiredEvent{holderID: h.ref, deadlineID: id, armedAt: armedAt}:
		case <-p.done:
		}
	})
}

// effectiveDeadline computes min(now+Timeout, Deadline), returning
// ok=false when neither bound applies and the caller's own context is
// the only limit.
func effectiveDeadline(opts CheckoutOptions, now time.Time) (time.Time, bool) {
	var d time.Time
	have := false
	if opts.Timeout > 0 {
		d = now.Add(opts.Timeout)
		have = true
	}
	if !opts.Deadline.IsZero() && (!have || opts.Deadline.Before(d)) {
		d = opts.Deadline
		have = true
	}
	return d, have
}
