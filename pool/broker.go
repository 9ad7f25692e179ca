// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"context"
	"time"

	"github.com/fishcakez/db-connection/event"
	"github.com/fishcakez/db-connection/internal/logger"
	"github.com/fishcakez/db-connection/internal/xrand"
)

// brokerEvent is one tagged message in the Broker's mailbox. It is the
// visitor-pattern stand-in for a single-threaded cooperative receive loop:
// apply runs on the Broker's own goroutine only, so it never needs to
// synchronize against anything but the Holders it touches.
type brokerEvent interface {
	apply(p *Pool)
}

// installReply carries the outcome of an installEvent back to the Connector.
type installReply struct {
	ref uint64
}

type installEvent struct {
	mod   string
	state []byte
	conn  ConnWorker
	reply chan installReply
}

func (e *installEvent) apply(p *Pool) {
	p.nextHolderID++
	h := newHolder(p.nextHolderID, e.conn, e.mod, e.state, p.generation)
	p.holders[h.id] = h
	p.installedCount++
	p.logger.Print(logger.InfoLevel, &logger.ConnectionCreated{
		ConnectionMessage: logger.ConnectionMessage{PoolName: p.cfg.Name, HolderID: h.id},
	})
	p.monitor.Emit(&event.PoolEvent{Type: event.ConnectionCreated, PoolName: p.cfg.Name, HolderID: h.id})
	p.offerHolder(h, time.Now())
	e.reply <- installReply{ref: h.id}
}

type checkoutEvent struct {
	opts        CheckoutOptions
	ctx         context.Context
	submittedAt time.Time
	reply       chan checkoutReply
}

func (e *checkoutEvent) apply(p *Pool) {
	if p.paused {
		e.reply <- checkoutReply{err: ErrPoolClosed}
		return
	}
	if h, ok := p.ready.takeAny(); ok {
		p.handOff(h, e.opts, e.submittedAt, e.reply, 0)
		if p.ready.len() == 0 {
			p.mode = modeBusy
		}
		return
	}
	if !e.opts.Queue {
		p.logger.Print(logger.InfoLevel, &logger.CheckOutFailed{
			ConnectionMessage: logger.ConnectionMessage{PoolName: p.cfg.Name},
			Reason:            string(event.ReasonUnavailable),
		})
		p.monitor.Emit(&event.PoolEvent{Type: event.CheckOutFailed, PoolName: p.cfg.Name, Reason: event.ReasonUnavailable})
		e.reply <- checkoutReply{err: &UnavailableError{PoolName: p.cfg.Name}}
		return
	}
	p.nextSeq++
	seq := p.nextSeq
	entry := &waitEntry{
		submittedAt: e.submittedAt,
		seq:         seq,
		ctx:         e.ctx,
		opts:        e.opts,
		reply:       e.reply,
		stopWatch:   make(chan struct{}),
	}
	p.wait.insert(entry)
	p.mode = modeBusy
	p.logger.Print(logger.DebugLevel, &logger.CheckOutStarted{
		PoolMessage: logger.PoolMessage{PoolName: p.cfg.Name},
	})
	p.monitor.Emit(&event.PoolEvent{Type: event.CheckOutStarted, PoolName: p.cfg.Name})
	go watchClient(e.ctx, seq, p.mailbox, entry.stopWatch)
}

// handOff transfers h to a waiting or newly-arrived client and reports the
// checkout as satisfied. waitedFor is 0 for a client served without ever
// touching the Wait Queue. opts and submittedAt arm the Deadline Timer for
// this checkout before the reply is sent, all on the Broker goroutine, so
// nextDeadlineID is never touched from a client's own goroutine.
func (p *Pool) handOff(h *Holder, opts CheckoutOptions, submittedAt time.Time, reply chan checkoutReply, waitedFor time.Duration) {
	epoch, ok := h.transferToClient()
	if !ok {
		// h was destroyed between being pulled off a queue and being handed
		// off; this can only happen if something outside the Broker mutated
		// it, which is an invariant violation. Report failure and move on.
		reply <- checkoutReply{err: &invariantError{PoolName: p.cfg.Name, Detail: "holder destroyed during handoff"}}
		return
	}
	handle := &Handle{pool: p, ref: h.id, epoch: epoch, holder: h}
	p.armDeadline(handle, opts, submittedAt)
	reply <- checkoutReply{handle: handle}
	p.logger.Print(logger.InfoLevel, &logger.CheckedOut{
		ConnectionMessage: logger.ConnectionMessage{PoolName: p.cfg.Name, HolderID: h.id},
		WaitedFor:         waitedFor.Milliseconds(),
	})
	p.monitor.Emit(&event.PoolEvent{Type: event.CheckedOut, PoolName: p.cfg.Name, HolderID: h.id, WaitedFor: waitedFor})
}

// offerHolder is the shared tail of install and checkin: give the Holder
// to the waiter dequeueLive selects, if any, otherwise return it to the
// Ready Queue and, if the pool was Busy, become Ready.
func (p *Pool) offerHolder(h *Holder, now time.Time) {
	if entry, ok := p.dequeueLive(now); ok {
		waited := now.Sub(entry.submittedAt)
		close(entry.stopWatch)
		p.codel.recordDelay(waited)
		p.handOff(h, entry.opts, entry.submittedAt, entry.reply, waited)
		return
	}
	p.ready.insert(h, now)
	p.mode = modeReady
	p.codel.reset()
}

// dequeueLive applies the CoDel Controller's fast/slow selection to the
// checkin path: waiters found dead are dropped silently (the Client
// Watchdog is already racing to deliver the same news). At every interval
// boundary the controller re-measures the current head age and re-derives
// slow mode from scratch, in either direction: a queue stuck long enough
// crosses into slow mode, and one that has since recovered leaves it
// again. A boundary that just flipped fast-to-slow still serves its
// current head rather than shedding it immediately, so a lone bad
// reading needs to be confirmed by a second one before anything is
// dropped; from then on, while still slow, any head whose age has passed
// 2*target is shed with a DroppedError instead of being served, exactly
// like the poll timer's own sweep.
func (p *Pool) dequeueLive(now time.Time) (*waitEntry, bool) {
	for {
		entry, ok := p.wait.first()
		if !ok {
			return nil, false
		}
		if !entry.live() {
			p.wait.popFront()
			close(entry.stopWatch)
			continue
		}
		age := entry.age(now)
		justEntered := false
		if !now.Before(p.codel.nextCheck) {
			wasSlow := p.codel.slow
			changed := p.codel.beginWindow(now, age)
			if changed {
				p.logger.Print(logger.InfoLevel, &logger.CoDelModeChanged{
					CoDelMessage: logger.CoDelMessage{PoolName: p.cfg.Name},
					Slow:         p.codel.slow,
					DelayMS:      age.Milliseconds(),
					TargetMS:     p.codel.target.Milliseconds(),
				})
			}
			justEntered = p.codel.slow && !wasSlow
		}
		if !p.codel.slow || justEntered || age <= 2*p.codel.target {
			p.wait.popFront()
			return entry, true
		}
		p.wait.popFront()
		close(entry.stopWatch)
		p.logger.Print(logger.InfoLevel, &logger.CoDelDroppedWaiter{
			CoDelMessage: logger.CoDelMessage{PoolName: p.cfg.Name},
			AgeMS:        age.Milliseconds(),
		})
		p.monitor.Emit(&event.PoolEvent{Type: event.CheckOutFailed, PoolName: p.cfg.Name, Reason: event.ReasonDropped, Elapsed: age})
		trySendReply(entry.reply, checkoutReply{err: &DroppedError{PoolName: p.cfg.Name, Elapsed: age}})
	}
}

type checkinEvent struct {
	ref      uint64
	epoch    uint64
	newState []byte
	reply    chan error
}

func (e *checkinEvent) apply(p *Pool) {
	h, ok := p.holders[e.ref]
	if !ok {
		e.reply <- nil
		return
	}
	if !h.transferToPool(e.epoch, e.newState) {
		e.reply <- nil // stale handle: already checked in
		return
	}
	if h.isStale(p.generation) {
		p.destroyHolder(h, event.ReasonGenerationStale, 0)
		e.reply <- nil
		return
	}
	p.logger.Print(logger.InfoLevel, &logger.CheckedIn{
		ConnectionMessage: logger.ConnectionMessage{PoolName: p.cfg.Name, HolderID: h.id},
	})
	p.monitor.Emit(&event.PoolEvent{Type: event.CheckedIn, PoolName: p.cfg.Name, HolderID: h.id})
	p.offerHolder(h, time.Now())
	e.reply <- nil
}

type releaseEvent struct {
	ref    uint64
	epoch  uint64
	reason event.Reason
	cause  error // caller-supplied context for the ConnectionClosed log line, may be nil
	reply  chan error
}

// releaseEvent backs both Disconnect and Stop: either way the Holder is
// torn down instead of returned, and a stale epoch makes it a no-op.
// Deadline fires and failed idle pings do not come through here; their
// events destroy the Holder directly.
func (e *releaseEvent) apply(p *Pool) {
	h, ok := p.holders[e.ref]
	if !ok || !h.matchesEpoch(e.epoch) {
		e.reply <- nil
		return
	}
	p.destroyHolderWithCause(h, e.reason, 0, e.cause)
	e.reply <- nil
}

func (p *Pool) destroyHolder(h *Holder, reason event.Reason, elapsed time.Duration) {
	p.destroyHolderWithCause(h, reason, elapsed, nil)
}

func (p *Pool) destroyHolderWithCause(h *Holder, reason event.Reason, elapsed time.Duration, cause error) {
	h.destroy()
	delete(p.holders, h.id)
	p.ready.take(h.id)
	p.destroyedCount++
	detail := string(reason)
	if cause != nil {
		detail = cause.Error()
	}
	p.logger.Print(logger.InfoLevel, &logger.ConnectionClosed{
		ConnectionMessage: logger.ConnectionMessage{PoolName: p.cfg.Name, HolderID: h.id},
		Reason:            detail,
	})
	p.monitor.Emit(&event.PoolEvent{Type: event.ConnectionClosed, PoolName: p.cfg.Name, HolderID: h.id, Reason: reason, Elapsed: elapsed})
	conn, _, _, _ := h.snapshot()
	if conn != nil {
		go conn.Close()
	}
}

type clientDeathEvent struct {
	seq uint64
}

func (e *clientDeathEvent) apply(p *Pool) {
	entry, ok := p.wait.take(e.seq)
	if !ok {
		return
	}
	close(entry.stopWatch)
}

type deadlineFiredEvent struct {
	holderID   uint64
	deadlineID uint64
	armedAt    time.Time
}

func (e *deadlineFiredEvent) apply(p *Pool) {
	h, ok := p.holders[e.holderID]
	if !ok {
		return
	}
	if !h.clearDeadlineIfMatches(e.deadlineID) {
		return // stale fire: checkin/disconnect/a later deadline already superseded it
	}
	elapsed := time.Since(e.armedAt)
	p.destroyHolderWithCause(h, event.ReasonTimeout, elapsed, &TimeoutError{PoolName: p.cfg.Name, Elapsed: elapsed})
}

type pingCompleteEvent struct {
	holderID uint64
	err      error
}

func (e *pingCompleteEvent) apply(p *Pool) {
	h, ok := p.holders[e.holderID]
	if !ok {
		return
	}
	if e.err != nil {
		p.destroyHolder(h, event.ReasonConnectionErrored, 0)
		return
	}
	p.offerHolder(h, time.Now())
}

// codelPollEvent is the periodic re-check that catches a stuck head of
// queue: while a waiter sits at the head of the Wait Queue with nothing
// dequeuing it (no checkins arriving), the CoDel Controller still needs
// to notice it has been stuck past target and shed it. id and cursor let
// a fire that lost the race against a real dequeue recognise it is stale
// and do nothing.
type codelPollEvent struct {
	id     uint64
	cursor time.Time
}

func (e *codelPollEvent) apply(p *Pool) {
	defer p.armPoll()
	if e.id != p.pollArmID {
		return
	}
	front, ok := p.wait.first()
	if !ok || !front.submittedAt.Equal(e.cursor) {
		return // either empty or progress has been made since arming
	}
	now := time.Now()
	if now.Before(p.codel.nextCheck) {
		return
	}
	age := front.age(now)
	wasSlow := p.codel.slow
	changed := p.codel.beginWindow(now, age)
	if changed {
		p.logger.Print(logger.InfoLevel, &logger.CoDelModeChanged{
			CoDelMessage: logger.CoDelMessage{PoolName: p.cfg.Name},
			Slow:         p.codel.slow,
			DelayMS:      age.Milliseconds(),
			TargetMS:     p.codel.target.Milliseconds(),
		})
	}
	if !p.codel.slow || (p.codel.slow && !wasSlow) {
		// Either the queue is back to fast mode, or this tick is the
		// first over-target reading: a lone bad sample must be confirmed
		// by a second one before anything is actually shed.
		return
	}
	// Once a sweep is due, shed every waiter whose age has passed
	// 2*target in one pass rather than just the head: a stuck queue can
	// accumulate many such waiters between ticks, and letting them drain
	// one per QueueInterval would leave the tail waiting far longer than
	// the controller intends.
	for {
		entry, ok := p.wait.first()
		if !ok {
			break
		}
		age := entry.age(now)
		if age <= 2*p.codel.target {
			break
		}
		p.wait.popFront()
		close(entry.stopWatch)
		p.logger.Print(logger.InfoLevel, &logger.CoDelDroppedWaiter{
			CoDelMessage: logger.CoDelMessage{PoolName: p.cfg.Name},
			AgeMS:        age.Milliseconds(),
		})
		p.monitor.Emit(&event.PoolEvent{Type: event.CheckOutFailed, PoolName: p.cfg.Name, Reason: event.ReasonDropped, Elapsed: age})
		trySendReply(entry.reply, checkoutReply{err: &DroppedError{PoolName: p.cfg.Name, Elapsed: age}})
	}
}

// codelIdleEvent is the periodic idle-connection health check. It only
// acts when a Ping hook is configured and the longest-idle Ready
// connection has been sitting there past IdleInterval.
type codelIdleEvent struct {
	id uint64
}

func (e *codelIdleEvent) apply(p *Pool) {
	defer p.armIdle()
	if e.id != p.idleArmID || p.cfg.Ping == nil {
		return
	}
	idleSince, ok := p.ready.oldestIdleSince()
	if !ok || time.Since(idleSince) < p.cfg.IdleInterval {
		return
	}
	h, ok := p.ready.takeOldest()
	if !ok {
		return
	}
	p.logger.Print(logger.DebugLevel, &logger.CoDelIdlePingSent{
		CoDelMessage: logger.CoDelMessage{PoolName: p.cfg.Name},
		HolderID:     h.id,
	})
	go p.runPing(h)
}

func (p *Pool) runPing(h *Holder) {
	conn, _, _, _ := h.snapshot()
	err := p.cfg.Ping(conn)
	select {
	case p.mailbox <- &pingCompleteEvent{holderID: h.id, err: err}:
	case <-p.done:
	}
}

// armPoll and armIdle self-rearm the CoDel poll and idle timers. Each fire
// carries a fresh id so a Stop() call racing an in-flight fire (Close) is
// harmless: the event either never arrives (send loses to p.done closing)
// or arrives and is ignored (id mismatch never actually occurs here since
// only one is ever outstanding, but the guard costs nothing and matches
// deadline-timer discipline elsewhere in this package).
func (p *Pool) armPoll() {
	p.pollArmID++
	id := p.pollArmID
	var cursor time.Time
	if front, ok := p.wait.first(); ok {
		cursor = front.submittedAt
	}
	p.pollTimer = time.AfterFunc(p.cfg.QueueInterval, func() {
		select {
		case p.mailbox <- &codelPollEvent{id: id, cursor: cursor}:
		case <-p.done:
		}
	})
}

// armIdle jitters its own cadence by up to 10% so many pools sharing a
// process do not all sweep for idle connections on the same tick.
func (p *Pool) armIdle() {
	p.idleArmID++
	id := p.idleArmID
	wait := xrand.Jitter(p.cfg.IdleInterval, 0.1)
	p.idleTimer = time.AfterFunc(wait, func() {
		select {
		case p.mailbox <- &codelIdleEvent{id: id}:
		case <-p.done:
		}
	})
}

type clearEvent struct {
	reply chan struct{}
}

func (e *clearEvent) apply(p *Pool) {
	p.generation++
	for {
		h, ok := p.ready.takeOldest()
		if !ok {
			break
		}
		p.destroyHolder(h, event.ReasonGenerationStale, 0)
	}
	if p.ready.len() == 0 && p.mode == modeReady {
		p.mode = modeBusy
	}
	p.logger.Print(logger.InfoLevel, &logger.PoolCleared{
		PoolMessage: logger.PoolMessage{PoolName: p.cfg.Name},
		Reason:      string(event.ReasonGenerationStale),
	})
	p.monitor.Emit(&event.PoolEvent{Type: event.PoolCleared, PoolName: p.cfg.Name})
	e.reply <- struct{}{}
}

type readyEvent struct {
	reply chan struct{}
}

func (e *readyEvent) apply(p *Pool) {
	p.paused = false
	p.logger.Print(logger.InfoLevel, &logger.PoolReady{
		PoolMessage: logger.PoolMessage{PoolName: p.cfg.Name},
	})
	p.monitor.Emit(&event.PoolEvent{Type: event.PoolReady, PoolName: p.cfg.Name})
	e.reply <- struct{}{}
}

type statsEvent struct {
	reply chan Stats
}

func (e *statsEvent) apply(p *Pool) {
	e.reply <- Stats{
		Available:     p.ready.len(),
		Total:         len(p.holders),
		Waiting:       p.wait.len(),
		QueueDelayP90: p.codel.delayP90(),
	}
}

type closeEvent struct {
	reply chan struct{}
}

func (e *closeEvent) apply(p *Pool) {
	p.paused = true
	for {
		entry, ok := p.wait.popFront()
		if !ok {
			break
		}
		close(entry.stopWatch)
		trySendReply(entry.reply, checkoutReply{err: &DroppedError{PoolName: p.cfg.Name, Elapsed: time.Since(entry.submittedAt)}})
	}
	for {
		h, ok := p.ready.takeOldest()
		if !ok {
			break
		}
		p.destroyHolder(h, event.ReasonPoolClosed, 0)
	}
	for _, h := range p.holders {
		p.destroyHolder(h, event.ReasonPoolClosed, 0)
	}
	p.pollTimer.Stop()
	p.idleTimer.Stop()
	p.logger.Print(logger.InfoLevel, &logger.PoolClosed{
		PoolMessage: logger.PoolMessage{PoolName: p.cfg.Name},
	})
	p.monitor.Emit(&event.PoolEvent{Type: event.PoolClosed, PoolName: p.cfg.Name})
	p.stopped = true
	e.reply <- struct{}{}
}

// trySendReply delivers to a buffered, capacity-1 reply channel without
// blocking the Broker if nobody is listening any more (the receiver gave up
// locally and only reads it opportunistically afterwards).
func trySendReply(reply chan checkoutReply, r checkoutReply) {
	select {
	case reply <- r:
	default:
	}
}
