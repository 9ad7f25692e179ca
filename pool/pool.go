// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package pool implements the checkout-broker core of a database connection
// pool: a single actor goroutine (the Broker) that multiplexes a bounded
// set of connections (Holders) among concurrent clients through a Ready
// Queue, a FIFO Wait Queue, and a CoDel queue discipline that sheds waiters
// once head-of-line delay becomes chronic rather than let the queue grow
// without bound.
//
// Establishing, authenticating and monitoring the connections themselves
// (the Connector) is out of scope: this package only ever asks a
// ConnWorker to close.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/fishcakez/db-connection/event"
	"github.com/fishcakez/db-connection/internal/logger"
	"golang.org/x/sync/semaphore"
)

// brokerMode mirrors the Broker's Busy/Ready state machine. It is
// bookkeeping only; every decision that matters is actually driven by
// whether the Ready or Wait Queue is empty.
type brokerMode uint8

const (
	modeBusy brokerMode = iota
	modeReady
)

// Stats is a point-in-time snapshot of a Pool's bookkeeping, useful for
// dashboards and tests; it is not part of the checkout protocol itself.
type Stats struct {
	Available     int           // Holders sitting idle in the Ready Queue
	Total         int           // Holders currently known to the Broker, idle or checked out
	Waiting       int           // clients parked in the Wait Queue
	QueueDelayP90 time.Duration // 90th percentile of recently observed Wait Queue delay
}

// Pool is a single connection pool: the exported handle onto one Broker
// actor. All exported methods are safe for concurrent use; each one sends a
// brokerEvent into the actor's mailbox and waits for its reply, so the
// actual state mutation always happens on a single goroutine.
type Pool struct {
	cfg        *poolConfig
	mailbox    chan brokerEvent
	done       chan struct{} // closed once run() returns
	logger     logger.Logger
	monitor    *event.PoolMonitor
	connectSem *semaphore.Weighted

	closeOnce sync.Once

	// Everything below is owned exclusively by run() and must never be
	// touched from any other goroutine.
	mode    brokerMode
	paused  bool
	stopped bool

	ready   *readyQueue
	wait    *waitQueue
	codel   *codelState
	holders map[uint64]*Holder

	generation     uint64
	nextHolderID   uint64
	nextSeq        uint64
	nextDeadlineID uint64
	installedCount uint64
	destroyedCount uint64

	pollTimer  *time.Timer
	pollArmID  uint64
	idleTimer  *time.Timer
	idleArmID  uint64
}

// NewPool constructs a Pool and starts its Broker goroutine. The pool
// begins paused: CheckOut fails with ErrPoolClosed until Ready is called,
// so a caller that owns the surrounding topology can hold off serving
// traffic until it has confirmed the backing server is reachable. Install
// may be called before Ready to pre-populate the Ready Queue.
func NewPool(opts ...PoolOption) *Pool {
	cfg := newPoolConfig(opts...)
	p := &Pool{
		cfg:        cfg,
		mailbox:    make(chan brokerEvent),
		done:       make(chan struct{}),
		logger:     logger.New(cfg.Sink),
		monitor:    cfg.Monitor,
		connectSem: newConnectSem(cfg.MaxConnecting),
		paused:     true,
		ready:   newReadyQueue(),
		wait:    newWaitQueue(),
		codel:   newCodelState(cfg.QueueTarget, cfg.QueueInterval, cfg.IdleInterval),
		holders: make(map[uint64]*Holder),
	}
	p.logger.Print(logger.InfoLevel, &logger.PoolCreated{
		PoolMessage:   logger.PoolMessage{PoolName: cfg.Name},
		MaxPoolSize:   cfg.MaxPoolSize,
		MinPoolSize:   cfg.MinPoolSize,
		MaxConnecting: cfg.MaxConnecting,
	})
	p.monitor.Emit(&event.PoolEvent{
		Type:     event.PoolCreated,
		PoolName: cfg.Name,
		Options: &event.PoolOptions{
			QueueTarget:   cfg.QueueTarget,
			QueueInterval: cfg.QueueInterval,
			IdleInterval:  cfg.IdleInterval,
			Timeout:       cfg.Timeout,
			MaxPoolSize:   cfg.MaxPoolSize,
			MinPoolSize:   cfg.MinPoolSize,
		},
	})
	p.armPoll()
	p.armIdle()
	go p.run()
	return p
}

// run is the Broker's single receive loop: brokerEvent.apply is the only
// code in this package allowed to mutate Pool's actor-owned fields, and it
// only ever runs here.
func (p *Pool) run() {
	defer close(p.done)
	for e := range p.mailbox {
		e.apply(p)
		if p.stopped {
			return
		}
	}
}

// send delivers ev to the Broker and blocks until it is applied, or the
// Broker has already shut down.
func (p *Pool) send(ev brokerEvent) bool {
	select {
	case p.mailbox <- ev:
		return true
	case <-p.done:
		return false
	}
}

// Ready lifts the pool out of its initial paused state, allowing CheckOut
// to serve or queue requests.
func (p *Pool) Ready() error {
	reply := make(chan struct{})
	if !p.send(&readyEvent{reply: reply}) {
		return ErrPoolClosed
	}
	<-reply
	return nil
}

// Install registers a freshly established connection with the pool and
// immediately offers it to the oldest waiter, if any, otherwise leaves it
// idle in the Ready Queue. It is the Connector-facing counterpart to
// CheckOut; ref identifies the new Holder and is the ref a later Stop call
// names.
func (p *Pool) Install(mod string, state []byte, conn ConnWorker) (ref uint64, err error) {
	reply := make(chan installReply, 1)
	if !p.send(&installEvent{mod: mod, state: state, conn: conn, reply: reply}) {
		return 0, ErrPoolClosed
	}
	r := <-reply
	return r.ref, nil
}

// CheckOut requests a connection. If none is idle and Queue is true (the
// default), the call waits in the Wait Queue until a
// Holder is handed off, the CoDel Controller sheds it, ctx is done, or its
// own timeout elapses. The returned Handle's Timeout continues to govern
// the checkout after it is granted: holding it past that point disconnects
// the underlying connection out from under the caller.
func (p *Pool) CheckOut(ctx context.Context, opts ...CheckoutOption) (*Handle, error) {
	cfg := resolveCheckoutOptions(p.cfg, opts...)
	submittedAt := time.Now()

	waitCtx := ctx
	var cancel context.CancelFunc
	if deadline, ok := effectiveDeadline(cfg, submittedAt); ok {
		waitCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	reply := make(chan checkoutReply, 1)
	if !p.send(&checkoutEvent{opts: cfg, ctx: waitCtx, submittedAt: submittedAt, reply: reply}) {
		return nil, ErrPoolClosed
	}

	select {
	case res := <-reply:
		if res.err != nil {
			return nil, res.err
		}
		return res.handle, nil
	case <-waitCtx.Done():
		select {
		case res := <-reply:
			if res.err == nil {
				// The handoff won the race but we had already stopped
				// listening; hand the connection straight back.
				_ = p.CheckIn(res.handle, nil)
				return nil, &DeadlineInQueueError{PoolName: p.cfg.Name, Elapsed: time.Since(submittedAt)}
			}
			return nil, res.err
		default:
		}
		return nil, &DroppedError{PoolName: p.cfg.Name, Elapsed: time.Since(submittedAt), Wrapped: waitCtx.Err()}
	}
}

// CheckIn returns a Handle's connection to the pool, optionally recording
// updated per-connection state. A Handle already returned, disconnected, or
// stopped is a safe no-op.
func (p *Pool) CheckIn(h *Handle, newState []byte) error {
	if h.pool != p {
		return ErrWrongPool
	}
	h.stopDeadline()
	reply := make(chan error, 1)
	if !p.send(&checkinEvent{ref: h.ref, epoch: h.epoch, newState: newState, reply: reply}) {
		return ErrPoolClosed
	}
	return <-reply
}

// Disconnect tears the Handle's connection down instead of returning it to
// the pool, e.g. because the client observed a network error using it.
func (p *Pool) Disconnect(h *Handle, cause error) error {
	if h.pool != p {
		return ErrWrongPool
	}
	h.stopDeadline()
	reply := make(chan error, 1)
	if !p.send(&releaseEvent{ref: h.ref, epoch: h.epoch, reason: event.ReasonDisconnect, cause: cause, reply: reply}) {
		return ErrPoolClosed
	}
	return <-reply
}

// Stop is Disconnect's ref-based counterpart: it tears down the Holder
// named by ref, reporting ReasonStop, provided that Holder is still checked
// out under epoch. An idle Holder, or one recycled under a later epoch, is
// left alone and the call is a no-op. Failed idle pings do not go through
// Stop; the Broker destroys those itself.
func (p *Pool) Stop(ref uint64, epoch uint64) error {
	reply := make(chan error, 1)
	if !p.send(&releaseEvent{ref: ref, epoch: epoch, reason: event.ReasonStop, reply: reply}) {
		return ErrPoolClosed
	}
	return <-reply
}

// Clear bumps the pool's generation, immediately destroying every
// currently idle connection and marking every checked-out one for teardown
// on its next return, per the pool-generation supplement in SPEC_FULL.md.
func (p *Pool) Clear() error {
	reply := make(chan struct{})
	if !p.send(&clearEvent{reply: reply}) {
		return ErrPoolClosed
	}
	<-reply
	return nil
}

// Stats reports a snapshot of the pool's bookkeeping.
func (p *Pool) Stats() (Stats, error) {
	reply := make(chan Stats, 1)
	if !p.send(&statsEvent{reply: reply}) {
		return Stats{}, ErrPoolClosed
	}
	return <-reply, nil
}

// Close permanently shuts the pool down: every queued waiter is dropped,
// every known connection is disconnected, and every subsequent call
// returns ErrPoolClosed. Close is idempotent.
func (p *Pool) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		reply := make(chan struct{})
		if !p.send(&closeEvent{reply: reply}) {
			return
		}
		select {
		case <-reply:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}
