// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import "sync"

// ConnWorker is the opaque reference to a live database connection worker
// that a Holder wraps. Establishing, authenticating and supervising the
// worker behind this interface is the Connector's job (out of scope for
// this package); the broker only ever asks it to close.
type ConnWorker interface {
	// Close tears down the underlying connection. It is called
	// asynchronously by the broker and must not block indefinitely.
	Close()
}

// owner identifies which party currently holds a Holder.
type owner uint8

const (
	ownerPool owner = iota
	ownerClient
)

// Holder is a per-connection ownership token: it doubles as the handoff
// vehicle passed between the pool and a client, and as the place a fired
// deadline compares its own id against to detect staleness (see
// updateDeadline / matchesDeadline).
//
// Exactly one party owns a Holder at any instant. The broker is the only
// party that ever moves a Holder between the Ready Queue and a client; all
// mutation below is guarded by mu because a deadline timer, the broker
// goroutine, and the owning client's goroutine can all touch it.
type Holder struct {
	mu sync.Mutex

	id         uint64
	owner      owner
	conn       ConnWorker
	mod        string
	state      []byte
	deadlineID uint64 // 0 means "no active deadline"
	generation uint64 // pool generation this Holder was created under
	epoch      uint64 // bumped on every ownership transfer; a stale Handle's epoch will mismatch
	destroyed  bool
}

func newHolder(id uint64, conn ConnWorker, mod string, state []byte, generation uint64) *Holder {
	return &Holder{
		id:         id,
		owner:      ownerPool,
		conn:       conn,
		mod:        mod,
		state:      state,
		generation: generation,
	}
}

// isDestroyed reports whether the Holder has been irrevocably invalidated.
func (h *Holder) isDestroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

// destroy irrevocably invalidates the Holder. Any pending transfer or timer
// that later compares against it observes "no longer exists".
func (h *Holder) destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = true
	h.deadlineID = 0
}

// transferToClient moves ownership from the pool to a client and returns the
// epoch the client's Handle must present on checkin/disconnect/stop. It
// fails only if the Holder was destroyed out from under the broker (an
// invariant violation the broker treats as fatal to this Holder).
func (h *Holder) transferToClient() (epoch uint64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return 0, false
	}
	h.owner = ownerClient
	h.epoch++
	h.deadlineID = 0
	return h.epoch, true
}

// transferToPool moves ownership back to the pool if presentedEpoch still
// matches the Holder's current epoch. It reports ok=false for a stale
// Handle (already checked in, or the Holder was recycled since), which the
// caller must treat as a no-op rather than an error.
func (h *Holder) transferToPool(presentedEpoch uint64, newState []byte) (ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed || h.owner != ownerClient || h.epoch != presentedEpoch {
		return false
	}
	h.owner = ownerPool
	h.deadlineID = 0
	if newState != nil {
		h.state = newState
	}
	return true
}

// updateDeadline records the id of the timer governing the current
// checkout. Only meaningful while the client owns the Holder.
func (h *Holder) updateDeadline(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deadlineID = id
}

// matchesDeadline reports whether id is still the Holder's live deadline,
// defeating the stale-timer-fires-against-next-tenant race: a deadline
// fired after checkin/disconnect already cleared or replaced deadlineID
// will not match.
func (h *Holder) matchesDeadline(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.destroyed && h.deadlineID == id
}

// clearDeadlineIfMatches clears deadlineID if it still equals id, and
// reports whether it did. Used by the broker when a deadline fires so a
// second, racing fire for the same id cannot double-disconnect.
func (h *Holder) clearDeadlineIfMatches(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed || h.deadlineID != id {
		return false
	}
	h.deadlineID = 0
	return true
}

// matchesEpoch reports whether the Holder is still client-owned under
// epoch. disconnect/stop use this instead of transferToPool because they
// tear the connection down rather than returning it, but still need the
// same staleness guard: a second release call for an already-recycled
// Holder must not destroy whichever client holds it now.
func (h *Holder) matchesEpoch(epoch uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.destroyed && h.owner == ownerClient && h.epoch == epoch
}

// snapshot returns the fields read() exposes to the current owner.
func (h *Holder) snapshot() (conn ConnWorker, deadlineID uint64, mod string, state []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn, h.deadlineID, h.mod, h.state
}

func (h *Holder) isStale(currentGeneration uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generation < currentGeneration
}
