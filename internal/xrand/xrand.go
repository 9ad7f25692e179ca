// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package xrand provides the process-wide jitter source used to keep
// periodic work in many pools from phase-locking onto the same tick.
package xrand

import (
	crand "crypto/rand"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"
)

// lockedRand wraps a math/rand.Rand for concurrent use, mirroring
// randutil.LockedRand's shape without pulling in its Shuffle/Read surface,
// which nothing here needs.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (lr *lockedRand) Int63n(n int64) int64 {
	lr.mu.Lock()
	x := lr.r.Int63n(n)
	lr.mu.Unlock()
	return x
}

// global is seeded once at package init from crypto/rand rather than the
// wall clock, so many processes started at once don't share a seed.
var global = &lockedRand{r: rand.New(rand.NewSource(cryptoSeed()))}

func cryptoSeed() int64 {
	var b [8]byte
	if _, err := io.ReadFull(crand.Reader, b[:]); err != nil {
		panic(fmt.Errorf("xrand: failed to read seed: %w", err))
	}
	var seed int64
	for i, v := range b {
		seed |= int64(v) << (8 * i)
	}
	return seed
}

// Jitter returns d adjusted by a uniformly random amount in
// [-frac*d, +frac*d]. frac is clamped to [0, 1]. Used to spread the CoDel
// idle-ping sweep's cadence across many pools sharing a process so their
// pings do not all land in the same instant.
func Jitter(d time.Duration, frac float64) time.Duration {
	if d <= 0 {
		return d
	}
	if frac <= 0 {
		return d
	}
	if frac > 1 {
		frac = 1
	}
	span := int64(float64(d) * frac)
	if span <= 0 {
		return d
	}
	offset := global.Int63n(2*span+1) - span
	return d + time.Duration(offset)
}
