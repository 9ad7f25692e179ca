// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"time"

	"github.com/montanaflynn/stats"
)

// codelState is the CoDel (Controlled Delay) queue-discipline state that
// decides when a stuck head-of-line waiter should be shed. It is mutated
// exclusively from the Broker's own goroutine, so unlike Holder it needs
// no internal locking.
type codelState struct {
	target       time.Duration
	interval     time.Duration
	idleInterval time.Duration

	delay     time.Duration // minimum head-of-line delay observed in the current window
	slow      bool
	nextCheck time.Time

	// samples feeds the diagnostic delayP90 computation; it is not consulted
	// by the drop decision itself, only reported to observers.
	samples []time.Duration
}

const codelMaxSamples = 200

func newCodelState(target, interval, idleInterval time.Duration) *codelState {
	return &codelState{
		target:       target,
		interval:     interval,
		idleInterval: idleInterval,
	}
}

// recordDelay folds an observed delay into the window's running minimum:
// a delay strictly below what is already recorded lowers the baseline,
// anything else leaves it untouched. This is what lets a queue that is
// draining fast keep delay pinned at (or near) zero between interval
// boundaries, even while individual waiters briefly age past target.
func (c *codelState) recordDelay(observed time.Duration) {
	if observed < c.delay {
		c.delay = observed
	}
	c.samples = append(c.samples, observed)
	if len(c.samples) > codelMaxSamples {
		c.samples = c.samples[len(c.samples)-codelMaxSamples:]
	}
}

// beginWindow re-evaluates the controller at an interval boundary: it
// takes a fresh head-of-line measurement, decides slow mode from it, and
// reports whether that decision changed. It is called unconditionally at
// every boundary crossing, in both fast and slow mode, so a queue that
// recovers gets to leave slow mode again instead of staying shed forever
// once triggered.
func (c *codelState) beginWindow(now time.Time, headAge time.Duration) (changed bool) {
	wasSlow := c.slow
	c.delay = headAge
	c.slow = headAge > c.target
	c.nextCheck = now.Add(c.interval)
	return c.slow != wasSlow
}

// reset clears the window state when the Wait Queue drains to empty: the
// next waiter to queue up starts with a clean baseline and fast mode.
func (c *codelState) reset() {
	c.delay = 0
	c.slow = false
}

// delayP90 reports the 90th percentile of recently observed delays,
// surfaced through Stats.QueueDelayP90 for callers watching queue health;
// it has no bearing on the fast/slow decision itself.
func (c *codelState) delayP90() time.Duration {
	if len(c.samples) < 5 {
		return 0
	}
	floatSamples := make([]float64, len(c.samples))
	for i, d := range c.samples {
		floatSamples[i] = float64(d)
	}
	p, err := stats.Percentile(floatSamples, 90)
	if err != nil {
		return 0
	}
	return time.Duration(p)
}
