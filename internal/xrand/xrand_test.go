// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package xrand

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJitterStaysWithinBounds(t *testing.T) {
	t.Parallel()

	d := 100 * time.Millisecond
	lo := d - 10*time.Millisecond
	hi := d + 10*time.Millisecond
	for i := 0; i < 50; i++ {
		got := Jitter(d, 0.1)
		assert.GreaterOrEqual(t, got, lo)
		assert.LessOrEqual(t, got, hi)
	}
}

func TestJitterZeroFractionIsIdentity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100*time.Millisecond, Jitter(100*time.Millisecond, 0))
}

func TestJitterNonPositiveDurationIsIdentity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), Jitter(0, 0.5))
	assert.Equal(t, -5*time.Millisecond, Jitter(-5*time.Millisecond, 0.5))
}
