// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"time"

	"github.com/fishcakez/db-connection/event"
	"github.com/fishcakez/db-connection/internal/logger"
)

const (
	defaultQueueTarget   = 50 * time.Millisecond
	defaultQueueInterval = 1000 * time.Millisecond
	defaultIdleInterval  = 1000 * time.Millisecond
	defaultTimeout       = 5000 * time.Millisecond
	defaultMaxConnecting = 2
)

// poolConfig collects the construction options recognised by NewPool,
// using the same functional-options pattern as CheckoutOption.
type poolConfig struct {
	Name string

	QueueTarget   time.Duration
	QueueInterval time.Duration
	IdleInterval  time.Duration
	Timeout       time.Duration

	MaxPoolSize   uint64
	MinPoolSize   uint64
	MaxConnecting uint64

	// Ping, if set, is called by the idle-ping sweep on the
	// longest-idle Ready connection every IdleInterval. A nil Ping (the
	// default) disables idle pinging entirely: establishing and probing
	// connections is the Connector's job, out of scope for this package.
	Ping func(ConnWorker) error

	Sink    logger.LogSink
	Monitor *event.PoolMonitor
}

func newPoolConfig(opts ...PoolOption) *poolConfig {
	cfg := &poolConfig{
		Name:          "default",
		QueueTarget:   defaultQueueTarget,
		QueueInterval: defaultQueueInterval,
		IdleInterval:  defaultIdleInterval,
		Timeout:       defaultTimeout,
		MaxConnecting: defaultMaxConnecting,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MinPoolSize != 0 && cfg.MaxPoolSize != 0 && cfg.MinPoolSize > cfg.MaxPoolSize {
		cfg.MinPoolSize = cfg.MaxPoolSize
	}
	return cfg
}

// PoolOption configures a Pool at construction time.
type PoolOption func(*poolConfig)

// WithName sets the pool's name, used in logs, events and error messages.
func WithName(name string) PoolOption {
	return func(c *poolConfig) { c.Name = name }
}

// WithQueueTarget sets the CoDel target head-of-line delay.
func WithQueueTarget(d time.Duration) PoolOption {
	return func(c *poolConfig) { c.QueueTarget = d }
}

// WithQueueInterval sets the CoDel measurement window.
func WithQueueInterval(d time.Duration) PoolOption {
	return func(c *poolConfig) { c.QueueInterval = d }
}

// WithIdleInterval sets the idle-connection ping period.
func WithIdleInterval(d time.Duration) PoolOption {
	return func(c *poolConfig) { c.IdleInterval = d }
}

// WithTimeout sets the default CheckoutOptions.Timeout used when a caller
// does not specify one explicitly.
func WithTimeout(d time.Duration) PoolOption {
	return func(c *poolConfig) { c.Timeout = d }
}

// WithMaxPoolSize records the maximum pool size for reporting purposes
// (the PoolCreated log line and event). The pool does not enforce it:
// Install accepts a new connection however many are already live.
func WithMaxPoolSize(n uint64) PoolOption {
	return func(c *poolConfig) { c.MaxPoolSize = n }
}

// WithMinPoolSize records the minimum pool size for reporting purposes.
// Establishing connections to reach it is the Connector's job.
func WithMinPoolSize(n uint64) PoolOption {
	return func(c *poolConfig) { c.MinPoolSize = n }
}

// WithMaxConnecting bounds how many connection establishments the
// Connector may run concurrently against this pool, independent of
// MaxPoolSize.
func WithMaxConnecting(n uint64) PoolOption {
	return func(c *poolConfig) { c.MaxConnecting = n }
}

// WithPing installs the health check the idle-ping sweep runs against the
// longest-idle Ready connection every IdleInterval. Without one, idle
// connections are left alone until a client checks them out.
func WithPing(fn func(ConnWorker) error) PoolOption {
	return func(c *poolConfig) { c.Ping = fn }
}

// WithLogSink installs a custom logger.LogSink, e.g. a logr-shaped adapter
// over logrus, zap, or zerolog.
func WithLogSink(sink logger.LogSink) PoolOption {
	return func(c *poolConfig) { c.Sink = sink }
}

// WithPoolMonitor installs a PoolMonitor to observe pool lifecycle events.
func WithPoolMonitor(m *event.PoolMonitor) PoolOption {
	return func(c *poolConfig) { c.Monitor = m }
}
