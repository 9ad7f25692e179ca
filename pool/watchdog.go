// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import "context"

// watchClient is the Client Watchdog. Go has no process-monitor
// primitive, so client liveness is modeled the idiomatic way: the
// caller's context.Context is the liveness signal. watchClient
// runs for the lifetime of a single Wait Entry, in its own goroutine,
// independent of whatever the client's own checkOut call is doing with its
// reply channel. If ctx is canceled before stop fires, it posts a
// clientDeathEvent so the Broker can demonitor and remove the entry even
// if the client's own goroutine never runs another select.
func watchClient(ctx context.Context, seq uint64, mailbox chan<- brokerEvent, stop <-chan struct{}) {
	select {
	case <-ctx.Done():
		select {
		case mailbox <- &clientDeathEvent{seq: seq}:
		case <-stop:
		}
	case <-stop:
	}
}
