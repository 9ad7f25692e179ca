// Package event exposes the monitoring hooks a caller can register to
// observe checkout-broker activity without coupling the broker itself to
// any particular metrics backend.
package event

import "time"

// Type identifies the kind of PoolEvent that occurred, following the CMAP
// event-name vocabulary connection pool monitors commonly report.
type Type string

// Event type strings.
const (
	PoolCreated        Type = "PoolCreated"
	PoolReady          Type = "PoolReady"
	PoolCleared        Type = "PoolCleared"
	PoolClosed         Type = "PoolClosed"
	ConnectionCreated  Type = "ConnectionCreated"
	ConnectionClosed   Type = "ConnectionClosed"
	CheckOutStarted    Type = "CheckOutStarted"
	CheckOutFailed     Type = "CheckOutFailed"
	CheckedOut         Type = "CheckedOut"
	CheckedIn          Type = "CheckedIn"
)

// Reason qualifies why a CheckOutFailed, ConnectionClosed, or PoolCleared
// event occurred.
type Reason string

// Reason strings.
const (
	ReasonPoolClosed        Reason = "poolClosed"
	ReasonUnavailable       Reason = "unavailable"
	ReasonDropped           Reason = "dropped"
	ReasonDeadlineInQueue   Reason = "deadlineInQueue"
	ReasonTimeout           Reason = "timeout"
	ReasonConnectionErrored Reason = "connectionError"
	ReasonDisconnect        Reason = "disconnect"
	ReasonStop              Reason = "stop"
	ReasonIdlePing          Reason = "idlePing"
	ReasonGenerationStale   Reason = "generationStale"
)

// PoolOptions mirrors the subset of pool construction options relevant to
// an observer, reported on PoolCreated.
type PoolOptions struct {
	QueueTarget   time.Duration
	QueueInterval time.Duration
	IdleInterval  time.Duration
	Timeout       time.Duration
	MaxPoolSize   uint64
	MinPoolSize   uint64
}

// PoolEvent summarizes a single occurrence in a pool's lifecycle: a Holder
// being installed, checked out, checked in, or destroyed, a wait dropped by
// CoDel, or the pool itself being cleared/closed.
type PoolEvent struct {
	Type      Type
	PoolName  string
	HolderID  uint64 // 0 when the event is not about a specific Holder
	Reason    Reason
	Options   *PoolOptions // set only on PoolCreated
	WaitedFor time.Duration
	Elapsed   time.Duration
}

// PoolMonitor lets a caller observe PoolEvents. Event is invoked
// synchronously from the Broker's goroutine wherever it is convenient to
// emit the event, so it must not block or call back into the pool.
type PoolMonitor struct {
	Event func(*PoolEvent)
}

// Emit reports e to m if m and its Event callback are non-nil. It is safe
// to call on a nil *PoolMonitor.
func (m *PoolMonitor) Emit(e *PoolEvent) {
	if m == nil || m.Event == nil {
		return
	}
	m.Event(e)
}
