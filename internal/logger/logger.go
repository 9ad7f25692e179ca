package logger

import (
	"io"
	"os"
)

// LogSink is an interface that can be implemented to provide a custom sink for the pool's logs. It has the
// same shape as logr.LogSink's Info method, so any logr-backed logger (zap, zerolog, logrus via an
// adapter) can be wired in without this package depending on any of them directly.
type LogSink interface {
	Info(int, string, ...interface{})
}

type job struct {
	level Level
	msg   ComponentMessage
}

// Logger is the checkout broker's logger. It fans messages out to either the standard library or a
// custom LogSink, filtered per-Component by Level.
type Logger struct {
	componentLevels map[Component]Level
	sink            LogSink
	jobs            chan job
}

// New constructs a new Logger with the given LogSink. The "componentLevels" parameter is variadic with
// the latest value taking precedence; if a component's level is not set explicitly, the constructor
// falls back to the DBCONNECTION_LOG_* environment variables, and finally to OffLevel.
//
// If sink is nil, the Logger writes to os.Stderr using the standard library.
func New(sink LogSink, componentLevels ...map[Component]Level) Logger {
	logger := Logger{
		componentLevels: mergeComponentLevels(append([]map[Component]Level{getEnvComponentLevels()}, componentLevels...)...),
	}

	if sink != nil {
		logger.sink = sink
	} else {
		logger.sink = newOSSink(os.Stderr)
	}

	logger.jobs = make(chan job, 64)
	go logger.startPrinter(logger.jobs)

	return logger
}

// NewWithWriter constructs a new Logger writing JSON lines to w.
func NewWithWriter(w io.Writer, componentLevels ...map[Component]Level) Logger {
	return New(NewIOSink(w), componentLevels...)
}

// Close stops the Logger's printer goroutine. Further Print calls after Close panic, matching the
// close-once discipline of the channel it stops.
func (logger Logger) Close() {
	close(logger.jobs)
}

// Is reports whether the given Level is enabled for the given Component, checking both the specific
// component and ComponentAll.
func (logger Logger) Is(level Level, component Component) bool {
	if logger.componentLevels[ComponentAll] >= level {
		return true
	}
	return logger.componentLevels[component] >= level
}

// Print enqueues msg for asynchronous delivery to the sink if its level is enabled. It never blocks the
// caller: a full queue drops the message rather than stalling the Broker's event loop.
func (logger Logger) Print(level Level, msg ComponentMessage) {
	if !logger.Is(level, msg.Component()) {
		return
	}
	select {
	case logger.jobs <- job{level, msg}:
	default:
	}
}

func (logger *Logger) startPrinter(jobs <-chan job) {
	for j := range jobs {
		sink := logger.sink
		if sink == nil {
			continue
		}
		kv := j.msg.Serialize()
		sink.Info(int(j.level)-DiffToInfo, j.msg.Message(), kv...)
	}
}
