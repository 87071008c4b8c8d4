package trench

import (
	"log/slog"
	"time"

	"github.com/birdayz/trench/internal/execution"
	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/ksink"
	"github.com/birdayz/trench/kstate"
)

// Option is a function that configures an App
type Option func(*App)

// WithWorkersCount sets the number of worker routines
var WithWorkersCount = func(n int) Option {
	return func(a *App) {
		a.numRoutines = n
	}
}

// WithLog sets the logger for the application
var WithLog = func(log *slog.Logger) Option {
	return func(a *App) {
		a.log = log
	}
}

// WithBrokers sets the Kafka broker addresses
var WithBrokers = func(brokers []string) Option {
	return func(a *App) {
		a.brokers = brokers
	}
}

// WithTopics sets the topics events are consumed from
var WithTopics = func(topics ...string) Option {
	return func(a *App) {
		a.topics = topics
	}
}

// WithStore sets the counting store of stateful functions
var WithStore = func(store kstate.CountingStore) Option {
	return func(a *App) {
		a.store = store
	}
}

// WithSandbox sets the sandbox running Computed functions
var WithSandbox = func(sandbox kfn.Sandbox) Option {
	return func(a *App) {
		a.sandbox = sandbox
	}
}

// WithSink sets where saved feature rows are written
var WithSink = func(sink ksink.Sink) Option {
	return func(a *App) {
		a.sink = sink
	}
}

// WithDecoder sets how consumed records become events
var WithDecoder = func(decoder execution.EventDecoder) Option {
	return func(a *App) {
		a.decoder = decoder
	}
}

// WithPrune drops nodes no other node or cache depends on before building
var WithPrune = func() Option {
	return func(a *App) {
		a.prune = true
	}
}

// WithMaxConcurrentEvents bounds the number of events processed at once
var WithMaxConcurrentEvents = func(n int) Option {
	return func(a *App) {
		a.maxConcurrentEvents = n
	}
}

// WithPureConcurrency bounds concurrent evaluations of stateless functions
var WithPureConcurrency = func(n int) Option {
	return func(a *App) {
		a.pureConcurrency = n
	}
}

// WithStatefulConcurrency bounds concurrent evaluations of stateful functions
var WithStatefulConcurrency = func(n int) Option {
	return func(a *App) {
		a.statefulConcurrency = n
	}
}

// WithCommitInterval sets the commit interval
var WithCommitInterval = func(commitInterval time.Duration) Option {
	return func(a *App) {
		a.commitInterval = commitInterval
	}
}

// WithPollTimeout sets the timeout for polling records from Kafka
var WithPollTimeout = func(timeout time.Duration) Option {
	return func(a *App) {
		a.pollTimeout = timeout
	}
}

// WithRecordProcessTimeout sets the timeout for processing a single record
var WithRecordProcessTimeout = func(timeout time.Duration) Option {
	return func(a *App) {
		a.recordProcessTimeout = timeout
	}
}

// WithMaxPollRecords sets the maximum number of records to poll at once
var WithMaxPollRecords = func(n int) Option {
	return func(a *App) {
		a.maxPollRecords = n
	}
}

// ErrorRecovery determines how to handle a processing error
type ErrorRecovery = execution.ErrorRecovery

// Error recovery constants
const (
	RecoveryFail = execution.RecoveryFail
	RecoverySkip = execution.RecoverySkip
	RecoveryDLQ  = execution.RecoveryDLQ
)

// ErrorHandler is called when an event cannot be processed
type ErrorHandler = execution.ErrorHandler

// ProcessingError carries the stage and source record of a failed event
type ProcessingError = execution.ProcessingError

// WithErrorHandler sets a custom error handler for processing failures.
// The handler receives the error and the failed record, and returns the recovery action.
// Default behavior is fail-fast (RecoveryFail).
var WithErrorHandler = func(handler ErrorHandler) Option {
	return func(a *App) {
		a.errorHandler = handler
	}
}

// WithDLQTopic sets the dead letter queue topic for failed records.
// Required when using RecoveryDLQ in the error handler.
var WithDLQTopic = func(topic string) Option {
	return func(a *App) {
		a.dlqTopic = topic
	}
}

// NullLogger creates a logger that discards all output
func NullLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
