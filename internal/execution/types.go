package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

var (
	ErrNodeNotFound       = errors.New("node not found")
	ErrDependencyFailed   = errors.New("dependency failed")
	ErrUndeclaredDep      = errors.New("dependency not declared by node inputs")
	ErrWrongEventType     = errors.New("node does not belong to the event type")
	ErrPassNotEvaluated   = errors.New("pass has not been evaluated")
	ErrPassAlreadyDone    = errors.New("pass already committed or failed")
	ErrInvalidEngineInput = errors.New("invalid engine input")
)

// DependencyError is the failure of a node caused by the failure of one of
// its dependencies.
type DependencyError struct {
	NodeID     string
	Dependency string
	Cause      error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %q of node %q failed: %v", e.Dependency, e.NodeID, e.Cause)
}

func (e *DependencyError) Unwrap() []error {
	return []error{ErrDependencyFailed, e.Cause}
}

// ErrorRecovery determines how to handle a processing error
type ErrorRecovery int

const (
	// RecoveryFail closes the worker (default behavior)
	RecoveryFail ErrorRecovery = iota
	// RecoverySkip skips the record and continues processing
	RecoverySkip
	// RecoveryDLQ sends the record to a dead letter queue and continues
	RecoveryDLQ
)

// ErrorHandler is called when an event cannot be processed.
// Returns the desired recovery action.
type ErrorHandler func(ctx context.Context, err error, record *kgo.Record) ErrorRecovery

// DefaultErrorHandler returns RecoveryFail for all errors (fail-fast behavior)
func DefaultErrorHandler() ErrorHandler {
	return func(ctx context.Context, err error, record *kgo.Record) ErrorRecovery {
		return RecoveryFail
	}
}

// ProcessingStage indicates where in the pipeline an error occurred
type ProcessingStage string

const (
	StageDecode   ProcessingStage = "decode"
	StageEvaluate ProcessingStage = "evaluate"
	StageCommit   ProcessingStage = "commit"
	StageSink     ProcessingStage = "sink"
)

// ProcessingError wraps an error with the event it happened for.
type ProcessingError struct {
	Cause error
	Stage ProcessingStage

	EventID   string
	EventType string

	// Source record, if the event came from Kafka.
	Topic     string
	Partition int32
	Offset    int64
}

func (e *ProcessingError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("%s error for event %q (type=%s): %v", e.Stage, e.EventID, e.EventType, e.Cause)
	}
	return fmt.Sprintf("%s error for event %q (type=%s topic=%s partition=%d offset=%d): %v",
		e.Stage, e.EventID, e.EventType, e.Topic, e.Partition, e.Offset, e.Cause)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// withRecord attributes the error to a source record.
func (e *ProcessingError) withRecord(record *kgo.Record) *ProcessingError {
	e.Topic = record.Topic
	e.Partition = record.Partition
	e.Offset = record.Offset
	return e
}
