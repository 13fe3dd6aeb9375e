package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("concurrent modification")
	ErrQueueFull         = errors.New("correlation queue is full")
	ErrRunnerStopped     = errors.New("correlation runner is stopped")
)

// TransientStoreError is a retryable read or write failure against a store
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a TransientStoreError unless it is nil
func NewTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientStoreError{Op: op, Err: err}
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}

// InvalidRecordError marks a threat record that cannot be correlated
type InvalidRecordError struct {
	RecordID string
	Reason   string
}

func (e *InvalidRecordError) Error() string {
	if e.RecordID == "" {
		return "invalid record: " + e.Reason
	}
	return fmt.Sprintf("invalid record %s: %s", e.RecordID, e.Reason)
}

// ThresholdConfigError is a scoring misconfiguration detected at startup
type ThresholdConfigError struct {
	Field  string
	Reason string
}

func (e *ThresholdConfigError) Error() string {
	return fmt.Sprintf("invalid correlation config %s: %s", e.Field, e.Reason)
}

// JobTimeoutError is recorded on a job that ran past its wall-clock budget
type JobTimeoutError struct {
	JobID  uuid.UUID
	Budget time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job %s exceeded its %s budget", e.JobID, e.Budget)
}

// JobCancelledError is recorded on a job stopped before completion
type JobCancelledError struct {
	JobID  uuid.UUID
	Reason string
}

func (e *JobCancelledError) Error() string {
	return fmt.Sprintf("job %s cancelled: %s", e.JobID, e.Reason)
}
