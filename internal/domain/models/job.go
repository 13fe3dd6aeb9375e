package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the state of a correlation sweep job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job can no longer change state
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobTrigger records what enqueued a sweep
type JobTrigger string

const (
	TriggerRecordChanged JobTrigger = "record_changed"
	TriggerManual        JobTrigger = "manual"
	TriggerRescore       JobTrigger = "rescore"
)

// SweepStats counts what a sweep did
type SweepStats struct {
	Candidates int `json:"candidates"`
	Compared   int `json:"compared"`
	Persisted  int `json:"persisted"`
	Discarded  int `json:"discarded"`
	Removed    int `json:"removed"`
	Skipped    int `json:"skipped"`
	Merged     int `json:"merged"`
}

// Job is one correlation sweep of a source record against its candidates
type Job struct {
	ID         uuid.UUID  `json:"id"`
	RecordID   string     `json:"record_id"`
	Trigger    JobTrigger `json:"trigger"`
	Status     JobStatus  `json:"status"`
	Candidates []string   `json:"candidates,omitempty"`
	Attempts   int        `json:"attempts"`
	Reason     string     `json:"reason,omitempty"`
	Stats      SweepStats `json:"stats"`

	AlgorithmVersion int        `json:"algorithm_version"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to callers
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Candidates = append([]string(nil), j.Candidates...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
