package job

import (
	"context"
	"time"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusNew       Status = "new"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// Job is a tracked unit of work. A root job (RootJobID == 0 and Unique set)
// aggregates the delayed jobs created under it.
type Job struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	OwnerID     string     `json:"owner_id,omitempty"`
	Status      Status     `json:"status"`
	RootJobID   int64      `json:"root_job_id,omitempty"`
	Unique      bool       `json:"unique"`
	Interrupted bool       `json:"interrupted"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
}

// IsRoot reports whether the job aggregates children
func (j *Job) IsRoot() bool {
	return j.RootJobID == 0 && j.Unique
}

// Result is the outcome a delayed job reports
type Result struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Succeeded builds a successful Result
func Succeeded() Result {
	return Result{Success: true}
}

// Failed builds a failed Result carrying reason
func Failed(reason string) Result {
	return Result{Reason: reason}
}

func resultOf(j *Job) Result {
	if j.Status == StatusSuccess {
		return Result{Success: true, Reason: j.Reason}
	}
	return Result{Reason: j.Reason}
}

// DelayedFunc performs the work of a delayed job
type DelayedFunc func(ctx context.Context, j *Job) Result

// RootFunc runs inside a unique root job, typically creating delayed children
type RootFunc func(ctx context.Context, root *Job) error

// JobStatus is a job together with its children, as shown to operators
type JobStatus struct {
	Job      *Job           `json:"job"`
	Children []*Job         `json:"children,omitempty"`
	Counts   map[Status]int `json:"counts,omitempty"`
}

// rootStatus derives a root job status from its children. New children of
// an interrupted root will never run and count as cancelled.
func rootStatus(root *Job, children []*Job) Status {
	failed := false
	for _, child := range children {
		switch child.Status {
		case StatusNew:
			if !root.Interrupted {
				return StatusRunning
			}
		case StatusRunning:
			return StatusRunning
		case StatusFailed:
			failed = true
		}
	}
	switch {
	case failed:
		return StatusFailed
	case root.Interrupted:
		return StatusCancelled
	default:
		return StatusSuccess
	}
}
