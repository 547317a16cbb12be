// Package export runs a merge timeline through one of three backends:
// timeline composition (re-encode), box-level re-mux, or an external
// concat process. Long-running exports are tracked by a Job and observed by
// a Poller.
package export

import (
	"errors"
	"math"
	"sync"
	"time"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the export has not started.
	StatusPending Status = "PENDING"
	// StatusRunning indicates the export is in progress.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the output was written successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusCancelled indicates the export was cancelled.
	StatusCancelled Status = "CANCELLED"
	// StatusFailed indicates the export failed.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is the mutable state of one running export. It is safe for concurrent
// use: the session writes it and the poller reads it.
type Job struct {
	mu sync.RWMutex

	status   Status
	progress float64
	err      error

	startedAt   time.Time
	completedAt time.Time

	done chan struct{}
}

// NewJob creates a Job in PENDING state.
func NewJob() *Job {
	return &Job{status: StatusPending, done: make(chan struct{})}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.status, status) {
		return ErrInvalidTransition
	}

	j.status = status
	now := time.Now()
	switch status {
	case StatusRunning:
		j.startedAt = now
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.completedAt = now
		close(j.done)
	}
	return nil
}

// Start transitions the job from PENDING to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED and sets progress to 1.
func (j *Job) Complete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.progress = 1
	return nil
}

// Fail transitions the job to FAILED with cause.
func (j *Job) Fail(cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.err = cause
	return nil
}

// Cancel transitions the job to CANCELLED with an optional cause.
func (j *Job) Cancel(cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCancelled); err != nil {
		return err
	}
	j.err = cause
	return nil
}

// UpdateProgress sets the completed fraction, clamped to [0, 1]. Updates
// after the job is terminal are ignored.
func (j *Job) UpdateProgress(fraction float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.isTerminalLocked() {
		return
	}
	if fraction < 0 || math.IsNaN(fraction) {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	j.progress = fraction
}

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Progress returns the completed fraction in [0, 1].
func (j *Job) Progress() float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// Err returns the failure or cancellation cause, if any.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.isTerminalLocked()
}

func (j *Job) isTerminalLocked() bool {
	return j.status == StatusCompleted || j.status == StatusFailed || j.status == StatusCancelled
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Elapsed returns how long the job ran, or has been running.
func (j *Job) Elapsed() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()
	switch {
	case j.startedAt.IsZero():
		return 0
	case j.completedAt.IsZero():
		return time.Since(j.startedAt)
	default:
		return j.completedAt.Sub(j.startedAt)
	}
}
