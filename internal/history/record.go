// Package history persists the records of submitted merge operations.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record cannot be found by ID.
var ErrNotFound = errors.New("merge record not found")

// Record is the persisted view of one merge operation.
type Record struct {
	ID        string
	ActionKey string
	Backend   string
	Inputs    []string
	// State mirrors merge.State.
	State    string
	Progress float64
	// Output is the output file URI once the merge completed.
	Output          string
	DurationSeconds float64
	PushToS3        bool
	S3URL           string
	// ErrorKind and Error describe the failure of a failed or cancelled merge.
	ErrorKind string
	Error     string
	// UploadError is set when the merge completed but the S3 push did not.
	UploadError string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Inputs = append([]string(nil), r.Inputs...)
	return &c
}

// Terminal reports whether the record is in a final state.
func (r *Record) Terminal() bool {
	switch r.State {
	case "COMPLETED", "FAILED", "CANCELLED":
		return true
	}
	return false
}

// Repository defines the interface for merge record persistence.
type Repository interface {
	// Save inserts or replaces a record.
	Save(ctx context.Context, r *Record) error

	// FindByID returns ErrNotFound if the record does not exist.
	FindByID(ctx context.Context, id string) (*Record, error)

	// List returns all records, newest first.
	List(ctx context.Context) ([]*Record, error)

	// Delete returns ErrNotFound if the record does not exist.
	Delete(ctx context.Context, id string) error
}
