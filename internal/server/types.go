// Package server provides the HTTP surface for vidmerge.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/vidmerge/internal/metadata"
)

// CreateMergeRequest is the HTTP request body for submitting a merge.
type CreateMergeRequest struct {
	// Inputs are the ordered input references (paths or file:// URIs).
	Inputs []string `json:"inputs" validate:"required,max=256"`
	// Options is the loosely-typed options map: writeDirectory, fileName,
	// includeAudio, ignoreSound, actionKey.
	Options map[string]any `json:"options"`
	// PushToS3 indicates whether to upload the merged video to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateMergeResponse is the HTTP response after submitting a merge.
type CreateMergeResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// MergeResponse is the HTTP view of one merge record.
type MergeResponse struct {
	ID        string   `json:"id"`
	ActionKey string   `json:"action_key"`
	Backend   string   `json:"backend"`
	Inputs    []string `json:"inputs"`
	State     string   `json:"state"`
	// Progress is the percentage of completion (0-100).
	Progress        int     `json:"progress"`
	OutputReference string  `json:"output_reference,omitempty"`
	DurationSeconds float64 `json:"total_duration_seconds,omitempty"`
	S3URL           string  `json:"video_url,omitempty"`
	ErrorKind       string  `json:"error_kind,omitempty"`
	Error           string  `json:"error,omitempty"`
	UploadError     string  `json:"upload_error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListMergesResponse is the HTTP response for listing merges.
type ListMergesResponse struct {
	Merges []MergeResponse `json:"merges"`
}

// MetadataRequest asks for duration and playability of each input.
type MetadataRequest struct {
	Inputs []string `json:"inputs" validate:"required,min=1,max=256"`
}

// MetadataResponse maps each requested input to its metadata.
type MetadataResponse struct {
	Metadata map[string]metadata.Metadata `json:"metadata"`
}

// ThumbnailRequest selects a frame to write as a JPEG.
type ThumbnailRequest struct {
	Input            string  `json:"input" validate:"required"`
	WriteDirectory   string  `json:"writeDirectory"`
	FileName         string  `json:"fileName" validate:"omitempty,max=255,excludesall=/\\"`
	TimestampSeconds float64 `json:"timestampSeconds" validate:"min=0"`
}

// ThumbnailResponse describes a written thumbnail.
type ThumbnailResponse struct {
	OutputReference string `json:"output_reference"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Hash            string `json:"hash"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
}
