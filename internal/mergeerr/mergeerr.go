// Package mergeerr defines the failure taxonomy shared by every merge component.
// Each failure is an *Error carrying a Kind, optional track/reference context,
// and the underlying cause.
package mergeerr

import (
	"errors"
	"fmt"
)

// Kind classifies a merge failure.
type Kind string

const (
	// KindInvalidInput indicates a malformed reference string.
	KindInvalidInput Kind = "INVALID_INPUT"
	// KindInvalidOptions indicates an options payload with the wrong shape or types.
	KindInvalidOptions Kind = "INVALID_OPTIONS"
	// KindUnreadableSource indicates an input that cannot be opened or parsed.
	KindUnreadableSource Kind = "UNREADABLE_SOURCE"
	// KindMissingTrack indicates a required video/audio track is absent on an input.
	KindMissingTrack Kind = "MISSING_TRACK"
	// KindExportFailed indicates a backend-reported failure during export.
	KindExportFailed Kind = "EXPORT_FAILED"
	// KindExportCancelled indicates a backend-reported cancellation.
	KindExportCancelled Kind = "EXPORT_CANCELLED"
	// KindContainerBuildFailed indicates a box-level re-mux read or write failure.
	KindContainerBuildFailed Kind = "CONTAINER_BUILD_FAILED"
	// KindUnknown is any uncategorized failure.
	KindUnknown Kind = "UNKNOWN"
)

// Sentinels usable with errors.Is to match an *Error by kind.
var (
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrInvalidOptions       = &Error{Kind: KindInvalidOptions}
	ErrUnreadableSource     = &Error{Kind: KindUnreadableSource}
	ErrMissingTrack         = &Error{Kind: KindMissingTrack}
	ErrExportFailed         = &Error{Kind: KindExportFailed}
	ErrExportCancelled      = &Error{Kind: KindExportCancelled}
	ErrContainerBuildFailed = &Error{Kind: KindContainerBuildFailed}
	ErrUnknown              = &Error{Kind: KindUnknown}
)

// Error is a classified merge failure.
type Error struct {
	Kind Kind
	// Track is the missing track kind ("video" or "audio") for KindMissingTrack.
	Track string
	// Reference is the input the failure relates to, when there is one.
	Reference string
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidInput:
		return withCause(fmt.Sprintf("invalid input reference %q", e.Reference), e.Err)
	case KindInvalidOptions:
		return withCause("merge options did not match expected types or values", e.Err)
	case KindUnreadableSource:
		return withCause(fmt.Sprintf("input %s could not be opened", e.Reference), e.Err)
	case KindMissingTrack:
		return fmt.Sprintf("input %s is missing a %s track", e.Reference, e.Track)
	case KindExportFailed:
		return withCause("export failed", e.Err)
	case KindExportCancelled:
		return "export was cancelled"
	case KindContainerBuildFailed:
		return withCause("container could not be built", e.Err)
	default:
		return withCause("an unexpected error has occurred", e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with a
// Reference or Track set must match those as well.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Reference != "" && t.Reference != e.Reference {
		return false
	}
	if t.Track != "" && t.Track != e.Track {
		return false
	}
	return true
}

func withCause(msg string, cause error) string {
	if cause == nil {
		return msg
	}
	return msg + ": " + cause.Error()
}

// InvalidInput builds a KindInvalidInput error for the raw reference.
func InvalidInput(raw string, cause error) *Error {
	return &Error{Kind: KindInvalidInput, Reference: raw, Err: cause}
}

// InvalidOptions builds a KindInvalidOptions error.
func InvalidOptions(cause error) *Error {
	return &Error{Kind: KindInvalidOptions, Err: cause}
}

// UnreadableSource builds a KindUnreadableSource error for ref.
func UnreadableSource(ref string, cause error) *Error {
	return &Error{Kind: KindUnreadableSource, Reference: ref, Err: cause}
}

// MissingTrack builds a KindMissingTrack error for the given track kind and ref.
func MissingTrack(track, ref string) *Error {
	return &Error{Kind: KindMissingTrack, Track: track, Reference: ref}
}

// ExportFailed builds a KindExportFailed error.
func ExportFailed(cause error) *Error {
	return &Error{Kind: KindExportFailed, Err: cause}
}

// ExportCancelled builds a KindExportCancelled error.
func ExportCancelled(cause error) *Error {
	return &Error{Kind: KindExportCancelled, Err: cause}
}

// ContainerBuildFailed builds a KindContainerBuildFailed error.
func ContainerBuildFailed(cause error) *Error {
	return &Error{Kind: KindContainerBuildFailed, Err: cause}
}

// Wrap returns err as an *Error. Errors that are already classified pass
// through unchanged; anything else becomes KindUnknown. Wrap(nil) returns nil.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnknown, Err: err}
}

// KindOf returns the kind of err, or KindUnknown for unclassified errors.
// KindOf(nil) returns the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Wrap(err).Kind
}
