// Package mediaref turns caller-supplied strings into canonical media references.
//
// A raw string containing "://" is treated as a URI; anything else is a
// filesystem path. Paths and file:// URIs are canonicalised to the same
// absolute file:// form so that both spellings of an input compare equal.
// Sanitizing never touches the filesystem.
package mediaref

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/maauso/vidmerge/internal/mergeerr"
)

const fileScheme = "file"

var (
	// ErrEmptyReference is returned for empty or whitespace-only input.
	ErrEmptyReference = errors.New("reference is empty")
	// ErrMissingScheme is returned for a URI without a scheme, such as "://x".
	ErrMissingScheme = errors.New("uri has no scheme")
	// ErrRemoteFileHost is returned for file:// URIs that name a remote host.
	ErrRemoteFileHost = errors.New("file uri names a remote host")
	// ErrNotLocal is returned when opening a non-file reference without a host opener.
	ErrNotLocal = errors.New("reference is not a local file")
)

// Reference is an immutable, comparable handle to one media input.
// The zero value is not a valid reference.
type Reference struct {
	uri  string
	path string
}

// Sanitize converts raw into a Reference. Failures are *mergeerr.Error with
// KindInvalidInput.
func Sanitize(raw string) (Reference, error) {
	if strings.TrimSpace(raw) == "" {
		return Reference{}, mergeerr.InvalidInput(raw, ErrEmptyReference)
	}

	if !strings.Contains(raw, "://") {
		return fromPath(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, mergeerr.InvalidInput(raw, err)
	}
	if u.Scheme == "" {
		return Reference{}, mergeerr.InvalidInput(raw, ErrMissingScheme)
	}

	if strings.EqualFold(u.Scheme, fileScheme) {
		if u.Host != "" && u.Host != "localhost" {
			return Reference{}, mergeerr.InvalidInput(raw, ErrRemoteFileHost)
		}
		if u.Path == "" {
			return Reference{}, mergeerr.InvalidInput(raw, ErrEmptyReference)
		}
		return fromPath(u.Path)
	}

	return Reference{uri: u.String()}, nil
}

// SanitizeAll sanitizes each raw string in order and stops at the first failure.
func SanitizeAll(raws []string) ([]Reference, error) {
	refs := make([]Reference, 0, len(raws))
	for _, raw := range raws {
		ref, err := Sanitize(raw)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func fromPath(p string) (Reference, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return Reference{}, mergeerr.InvalidInput(p, fmt.Errorf("resolve absolute path: %w", err))
	}
	u := url.URL{Scheme: fileScheme, Path: filepath.ToSlash(abs)}
	return Reference{uri: u.String(), path: abs}, nil
}

// String returns the canonical URI.
func (r Reference) String() string {
	return r.uri
}

// IsZero reports whether r is the zero Reference.
func (r Reference) IsZero() bool {
	return r.uri == ""
}

// IsFile reports whether r points to the local filesystem.
func (r Reference) IsFile() bool {
	return r.path != ""
}

// Path returns the local absolute path, or "" for non-file references.
func (r Reference) Path() string {
	return r.path
}

// Open opens the referenced local file read-only.
func (r Reference) Open() (*os.File, error) {
	if !r.IsFile() {
		return nil, fmt.Errorf("%w: %s", ErrNotLocal, r.uri)
	}
	f, err := os.Open(r.path) // #nosec G304 - path comes from a sanitized reference
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", r.path, err)
	}
	return f, nil
}

// Opener resolves a Reference to a readable file descriptor. Hosts with
// sandboxed or provider-scoped inputs supply their own implementation.
type Opener interface {
	Open(ctx context.Context, ref Reference) (*os.File, error)
}

// FileOpener opens local file references directly.
type FileOpener struct{}

// Open implements Opener.
func (FileOpener) Open(ctx context.Context, ref Reference) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ref.Open()
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, ref Reference) (*os.File, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, ref Reference) (*os.File, error) {
	return f(ctx, ref)
}
