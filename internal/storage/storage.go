// Package storage holds the transient files of a merge (concat manifests)
// and pushes finished outputs to S3 when configured.
package storage

import (
	"context"
	"io"
)

// Storage is the file storage port used by the export backends and the
// merge service.
type Storage interface {
	// SaveTemp writes data to a new file in the temp directory and returns
	// its path. name is a hint; its extension is preserved.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp opens a temp file. The caller closes the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the given temp files, continuing past failures.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 stores data under key and returns its URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
