// Package storage is the blob store adapter: byte-addressable backends keyed
// by a backend id and a logical, slash-separated path.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound       = errors.New("blob not found")
	ErrUnsupported    = errors.New("operation not supported by backend")
	ErrUnknownBackend = errors.New("unknown storage backend")
	ErrInvalidPath    = errors.New("invalid blob path")
)

// Store is a single physical backend.
type Store interface {
	// Put writes the blob, replacing any previous content.
	Put(ctx context.Context, path string, r io.Reader) error
	// Get opens the blob for reading. Callers close the reader.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// Exists reports whether the blob exists.
	Exists(ctx context.Context, path string) (bool, error)
	// Delete removes the blob. A missing blob is not an error.
	Delete(ctx context.Context, path string) error
	Copy(ctx context.Context, srcPath, dstPath string) error
	// LocalPath returns a filesystem path for the blob, or ErrUnsupported.
	LocalPath(path string) (string, error)
}

// TransientError marks a backend failure that is worth retrying on reads.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return "transient storage error during " + e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable backend failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
