// Package blob defines the blob storage abstraction used for raw payload
// backups. It keeps the engine independent of a specific backend (Google
// Cloud Storage, the local filesystem, or in-memory for tests).
package blob

import (
	"context"
	"io"
)

// Store uploads an object and returns its URI.
type Store interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoOp discards every object. Useful for dry runs where payload backup is
// disabled.
type NoOp struct{}

// PutObject does nothing and reports an empty URI.
func (NoOp) PutObject(_ context.Context, _ string, _ string, _ io.Reader) (string, error) {
	return "", nil
}
