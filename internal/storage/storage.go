// Package storage defines the Store interface and common types for the
// protected resource store: the blob backends holding the installers,
// documents, and license files that download tokens gate.
//
// New backends are added by implementing the Store interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Store, error) {
//	        return New(&cfg.Storage.MyBackend)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
// Adding a new backend requires no changes to the factory — only a blank
// import in cmd/server/main.go.
//
// There is deliberately no signed-URL operation: every retrieval streams
// through the token service so the download is counted against the token
// after the bytes were actually delivered. A presigned URL would let a client
// fetch the resource out of band, uncounted.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when no resource exists at the requested path
var ErrNotFound = errors.New("storage: resource not found")

// Store defines the interface for protected resource backends
type Store interface {
	// Put stores a resource and returns its path, size, and checksum
	Put(ctx context.Context, path string, reader io.Reader, size int64) (*PutResult, error)

	// Retrieve opens a resource for streaming. The caller must close the
	// returned reader. Missing resources return ErrNotFound.
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes a resource. Deleting a missing resource is a no-op.
	Delete(ctx context.Context, path string) error

	// Exists checks whether a resource exists at the given path
	Exists(ctx context.Context, path string) (bool, error)

	// Metadata retrieves resource metadata without downloading the content
	Metadata(ctx context.Context, path string) (*ResourceInfo, error)
}

// PutResult contains information about a stored resource
type PutResult struct {
	// Path is the storage path where the resource was stored
	Path string

	// Size is the resource size in bytes
	Size int64

	// Checksum is the SHA256 hash of the resource contents
	Checksum string
}

// ResourceInfo contains metadata about a stored resource
type ResourceInfo struct {
	// Path is the storage path of the resource
	Path string

	// Size is the resource size in bytes
	Size int64

	// Checksum is the SHA256 hash of the resource contents, when the backend
	// can supply it without a full read
	Checksum string

	// LastModified is when the resource was last written
	LastModified time.Time
}
