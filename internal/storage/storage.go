// Package storage contains the blob store abstraction used for shared files (S3-compatible).
// Implementations must avoid using local disk and rely on streaming I/O only.
package storage

import (
	"context"
	"io"
	"time"
)

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known; if unknown, set to -1 and the implementation
// will buffer/chunk as supported by the backend.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is the blob store adapter: upload, resolve to a URL, delete by key.
type Storage interface {
	// Put uploads an object under the given key using the provided reader and options.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// URL returns a URL a browser can fetch the object from without credentials.
	URL(ctx context.Context, key string) (string, error)
	// Delete removes an object by key.
	Delete(ctx context.Context, key string) error
}
