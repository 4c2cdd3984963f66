package blobstore

import (
	"context"
	"io"
	"time"
)

// PutOptions carries metadata for an object write.
type PutOptions struct {
	ContentType   string
	ContentLength int64
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// BlobStore is the storage collaborator: it holds media objects and issues
// the signed URLs that upload grants are built from. Signed URLs are enforced
// by the storage surface itself, never by the grant issuer.
type BlobStore interface {
	PutObject(ctx context.Context, key string, body io.Reader, opts PutOptions) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	StatObject(ctx context.Context, key string) (ObjectInfo, error)
	SignedUploadURL(ctx context.Context, key string, contentType string, expiry time.Duration) (string, error)
	SignedReadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
}
