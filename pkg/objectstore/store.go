// Package objectstore is the object-store collaborator of the ingestion
// pipeline: listing a bucket, fetching an object with its metadata and
// probing bucket reachability. Implementations are bound to one bucket.
package objectstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Get when the object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned by HeadBucket when the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")
)

// ObjectInfo is one listing entry.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Object is a downloaded object. Metadata fields are best effort and may be zero.
type Object struct {
	Key          string
	Body         []byte
	ContentType  string
	LastModified time.Time
	ETag         string
}

// Store is a bucket-bound object store.
type Store interface {
	// Bucket returns the bucket this store is bound to.
	Bucket() string
	// List returns every object in the bucket (under the configured prefix).
	List(ctx context.Context) ([]ObjectInfo, error)
	// Get downloads the full content and metadata of key.
	Get(ctx context.Context, key string) (*Object, error)
	// HeadBucket checks that the bucket exists and is reachable.
	HeadBucket(ctx context.Context) error
}

// TrimETag strips the surrounding quotes S3 and HTTP put around entity tags.
func TrimETag(etag string) string {
	return strings.Trim(etag, `"`)
}
