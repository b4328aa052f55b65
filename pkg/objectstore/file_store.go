package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileStore is a filesystem-backed Store. The bucket is a directory under
// root and object keys are slash-separated paths relative to it. It serves
// local development and lite mode.
type FileStore struct {
	root   string
	bucket string
	prefix string
}

// NewFileStore creates a FileStore for bucket under root.
func NewFileStore(root, bucket, prefix string) (*FileStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required for fs storage")
	}
	if root == "" {
		root = "data"
	}
	if !filepath.IsLocal(bucket) {
		return nil, fmt.Errorf("invalid bucket name for fs storage: %q", bucket)
	}
	return &FileStore{root: root, bucket: bucket, prefix: prefix}, nil
}

func (s *FileStore) Bucket() string { return s.bucket }

func (s *FileStore) dir() string {
	return filepath.Join(s.root, s.bucket)
}

func (s *FileStore) List(ctx context.Context) ([]ObjectInfo, error) {
	base := s.dir()
	var out []ObjectInfo
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, s.prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime().UTC()})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("fs list %s failed: %w: %w", s.bucket, ErrBucketNotFound, err)
		}
		return nil, fmt.Errorf("fs list %s failed: %w", s.bucket, err)
	}
	return out, nil
}

func (s *FileStore) Get(_ context.Context, key string) (*Object, error) {
	local := filepath.FromSlash(key)
	if !filepath.IsLocal(local) {
		return nil, fmt.Errorf("invalid object key: %q", key)
	}

	p := filepath.Join(s.dir(), local)
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("fs get failed for %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("fs get failed for %s: %w", key, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("fs get failed for %s: %w", key, ErrNotFound)
	}

	body, err := os.ReadFile(p) //nolint:gosec // key validated as local
	if err != nil {
		return nil, fmt.Errorf("fs read failed for %s: %w", key, err)
	}

	return &Object{
		Key:          key,
		Body:         body,
		ContentType:  mime.TypeByExtension(path.Ext(key)),
		LastModified: info.ModTime().UTC(),
		ETag:         fmt.Sprintf("%x-%x", info.ModTime().UnixNano(), info.Size()),
	}, nil
}

func (s *FileStore) HeadBucket(_ context.Context) error {
	info, err := os.Stat(s.dir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("fs head bucket %s failed: %w", s.bucket, ErrBucketNotFound)
		}
		return fmt.Errorf("fs head bucket %s failed: %w", s.bucket, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("fs head bucket %s failed: not a directory", s.bucket)
	}
	return nil
}
