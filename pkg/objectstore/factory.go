package objectstore

import (
	"context"
	"fmt"
)

// StoreType represents the type of object storage backend.
type StoreType string

const (
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
	StoreTypeFS  StoreType = "fs"
)

// Config selects and configures a Store.
type Config struct {
	Type     StoreType
	Bucket   string
	Region   string
	Endpoint string // S3 only
	Prefix   string
	FSRoot   string // fs only; the bucket is a directory below it
}

// NewFromConfig creates the Store described by cfg. An empty Type means S3.
func NewFromConfig(ctx context.Context, cfg Config) (Store, error) {
	storeType := cfg.Type
	if storeType == "" {
		storeType = StoreTypeS3
	}

	switch storeType {
	case StoreTypeS3:
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case StoreTypeGCS:
		return newGCSStore(ctx, cfg)
	case StoreTypeFS:
		return NewFileStore(cfg.FSRoot, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storeType)
	}
}
