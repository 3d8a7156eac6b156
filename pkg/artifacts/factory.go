package artifacts

import (
	"context"
	"fmt"
)

// StoreType is the kind of artifact storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// GCSStoreConfig holds configuration for the GCS backend, which is only
// compiled in with the gcp build tag.
type GCSStoreConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// Config selects and configures a backend.
type Config struct {
	Type StoreType      `yaml:"type"`
	Dir  string         `yaml:"dir"`
	S3   S3StoreConfig  `yaml:"s3"`
	GCS  GCSStoreConfig `yaml:"gcs"`
}

// NewStore creates the store cfg selects. An empty type means "fs".
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", StoreTypeFS:
		dir := cfg.Dir
		if dir == "" {
			dir = "data/artifacts"
		}
		return NewFileStore(dir)
	case StoreTypeS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("artifacts: s3 bucket is required for S3 storage")
		}
		s3cfg := cfg.S3
		if s3cfg.Region == "" {
			s3cfg.Region = "us-east-1"
		}
		return NewS3Store(ctx, s3cfg)
	case StoreTypeGCS:
		if cfg.GCS.Bucket == "" {
			return nil, fmt.Errorf("artifacts: gcs bucket is required for GCS storage")
		}
		return newGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", cfg.Type)
	}
}
