package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects the archive storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv creates a bundle store based on environment variables.
//
// Environment variables:
//   - LOOM_ARCHIVE_BACKEND: "fs" (default), "s3", or "gcs"
//   - LOOM_DATA_DIR: Base directory for the filesystem store (default: "data")
//
// For S3:
//   - LOOM_ARCHIVE_S3_BUCKET (required)
//   - LOOM_ARCHIVE_S3_REGION or AWS_REGION
//   - LOOM_ARCHIVE_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - LOOM_ARCHIVE_S3_PREFIX (optional)
//
// For GCS:
//   - LOOM_ARCHIVE_GCS_BUCKET (required)
//   - LOOM_ARCHIVE_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("LOOM_ARCHIVE_BACKEND"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return newFileStoreFromEnv()
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", storeType)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dataDir := os.Getenv("LOOM_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "bundles"))
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("LOOM_ARCHIVE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("LOOM_ARCHIVE_S3_BUCKET is required for S3 archive")
	}

	region := os.Getenv("LOOM_ARCHIVE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("LOOM_ARCHIVE_S3_ENDPOINT"),
		Prefix:   os.Getenv("LOOM_ARCHIVE_S3_PREFIX"),
	})
}
