package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backend selects a bundle storage implementation.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// NewStoreFromEnv builds a bundle store from environment variables.
//
//   - WARDEN_BLOB_BACKEND: "fs" (default), "s3", or "gcs"
//   - WARDEN_BLOB_DIR: base directory for the fs backend (default "data")
//
// For s3:
//   - WARDEN_BLOB_S3_BUCKET (required)
//   - WARDEN_BLOB_S3_REGION (falls back to AWS_REGION, then us-east-1)
//   - WARDEN_BLOB_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - WARDEN_BLOB_S3_PREFIX (optional)
//
// For gcs:
//   - WARDEN_BLOB_GCS_BUCKET (required)
//   - WARDEN_BLOB_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	backend := Backend(os.Getenv("WARDEN_BLOB_BACKEND"))
	if backend == "" {
		backend = BackendFS
	}

	switch backend {
	case BackendFS:
		return newFileStoreFromEnv()
	case BackendS3:
		return newS3StoreFromEnv(ctx)
	case BackendGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("blob: unsupported backend %q", backend)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dir := os.Getenv("WARDEN_BLOB_DIR")
	if dir == "" {
		dir = "data"
	}
	return NewFileStore(filepath.Join(dir, "bundles"))
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("WARDEN_BLOB_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("blob: WARDEN_BLOB_S3_BUCKET is required for the s3 backend")
	}

	region := os.Getenv("WARDEN_BLOB_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("WARDEN_BLOB_S3_ENDPOINT"),
		Prefix:   os.Getenv("WARDEN_BLOB_S3_PREFIX"),
	})
}
