//go:build gcp

package blob

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("WARDEN_BLOB_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("blob: WARDEN_BLOB_GCS_BUCKET is required for the gcs backend")
	}

	return NewGCSStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("WARDEN_BLOB_GCS_PREFIX"),
	})
}
