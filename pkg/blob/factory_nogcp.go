//go:build !gcp

package blob

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(_ context.Context) (Store, error) {
	return nil, fmt.Errorf("blob: gcs backend is not enabled in this build (use -tags gcp)")
}
