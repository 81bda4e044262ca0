//go:build gcp

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
)

// GCSStore archives bundles in a GCS bucket under their content
// address.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig configures a GCSStore.
type GCSConfig struct {
	Bucket string
	Prefix string // optional key prefix, e.g. "bundles/"
}

// NewGCSStore creates a GCS-backed bundle store using application
// default credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blob: gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob: create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(raw string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + raw + ".ext")
}

// Put uploads data unless an object already exists at its address.
func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	addr := Addr(data)
	raw := addr[len(addrPrefix):]

	obj := s.object(raw)
	_, err := obj.Attrs(ctx)
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, storage.ErrObjectNotExist) {
		return "", fmt.Errorf("blob: gcs attrs %s: %w", addr, err)
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/zip"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("blob: gcs write %s: %w", addr, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("blob: gcs commit %s: %w", addr, err)
	}
	return addr, nil
}

// Get downloads the bundle at addr and verifies it still hashes to
// addr.
func (s *GCSStore) Get(ctx context.Context, addr string) ([]byte, error) {
	raw, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}

	r, err := s.object(raw).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("blob: gcs get %s: %w", addr, ErrNotFound)
		}
		return nil, fmt.Errorf("blob: gcs get %s: %w", addr, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("blob: gcs read %s: %w", addr, err)
	}
	if canonical.HashBytes(data) != raw {
		return nil, fmt.Errorf("blob: gcs get %s: %w", addr, ErrCorrupted)
	}
	return data, nil
}

// Exists reports whether an object is stored at addr.
func (s *GCSStore) Exists(ctx context.Context, addr string) (bool, error) {
	raw, err := ParseAddr(addr)
	if err != nil {
		return false, err
	}

	if _, err := s.object(raw).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("blob: gcs attrs %s: %w", addr, err)
	}
	return true, nil
}

// Delete removes the object at addr. Deleting a missing object is not
// an error.
func (s *GCSStore) Delete(ctx context.Context, addr string) error {
	raw, err := ParseAddr(addr)
	if err != nil {
		return err
	}

	if err := s.object(raw).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("blob: gcs delete %s: %w", addr, err)
	}
	return nil
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
