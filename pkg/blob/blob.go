// Package blob stores packed bundles under their content address. An
// address is "sha256:" plus the lowercase hex digest of the packed
// bytes, so an archived bundle can always be re-verified against the
// hash the registry recorded at install time.
package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
)

const addrPrefix = "sha256:"

var (
	// ErrNotFound reports that no object exists at the given address.
	ErrNotFound = errors.New("blob: not found")
	// ErrCorrupted reports stored bytes that no longer hash to their
	// address.
	ErrCorrupted = errors.New("blob: content does not match address")
)

// Store is content-addressed storage for packed bundles. Put is
// idempotent: storing bytes that already exist returns the existing
// address without rewriting the object. Get re-hashes what it fetched
// and fails with ErrCorrupted on a mismatch.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, addr string) ([]byte, error)
	Exists(ctx context.Context, addr string) (bool, error)
	Delete(ctx context.Context, addr string) error
}

// Addr returns the content address of data.
func Addr(data []byte) string {
	return addrPrefix + canonical.HashBytes(data)
}

// ParseAddr extracts the raw hex digest from an address, rejecting
// anything that is not "sha256:" followed by 64 hex characters.
func ParseAddr(addr string) (string, error) {
	if !strings.HasPrefix(addr, addrPrefix) {
		return "", fmt.Errorf("blob: invalid address %q", addr)
	}
	raw := addr[len(addrPrefix):]
	if len(raw) != 64 {
		return "", fmt.Errorf("blob: invalid address %q", addr)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("blob: invalid address %q: %w", addr, err)
	}
	return raw, nil
}

// FileStore keeps bundles on the local filesystem, one file per
// address. Suitable for development hosts and tests.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a filesystem-backed bundle store at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: ensure dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(raw string) string {
	return filepath.Join(s.baseDir, raw+".ext")
}

// Put writes data under its content address unless it is already
// stored.
func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := Addr(data)
	path := s.path(addr[len(addrPrefix):])

	if _, err := os.Stat(path); err == nil {
		return addr, nil
	}

	// Write to a temp file, then rename, so a reader never observes a
	// partial bundle.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("blob: write %s: %w", addr, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("blob: commit %s: %w", addr, err)
	}
	return addr, nil
}

// Get reads the bundle at addr and verifies it still hashes to addr.
func (s *FileStore) Get(_ context.Context, addr string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(raw))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob: get %s: %w", addr, ErrNotFound)
		}
		return nil, fmt.Errorf("blob: get %s: %w", addr, err)
	}
	if canonical.HashBytes(data) != raw {
		return nil, fmt.Errorf("blob: get %s: %w", addr, ErrCorrupted)
	}
	return data, nil
}

// Exists reports whether an object is stored at addr.
func (s *FileStore) Exists(_ context.Context, addr string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := ParseAddr(addr)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(s.path(raw)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("blob: stat %s: %w", addr, err)
	}
	return true, nil
}

// Delete removes the object at addr. Deleting a missing object is not
// an error.
func (s *FileStore) Delete(_ context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := ParseAddr(addr)
	if err != nil {
		return err
	}
	if err := os.Remove(s.path(raw)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: delete %s: %w", addr, err)
	}
	return nil
}
