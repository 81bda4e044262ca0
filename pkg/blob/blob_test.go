package blob

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestAddr(t *testing.T) {
	data := []byte("packed bundle bytes")
	addr := Addr(data)

	if want := addrPrefix + canonical.HashBytes(data); addr != want {
		t.Fatalf("Addr = %s, want %s", addr, want)
	}
	if _, err := ParseAddr(addr); err != nil {
		t.Fatalf("ParseAddr rejected Addr output: %v", err)
	}
}

func TestParseAddrRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"sha256:",
		"md5:d41d8cd98f00b204e9800998ecf8427e",
		"sha256:abc123",
		"sha256:" + strings.Repeat("z", 64),
	}
	for _, addr := range bad {
		if _, err := ParseAddr(addr); err == nil {
			t.Errorf("ParseAddr(%q) accepted a malformed address", addr)
		}
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()
	data := []byte("packed bundle bytes")

	addr, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if addr != Addr(data) {
		t.Fatalf("Put returned %s, want %s", addr, Addr(data))
	}

	got, err := store.Get(ctx, addr)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Get returned %q, want %q", got, data)
	}

	ok, err := store.Exists(ctx, addr)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatal("Exists = false after Put")
	}
}

func TestFileStorePutIsIdempotent(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()
	data := []byte("same bytes twice")

	first, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	second, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if first != second {
		t.Fatalf("Put addresses differ: %s vs %s", first, second)
	}

	files, err := filepath.Glob(filepath.Join(store.baseDir, "*.ext"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one stored object, found %d", len(files))
	}
}

func TestFileStoreGetMissing(t *testing.T) {
	store := newFileStore(t)

	_, err := store.Get(context.Background(), Addr([]byte("never stored")))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestFileStoreGetDetectsCorruption(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	addr, err := store.Put(ctx, []byte("original bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	raw, err := ParseAddr(addr)
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}
	if err := os.WriteFile(store.path(raw), []byte("tampered bytes"), 0o644); err != nil {
		t.Fatalf("overwrite object: %v", err)
	}

	_, err = store.Get(ctx, addr)
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("Get tampered = %v, want ErrCorrupted", err)
	}
}

func TestFileStoreDelete(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	addr, err := store.Put(ctx, []byte("to be removed"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, addr); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ok, err := store.Exists(ctx, addr)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatal("Exists = true after Delete")
	}

	// Deleting a missing object succeeds.
	if err := store.Delete(ctx, addr); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestNewStoreFromEnvDefaultsToFS(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WARDEN_BLOB_BACKEND", "")
	t.Setenv("WARDEN_BLOB_DIR", dir)

	store, err := NewStoreFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewStoreFromEnv: %v", err)
	}

	fs, ok := store.(*FileStore)
	if !ok {
		t.Fatalf("expected *FileStore, got %T", store)
	}
	if want := filepath.Join(dir, "bundles"); fs.baseDir != want {
		t.Fatalf("baseDir = %s, want %s", fs.baseDir, want)
	}
}

func TestNewStoreFromEnvS3RequiresBucket(t *testing.T) {
	t.Setenv("WARDEN_BLOB_BACKEND", "s3")
	t.Setenv("WARDEN_BLOB_S3_BUCKET", "")

	_, err := NewStoreFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "WARDEN_BLOB_S3_BUCKET") {
		t.Fatalf("expected missing bucket error, got %v", err)
	}
}

func TestNewStoreFromEnvRejectsUnknownBackend(t *testing.T) {
	t.Setenv("WARDEN_BLOB_BACKEND", "tape")

	_, err := NewStoreFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unsupported backend") {
		t.Fatalf("expected unsupported backend error, got %v", err)
	}
}
