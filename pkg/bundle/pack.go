package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
)

const (
	manifestEntryName  = "manifest.json"
	signatureEntryName = "signature.json"
	filesPrefix        = "files/"
)

var (
	// ErrMalformed marks a container that cannot be parsed: missing
	// entries, corrupt structure, unknown fields, schema violations.
	ErrMalformed = errors.New("bundle: malformed container")
	// ErrTooLarge marks a container exceeding the configured bounds.
	// Bounds are enforced before any content hashing.
	ErrTooLarge = errors.New("bundle: container exceeds limits")
)

// Zip entry timestamps are pinned so packing is byte-reproducible.
var packTimestamp = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Limits bound hostile input before it reaches the hash and signature
// stages.
type Limits struct {
	MaxFiles      int
	MaxFileBytes  int64
	MaxTotalBytes int64
}

// DefaultLimits returns the platform defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxFiles:      256,
		MaxFileBytes:  8 * 1024 * 1024,
		MaxTotalBytes: 32 * 1024 * 1024,
	}
}

// Pack serializes a signed bundle into the on-wire container. Entries
// are written in sorted order with a fixed timestamp, so equal bundles
// produce identical bytes.
func Pack(b *Bundle) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("bundle: nil bundle")
	}
	if err := b.Manifest.Validate(); err != nil {
		return nil, err
	}
	if len(b.Files) == 0 {
		return nil, fmt.Errorf("bundle: no files to pack")
	}

	manifestBytes, err := canonical.SignableBytes(b.Manifest)
	if err != nil {
		return nil, err
	}
	sigBytes, err := canonical.SignableBytes(b.Signature)
	if err != nil {
		return nil, err
	}

	type entry struct {
		name string
		data []byte
	}
	entries := []entry{
		{manifestEntryName, manifestBytes},
		{signatureEntryName, sigBytes},
	}
	for name, content := range b.Files {
		if err := validateFileName(name); err != nil {
			return nil, err
		}
		entries = append(entries, entry{filesPrefix + name, content})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		header := &zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: packTimestamp,
		}
		header.SetMode(0o644)
		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("bundle: write entry %q: %w", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, fmt.Errorf("bundle: write entry %q: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("bundle: finalize container: %w", err)
	}
	return buf.Bytes(), nil
}

// Unpack parses the on-wire container into a RawBundle, rejecting
// malformed or oversized input with a structured error. No parser
// failure may escape as a panic, and nothing returned is trusted until
// the verifier has run.
func Unpack(data []byte, limits Limits) (*RawBundle, error) {
	if int64(len(data)) > limits.MaxTotalBytes {
		return nil, fmt.Errorf("%w: container is %d bytes, max %d", ErrTooLarge, len(data), limits.MaxTotalBytes)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(zr.File) > limits.MaxFiles+2 {
		return nil, fmt.Errorf("%w: %d entries, max %d files", ErrTooLarge, len(zr.File), limits.MaxFiles)
	}

	var (
		manifestRaw  []byte
		signatureRaw []byte
		files        = make(map[string][]byte)
		total        int64
	)
	for _, f := range zr.File {
		payload, err := readEntry(f, limits.MaxFileBytes)
		if err != nil {
			return nil, err
		}
		total += int64(len(payload))
		if total > limits.MaxTotalBytes {
			return nil, fmt.Errorf("%w: uncompressed content exceeds %d bytes", ErrTooLarge, limits.MaxTotalBytes)
		}

		switch {
		case f.Name == manifestEntryName:
			if manifestRaw != nil {
				return nil, fmt.Errorf("%w: duplicate %s", ErrMalformed, manifestEntryName)
			}
			manifestRaw = payload
		case f.Name == signatureEntryName:
			if signatureRaw != nil {
				return nil, fmt.Errorf("%w: duplicate %s", ErrMalformed, signatureEntryName)
			}
			signatureRaw = payload
		case strings.HasPrefix(f.Name, filesPrefix):
			name := strings.TrimPrefix(f.Name, filesPrefix)
			if err := validateFileName(name); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			if _, dup := files[name]; dup {
				return nil, fmt.Errorf("%w: duplicate file %q", ErrMalformed, name)
			}
			files[name] = payload
		default:
			return nil, fmt.Errorf("%w: unexpected entry %q", ErrMalformed, f.Name)
		}
	}

	if manifestRaw == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, manifestEntryName)
	}
	if signatureRaw == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, signatureEntryName)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no extension files", ErrMalformed)
	}
	if len(files) > limits.MaxFiles {
		return nil, fmt.Errorf("%w: %d files, max %d", ErrTooLarge, len(files), limits.MaxFiles)
	}

	if err := validateManifestSchema(manifestRaw); err != nil {
		return nil, fmt.Errorf("%w: manifest schema: %v", ErrMalformed, err)
	}

	raw := &RawBundle{Files: files}
	if err := decodeStrictJSON(manifestRaw, &raw.Manifest); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrMalformed, err)
	}
	if err := decodeStrictJSON(signatureRaw, &raw.Signature); err != nil {
		return nil, fmt.Errorf("%w: signature record: %v", ErrMalformed, err)
	}
	return raw, nil
}

func readEntry(f *zip.File, maxBytes int64) ([]byte, error) {
	if f.UncompressedSize64 > uint64(maxBytes) {
		return nil, fmt.Errorf("%w: entry %q declares %d bytes, max %d", ErrTooLarge, f.Name, f.UncompressedSize64, maxBytes)
	}
	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open entry %q: %v", ErrMalformed, f.Name, err)
	}
	defer func() {
		_ = r.Close()
	}()
	payload, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read entry %q: %v", ErrMalformed, f.Name, err)
	}
	if int64(len(payload)) > maxBytes {
		return nil, fmt.Errorf("%w: entry %q exceeds %d bytes", ErrTooLarge, f.Name, maxBytes)
	}
	return payload, nil
}

// decodeStrictJSON decodes a single JSON value, rejecting unknown fields
// and trailing data.
func decodeStrictJSON(payload []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	var trailing any
	if err := decoder.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple json values")
		}
		return err
	}
	return nil
}

func validateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("bundle: empty file name")
	}
	if strings.Contains(name, "\\") {
		return fmt.Errorf("bundle: file name %q contains backslash", name)
	}
	if path.IsAbs(name) {
		return fmt.Errorf("bundle: file name %q is absolute", name)
	}
	clean := path.Clean(name)
	if clean != name || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("bundle: file name %q escapes the bundle root", name)
	}
	return nil
}
