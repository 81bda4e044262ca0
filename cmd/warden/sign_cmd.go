package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/warden/pkg/blob"
	"github.com/Mindburn-Labs/warden/pkg/bundle"
	"github.com/Mindburn-Labs/warden/pkg/keyring"
	"github.com/Mindburn-Labs/warden/pkg/keystore"
	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

// runSignCmd signs a draft manifest and a directory of files into a
// packed bundle. The signing key comes from the keystore written by
// keygen; the bundle lands as a single .ext container.
//
// Exit codes:
//
//	0 = bundle signed and written
//	2 = usage or runtime error
func runSignCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	manifestPath := cmd.String("manifest", "", "draft manifest JSON file")
	dir := cmd.String("dir", "", "directory with the extension files")
	storePath := cmd.String("store", "warden-keys.json", "keystore file with the signing key")
	levelName := cmd.String("level", "", "trust level to sign at")
	outPath := cmd.String("out", "", "output bundle path (default <id>-<version>.ext)")
	jsonOut := cmd.Bool("json", false, "print the result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if *manifestPath == "" || *dir == "" || *levelName == "" {
		_, _ = fmt.Fprintln(stderr, "sign: --manifest, --dir and --level are required")
		return 2
	}
	level, err := manifest.ParseTrustLevel(*levelName)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sign: %v\n", err)
		return 2
	}

	draft, err := readDraft(*manifestPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sign: %v\n", err)
		return 2
	}
	files, err := collectFiles(*dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sign: %v\n", err)
		return 2
	}

	ks, err := keystore.Open(*storePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sign: %v\n", err)
		return 2
	}
	ring := keyring.New()
	if err := ring.LoadFromStore(context.Background(), ks, level); err != nil {
		_, _ = fmt.Fprintf(stderr, "sign: %v\n", err)
		return 2
	}

	b, err := bundle.NewSigner(ring).Sign(draft, files, level)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sign: %v\n", err)
		return 2
	}
	packed, err := bundle.Pack(b)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sign: %v\n", err)
		return 2
	}

	out := *outPath
	if out == "" {
		out = fmt.Sprintf("%s-%s.ext", b.Manifest.ID, b.Manifest.Version)
	}
	if err := os.WriteFile(out, packed, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "sign: write bundle: %v\n", err)
		return 2
	}

	addr := blob.Addr(packed)
	if *jsonOut {
		result := map[string]any{
			"bundle":        out,
			"id":            b.Manifest.ID,
			"version":       b.Manifest.Version,
			"trust":         b.Manifest.Trust.String(),
			"manifest_hash": b.Manifest.Hash,
			"address":       addr,
			"files":         len(b.Files),
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "%s✓%s signed %s %s at %s\n", ColorGreen, ColorReset, b.Manifest.ID, b.Manifest.Version, level)
	_, _ = fmt.Fprintf(stdout, "  bundle:        %s (%d files)\n", out, len(b.Files))
	_, _ = fmt.Fprintf(stdout, "  manifest hash: %s\n", b.Manifest.Hash)
	_, _ = fmt.Fprintf(stdout, "  address:       %s\n", addr)
	return 0
}

// readDraft decodes a publisher manifest. Unknown fields are rejected
// so a typo like "permisions" cannot silently drop a field.
func readDraft(path string) (manifest.Draft, error) {
	var draft manifest.Draft
	data, err := os.ReadFile(path)
	if err != nil {
		return draft, fmt.Errorf("read manifest: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&draft); err != nil {
		return draft, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return draft, nil
}

// collectFiles walks dir and returns every regular file keyed by its
// slash-separated path relative to dir, the layout Pack expects.
func collectFiles(dir string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect files from %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("directory %s has no files", dir)
	}
	return files, nil
}
