// Package keystore provides the file-backed implementation of the
// keyring.KeyStore contract: private signing keys per trust level,
// AES-256-GCM encrypted at rest under a versioned master key.
//
// Master keys rotate without re-encrypting stored material; old versions
// remain available for decryption, so a key written under v1 still loads
// after the store has rotated to v3.
package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/warden/pkg/keyring"
	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

const masterKeySize = 32

// fileFormat is the on-disk JSON layout.
type fileFormat struct {
	ActiveVersion int               `json:"active_version"`
	MasterKeys    map[string]string `json:"master_keys"`  // version -> base64 32-byte key
	SigningKeys   map[string]string `json:"signing_keys"` // trust level -> "v<N>:<base64>"
}

// FileStore is a file-backed keyring.KeyStore.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	format  fileFormat
	masters map[int][]byte
}

var _ keyring.KeyStore = (*FileStore)(nil)

// Open loads or creates a keystore at path. A new store generates master
// key version 1. The file is written with 0600 permissions.
func Open(path string) (*FileStore, error) {
	fs := &FileStore{
		path:    path,
		masters: make(map[int][]byte),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("keystore: create dir: %w", err)
		}
		master := make([]byte, masterKeySize)
		if _, err := io.ReadFull(rand.Reader, master); err != nil {
			return nil, fmt.Errorf("keystore: generate master key: %w", err)
		}
		fs.format = fileFormat{
			ActiveVersion: 1,
			MasterKeys:    map[string]string{"1": base64.StdEncoding.EncodeToString(master)},
			SigningKeys:   make(map[string]string),
		}
		fs.masters[1] = master
		if err := fs.persist(); err != nil {
			return nil, err
		}
		return fs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: read: %w", err)
	}
	if err := json.Unmarshal(data, &fs.format); err != nil {
		return nil, fmt.Errorf("keystore: parse: %w", err)
	}
	if fs.format.SigningKeys == nil {
		fs.format.SigningKeys = make(map[string]string)
	}

	for vStr, encoded := range fs.format.MasterKeys {
		v, err := strconv.Atoi(vStr)
		if err != nil {
			return nil, fmt.Errorf("keystore: invalid master version %q: %w", vStr, err)
		}
		master, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("keystore: decode master v%d: %w", v, err)
		}
		if len(master) != masterKeySize {
			return nil, fmt.Errorf("keystore: master v%d invalid length %d (need %d)", v, len(master), masterKeySize)
		}
		fs.masters[v] = master
	}
	if _, ok := fs.masters[fs.format.ActiveVersion]; !ok {
		return nil, fmt.Errorf("keystore: active version %d not present", fs.format.ActiveVersion)
	}

	return fs, nil
}

// Put encrypts and persists a signing key for a trust level.
func (fs *FileStore) Put(_ context.Context, level manifest.TrustLevel, priv ed25519.PrivateKey) error {
	if !level.Signable() {
		return fmt.Errorf("keystore: level %s cannot hold a signing key", level)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("keystore: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	version := fs.format.ActiveVersion
	ct, err := aesGCMEncrypt(fs.masters[version], priv)
	if err != nil {
		return err
	}
	fs.format.SigningKeys[level.String()] = fmt.Sprintf("v%d:%s", version, base64.StdEncoding.EncodeToString(ct))
	return fs.persist()
}

// Get loads and decrypts the signing key for a trust level. Missing keys
// return keyring.ErrKeyNotFound.
func (fs *FileStore) Get(_ context.Context, level manifest.TrustLevel) (ed25519.PrivateKey, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	stored, ok := fs.format.SigningKeys[level.String()]
	if !ok {
		return nil, fmt.Errorf("keystore: %s: %w", level, keyring.ErrKeyNotFound)
	}

	version, payload, err := parseVersioned(stored)
	if err != nil {
		return nil, err
	}
	master, ok := fs.masters[version]
	if !ok {
		return nil, fmt.Errorf("keystore: unknown master version %d", version)
	}
	ct, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode ciphertext: %w", err)
	}
	pt, err := aesGCMDecrypt(master, ct)
	if err != nil {
		return nil, fmt.Errorf("keystore: decrypt %s: %w", level, err)
	}
	if len(pt) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keystore: stored key for %s has invalid length %d", level, len(pt))
	}
	return ed25519.PrivateKey(pt), nil
}

// Delete removes the signing key for a trust level. Deleting a missing
// key is not an error.
func (fs *FileStore) Delete(_ context.Context, level manifest.TrustLevel) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.format.SigningKeys[level.String()]; !ok {
		return nil
	}
	delete(fs.format.SigningKeys, level.String())
	return fs.persist()
}

// Rotate generates a new active master key version. Keys encrypted under
// older versions remain decryptable.
func (fs *FileStore) Rotate() (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	next := fs.format.ActiveVersion + 1
	master := make([]byte, masterKeySize)
	if _, err := io.ReadFull(rand.Reader, master); err != nil {
		return 0, fmt.Errorf("keystore: generate master key: %w", err)
	}
	fs.format.MasterKeys[strconv.Itoa(next)] = base64.StdEncoding.EncodeToString(master)
	fs.format.ActiveVersion = next
	fs.masters[next] = master

	if err := fs.persist(); err != nil {
		return 0, err
	}
	return next, nil
}

// ActiveVersion returns the current master key version.
func (fs *FileStore) ActiveVersion() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.format.ActiveVersion
}

func (fs *FileStore) persist() error {
	data, err := json.MarshalIndent(fs.format, "", "  ")
	if err != nil {
		return fmt.Errorf("keystore: marshal: %w", err)
	}
	if err := os.WriteFile(fs.path, data, 0600); err != nil {
		return fmt.Errorf("keystore: write: %w", err)
	}
	return nil
}

func aesGCMEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keystore: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func aesGCMDecrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("keystore: ciphertext too short")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}

func parseVersioned(s string) (int, string, error) {
	if !strings.HasPrefix(s, "v") {
		return 0, "", fmt.Errorf("keystore: missing version prefix in %q", s)
	}
	idx := strings.Index(s, ":")
	if idx < 2 {
		return 0, "", fmt.Errorf("keystore: malformed versioned string %q", s)
	}
	v, err := strconv.Atoi(s[1:idx])
	if err != nil {
		return 0, "", fmt.Errorf("keystore: parse version: %w", err)
	}
	return v, s[idx+1:], nil
}
