package verifier

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/bundle"
	"github.com/Mindburn-Labs/warden/pkg/canonical"
	"github.com/Mindburn-Labs/warden/pkg/keyring"
	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

func testDraft() manifest.Draft {
	return manifest.Draft{
		ID:          "ext1",
		Name:        "Example Extension",
		Version:     "1.0.0",
		Author:      "acme",
		Permissions: []manifest.Permission{manifest.PermAnalyzeProject},
		Entry:       "main.js",
	}
}

func testFiles() map[string][]byte {
	return map[string][]byte{
		"main.js": []byte("module.exports = () => 42"),
		"util.js": []byte("exports.helper = true"),
	}
}

func newRing(t *testing.T, level manifest.TrustLevel) (*keyring.KeyRing, ed25519.PrivateKey) {
	t.Helper()
	ring := keyring.New()
	priv, _, err := keyring.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if err := ring.LoadKey(level, priv); err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	return ring, priv
}

func signAndPack(t *testing.T, ring *keyring.KeyRing, level manifest.TrustLevel) ([]byte, *bundle.Bundle) {
	t.Helper()
	b, err := bundle.NewSigner(ring).Sign(testDraft(), testFiles(), level)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	data, err := bundle.Pack(b)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return data, b
}

// handSign builds a container around an arbitrary manifest, bypassing
// the Signer's own validation. Used to craft inputs the signing path
// refuses to produce.
func handSign(t *testing.T, m manifest.Manifest, files map[string][]byte, priv ed25519.PrivateKey) []byte {
	t.Helper()
	signable, err := canonical.SignableBytes(m)
	if err != nil {
		t.Fatalf("SignableBytes: %v", err)
	}
	sig := ed25519.Sign(priv, signable)
	pub := priv.Public().(ed25519.PublicKey)
	data, err := bundle.Pack(&bundle.Bundle{
		Manifest: m,
		Files:    files,
		Signature: bundle.SignatureRecord{
			Algorithm: bundle.AlgEd25519,
			PublicKey: hex.EncodeToString(pub),
			Signature: base64.StdEncoding.EncodeToString(sig),
			SignedAt:  m.CreatedAt.Format(time.RFC3339),
		},
		Hash: m.Hash,
	})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return data
}

func craftedManifest(files map[string][]byte, trust manifest.TrustLevel) manifest.Manifest {
	return manifest.Manifest{
		ID:          "ext1",
		Name:        "Example Extension",
		Version:     "1.0.0",
		Author:      "acme",
		Permissions: []manifest.Permission{manifest.PermAnalyzeProject},
		Entry:       "main.js",
		Hash:        canonical.HashBundle(files),
		Trust:       trust,
		CreatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	ring, _ := newRing(t, manifest.TrustVerified)
	data, signed := signAndPack(t, ring, manifest.TrustVerified)

	got, err := New(ring).Verify(data)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Manifest.ID != signed.Manifest.ID || got.Manifest.Hash != signed.Manifest.Hash {
		t.Errorf("manifest = %+v, want %+v", got.Manifest, signed.Manifest)
	}
	if got.Manifest.Trust != manifest.TrustVerified {
		t.Errorf("trust = %v, want VERIFIED", got.Manifest.Trust)
	}
	if !got.Manifest.CreatedAt.Equal(signed.Manifest.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.Manifest.CreatedAt, signed.Manifest.CreatedAt)
	}
	if got.Hash != signed.Manifest.Hash {
		t.Errorf("hash = %q, want %q", got.Hash, signed.Manifest.Hash)
	}
	if len(got.Files) != len(signed.Files) {
		t.Errorf("file count = %d, want %d", len(got.Files), len(signed.Files))
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	ring, _ := newRing(t, manifest.TrustVerified)
	_, err := New(ring).Verify([]byte("not a container at all"))

	var mErr *ManifestError
	if !errors.As(err, &mErr) {
		t.Fatalf("err = %v, want *ManifestError", err)
	}
	if mErr.Step() != "unpack" {
		t.Errorf("step = %q, want unpack", mErr.Step())
	}
}

func TestVerifyRejectsOversizedContainer(t *testing.T) {
	ring, _ := newRing(t, manifest.TrustVerified)
	data, _ := signAndPack(t, ring, manifest.TrustVerified)

	v := New(ring).WithLimits(bundle.Limits{MaxFiles: 16, MaxFileBytes: 4, MaxTotalBytes: 1 << 20})
	_, err := v.Verify(data)

	var mErr *ManifestError
	if !errors.As(err, &mErr) {
		t.Fatalf("err = %v, want *ManifestError", err)
	}
	if !errors.Is(err, bundle.ErrTooLarge) {
		t.Errorf("err = %v, want wrapped ErrTooLarge", err)
	}
}

func TestVerifyDetectsTamperedFile(t *testing.T) {
	ring, _ := newRing(t, manifest.TrustVerified)
	_, signed := signAndPack(t, ring, manifest.TrustVerified)

	signed.Files["main.js"][0] ^= 0xff
	data, err := bundle.Pack(signed)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	_, err = New(ring).Verify(data)
	var iErr *IntegrityError
	if !errors.As(err, &iErr) {
		t.Fatalf("err = %v, want *IntegrityError", err)
	}
	if iErr.Expected != signed.Manifest.Hash {
		t.Errorf("expected hash = %q, want %q", iErr.Expected, signed.Manifest.Hash)
	}
	if iErr.Computed == iErr.Expected {
		t.Error("computed hash should differ from expected")
	}
}

func TestVerifyIntegrityCheckedBeforeSignature(t *testing.T) {
	ring, _ := newRing(t, manifest.TrustVerified)
	_, signed := signAndPack(t, ring, manifest.TrustVerified)

	// Both the content and the signature are bad. Integrity must win.
	signed.Files["main.js"][0] ^= 0xff
	signed.Signature.Signature = base64.StdEncoding.EncodeToString(make([]byte, ed25519.SignatureSize))
	data, err := bundle.Pack(signed)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	_, err = New(ring).Verify(data)
	var iErr *IntegrityError
	if !errors.As(err, &iErr) {
		t.Fatalf("err = %v, want *IntegrityError", err)
	}
}

func TestVerifyRejectsSwappedSignature(t *testing.T) {
	ring, _ := newRing(t, manifest.TrustVerified)
	_, first := signAndPack(t, ring, manifest.TrustVerified)

	other := testDraft()
	other.ID = "ext2"
	second, err := bundle.NewSigner(ring).Sign(other, testFiles(), manifest.TrustVerified)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// The content hash still matches, but the signature was produced
	// over a different manifest.
	first.Signature = second.Signature
	data, err := bundle.Pack(first)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	_, err = New(ring).Verify(data)
	var sErr *SignatureError
	if !errors.As(err, &sErr) {
		t.Fatalf("err = %v, want *SignatureError", err)
	}
}

func TestVerifyRejectsUnknownAlgorithm(t *testing.T) {
	ring, _ := newRing(t, manifest.TrustVerified)
	_, signed := signAndPack(t, ring, manifest.TrustVerified)

	signed.Signature.Algorithm = "rsa-pss"
	data, err := bundle.Pack(signed)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	_, err = New(ring).Verify(data)
	var sErr *SignatureError
	if !errors.As(err, &sErr) {
		t.Fatalf("err = %v, want *SignatureError", err)
	}
	if !strings.Contains(sErr.Reason, "rsa-pss") {
		t.Errorf("reason = %q, want algorithm name", sErr.Reason)
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	// The attacker signs with their own ring. The signature itself is
	// valid; the key is simply not in the verifier's trusted set.
	attackerRing, attackerPriv := newRing(t, manifest.TrustVerified)
	data, _ := signAndPack(t, attackerRing, manifest.TrustVerified)

	victimRing, _ := newRing(t, manifest.TrustVerified)
	_, err := New(victimRing).Verify(data)

	var tErr *TrustError
	if !errors.As(err, &tErr) {
		t.Fatalf("err = %v, want *TrustError", err)
	}
	if tErr.Level != manifest.TrustVerified {
		t.Errorf("level = %v, want VERIFIED", tErr.Level)
	}
	wantID := keyring.KeyID(attackerPriv.Public().(ed25519.PublicKey))
	if tErr.KeyID != wantID {
		t.Errorf("key id = %q, want %q", tErr.KeyID, wantID)
	}
}

func TestVerifyRejectsRevokedKey(t *testing.T) {
	ring, priv := newRing(t, manifest.TrustVerified)
	data, _ := signAndPack(t, ring, manifest.TrustVerified)

	ring.RemoveTrustedKey(manifest.TrustVerified, priv.Public().(ed25519.PublicKey))

	_, err := New(ring).Verify(data)
	var tErr *TrustError
	if !errors.As(err, &tErr) {
		t.Fatalf("err = %v, want *TrustError", err)
	}
}

func TestVerifyRejectsUntrustedLevelClaim(t *testing.T) {
	// A manifest claiming UNTRUSTED can carry a technically valid
	// signature, but no trusted set exists for that level.
	ring, priv := newRing(t, manifest.TrustVerified)

	files := testFiles()
	m := craftedManifest(files, manifest.TrustUntrusted)
	data := handSign(t, m, files, priv)

	_, err := New(ring).Verify(data)
	var tErr *TrustError
	if !errors.As(err, &tErr) {
		t.Fatalf("err = %v, want *TrustError", err)
	}
	if tErr.Level != manifest.TrustUntrusted {
		t.Errorf("level = %v, want UNTRUSTED", tErr.Level)
	}
}

func TestVerifyRejectsMissingEntryFile(t *testing.T) {
	ring, priv := newRing(t, manifest.TrustVerified)

	files := map[string][]byte{"util.js": []byte("exports.helper = true")}
	m := craftedManifest(files, manifest.TrustVerified)
	data := handSign(t, m, files, priv)

	_, err := New(ring).Verify(data)
	var mErr *ManifestError
	if !errors.As(err, &mErr) {
		t.Fatalf("err = %v, want *ManifestError", err)
	}
	if !strings.Contains(mErr.Reason, "main.js") {
		t.Errorf("reason = %q, want entry file name", mErr.Reason)
	}
}

func TestVerifyRejectsBlockedExtensions(t *testing.T) {
	ring, _ := newRing(t, manifest.TrustVerified)

	for _, name := range []string{"payload.exe", "lib.so", "setup.MSI"} {
		files := testFiles()
		files[name] = []byte("binary")
		signed, err := bundle.NewSigner(ring).Sign(testDraft(), files, manifest.TrustVerified)
		if err != nil {
			t.Fatalf("Sign(%s): %v", name, err)
		}
		data, err := bundle.Pack(signed)
		if err != nil {
			t.Fatalf("Pack(%s): %v", name, err)
		}

		_, err = New(ring).Verify(data)
		var mErr *ManifestError
		if !errors.As(err, &mErr) {
			t.Fatalf("Verify(%s): err = %v, want *ManifestError", name, err)
		}
		if !strings.Contains(mErr.Reason, name) {
			t.Errorf("Verify(%s): reason = %q, want file name", name, mErr.Reason)
		}
	}
}

func TestVerifyKeepsTrustAcrossLevels(t *testing.T) {
	// A key trusted for ORG_APPROVED must not verify a CORE claim.
	ring, priv := newRing(t, manifest.TrustOrgApproved)

	files := testFiles()
	m := craftedManifest(files, manifest.TrustCore)
	data := handSign(t, m, files, priv)

	_, err := New(ring).Verify(data)
	var tErr *TrustError
	if !errors.As(err, &tErr) {
		t.Fatalf("err = %v, want *TrustError", err)
	}
	if tErr.Level != manifest.TrustCore {
		t.Errorf("level = %v, want CORE", tErr.Level)
	}
}
