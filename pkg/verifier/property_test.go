//go:build property
// +build property

package verifier

import (
	"bytes"
	"testing"

	"github.com/Mindburn-Labs/warden/pkg/bundle"
	"github.com/Mindburn-Labs/warden/pkg/manifest"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRoundTripProperty verifies the full sign → pack → unpack → verify
// pipeline preserves arbitrary valid file maps bit for bit.
func TestRoundTripProperty(t *testing.T) {
	ring, _ := newRing(t, manifest.TrustVerified)
	signer := bundle.NewSigner(ring)
	v := New(ring)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("verify returns exactly what was signed", prop.ForAll(
		func(names []string, contents []string) bool {
			files := map[string][]byte{
				"main.js": []byte("module.exports = () => 42"),
			}
			for i := 0; i < len(names) && i < len(contents); i++ {
				if names[i] == "" {
					continue
				}
				files[names[i]+".js"] = []byte(contents[i])
			}

			b, err := signer.Sign(testDraft(), files, manifest.TrustVerified)
			if err != nil {
				return false
			}
			data, err := bundle.Pack(b)
			if err != nil {
				return false
			}
			got, err := v.Verify(data)
			if err != nil {
				return false
			}

			if len(got.Files) != len(files) {
				return false
			}
			for name, content := range files {
				if !bytes.Equal(got.Files[name], content) {
					return false
				}
			}
			return got.Manifest.ID == b.Manifest.ID &&
				got.Manifest.Hash == b.Manifest.Hash &&
				got.Manifest.Trust == manifest.TrustVerified
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
