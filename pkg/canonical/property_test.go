//go:build property
// +build property

package canonical_test

import (
	"testing"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestHashBundleDeterminism verifies the bundle hash is a pure function
// of the (filename, content) pairs regardless of construction order.
func TestHashBundleDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("bundle hash ignores insertion order", prop.ForAll(
		func(names []string, contents []string) bool {
			files := make(map[string][]byte)
			for i := 0; i < len(names) && i < len(contents); i++ {
				if names[i] == "" {
					continue
				}
				files[names[i]] = []byte(contents[i])
			}
			if len(files) == 0 {
				return true
			}

			// Rebuild in reverse iteration order.
			rebuilt := make(map[string][]byte, len(files))
			keys := make([]string, 0, len(files))
			for k := range files {
				keys = append(keys, k)
			}
			for i := len(keys) - 1; i >= 0; i-- {
				rebuilt[keys[i]] = files[keys[i]]
			}

			return canonical.HashBundle(files) == canonical.HashBundle(rebuilt)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("canonical hash is deterministic", prop.ForAll(
		func(a, b string) bool {
			v1 := map[string]any{"a": a, "b": b}
			v2 := map[string]any{"b": b, "a": a}
			h1, err1 := canonical.CanonicalHash(v1)
			h2, err2 := canonical.CanonicalHash(v2)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return h1 == h2
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
