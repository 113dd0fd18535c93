//go:build property
// +build property

package canonicalize_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/Mindburn-Labs/loom/pkg/canonicalize"
)

// TestCanonicalHashStability verifies the digest depends only on the logical
// document, not on how the Go value spelling it was put together.
func TestCanonicalHashStability(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("hashing is deterministic", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				obj[keys[i]] = values[i]
			}
			h1, err1 := canonicalize.CanonicalHash(obj)
			h2, err2 := canonicalize.CanonicalHash(obj)
			if err1 != nil || err2 != nil {
				return false
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("struct field order does not matter", prop.ForAll(
		func(a, b string, n int) bool {
			first, err1 := canonicalize.CanonicalHash(struct {
				A string `json:"a"`
				B string `json:"b"`
				N int    `json:"n"`
			}{a, b, n})
			second, err2 := canonicalize.CanonicalHash(struct {
				N int    `json:"n"`
				B string `json:"b"`
				A string `json:"a"`
			}{n, b, a})
			if err1 != nil || err2 != nil {
				return false
			}
			return first == second
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(-1_000_000, 1_000_000),
	))

	properties.Property("changing a value changes the hash", prop.ForAll(
		func(key, value string) bool {
			if key == "" {
				return true
			}
			base, err1 := canonicalize.CanonicalHash(map[string]any{key: value})
			other, err2 := canonicalize.CanonicalHash(map[string]any{key: value + "x"})
			if err1 != nil || err2 != nil {
				return false
			}
			return base != other
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("class name normalization is idempotent", prop.ForAll(
		func(name string) bool {
			// A decomposed umlaut makes every input need real NFC work.
			once := canonicalize.NormalizeClassName(name + "ü")
			return canonicalize.NormalizeClassName(once) == once
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
