//go:build property
// +build property

package audit_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/Mindburn-Labs/loom/pkg/audit"
)

func appendAll(classes []string) *audit.Trail {
	trail := audit.NewTrail()
	for i, name := range classes {
		fields := []string{"directive", "skip"}
		if i%2 == 0 {
			fields = []string{"process", "mixin", "before", "simple"}
		}
		trail.Append("com.example."+name, fields)
	}
	return trail
}

// TestTrailChainIntegrity verifies the hash chain holds for any append
// sequence and that rehydration accepts exactly the untampered entries.
func TestTrailChainIntegrity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("chain verifies after any append sequence", prop.ForAll(
		func(classes []string) bool {
			trail := appendAll(classes)
			return trail.VerifyChain() == nil && trail.Size() == len(classes)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("rehydrate round-trips any appended trail", prop.ForAll(
		func(classes []string) bool {
			trail := appendAll(classes)
			restored, err := audit.Rehydrate(trail.Query(audit.Filter{}))
			if err != nil {
				return false
			}
			return restored.Head() == trail.Head() && restored.Size() == trail.Size()
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("tampering with any entry is detected", prop.ForAll(
		func(classes []string, pick int) bool {
			if len(classes) == 0 {
				return true // Nothing to tamper with
			}
			trail := appendAll(classes)
			entries := trail.Query(audit.Filter{})

			tampered := make([]*audit.Entry, len(entries))
			for i, e := range entries {
				clone := *e
				tampered[i] = &clone
			}
			tampered[pick%len(tampered)].ClassName += ".Tampered"

			_, err := audit.Rehydrate(tampered)
			return err != nil
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 1024),
	))

	properties.TestingRun(t)
}
