//go:build property
// +build property

// Package dispatch_test contains property-based tests for the dispatch
// protocol: the directive is a pure function of the plugin answers, not of
// registration order, and always equals the joined effort model.
package dispatch_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/loom/pkg/dispatch"
	"github.com/Mindburn-Labs/loom/pkg/plugin"
	"github.com/Mindburn-Labs/loom/pkg/registry"
	"github.com/Mindburn-Labs/loom/pkg/rewrite"
)

// pluginsFromSpecs derives deterministic plugins from generated ints: the low
// two bits pick the phase set, the next two the reported level.
func pluginsFromSpecs(specs []int) []*fakePlugin {
	if len(specs) > 12 {
		specs = specs[:12]
	}
	plugins := make([]*fakePlugin, len(specs))
	for i, s := range specs {
		plugins[i] = &fakePlugin{
			name:   fmt.Sprintf("plugin%02d", i),
			phases: plugin.Phases(s % 4),
			level:  rewrite.Level((s / 4) % 4),
		}
	}
	return plugins
}

func dispatchAll(t *testing.T, plugins []*fakePlugin, core dispatch.CoreTransformer) (dispatch.Directive, error) {
	reg := registry.New()
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	opts := []dispatch.Option{}
	if core != nil {
		opts = append(opts, dispatch.WithCoreTransformer(core))
	}
	d, err := dispatch.New(reg, &spyBuilder{}, opts...)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d.Dispatch(context.Background(), target, false, plugin.ReasonClassloading)
}

func TestDispatchOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("directive is independent of registration order", prop.ForAll(
		func(specs []int, seed int64) bool {
			if len(specs) == 0 {
				return true
			}

			ordered := pluginsFromSpecs(specs)
			direct, err := dispatchAll(t, ordered, nil)
			if err != nil {
				return false
			}

			shuffled := pluginsFromSpecs(specs)
			r := rand.New(rand.NewSource(seed))
			r.Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			permuted, err := dispatchAll(t, shuffled, nil)
			if err != nil {
				return false
			}

			return direct == permuted
		},
		gen.SliceOf(gen.IntRange(0, 15)),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestDispatchMatchesJoinModel(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("directive equals the max over interested plugin levels", prop.ForAll(
		func(specs []int) bool {
			plugins := pluginsFromSpecs(specs)

			expected := rewrite.LevelNone
			anyInterest := false
			for _, p := range plugins {
				if p.phases.IsEmpty() {
					continue
				}
				anyInterest = true
				// A dual-phase plugin reports its level twice; the join is
				// idempotent so the model stays a plain max.
				expected = expected.Merge(p.level)
			}

			directive, err := dispatchAll(t, plugins, nil)
			if err != nil {
				return false
			}

			if !anyInterest || expected == rewrite.LevelNone {
				return directive.Skip()
			}
			return !directive.Skip() && directive.Level() == expected
		},
		gen.SliceOf(gen.IntRange(0, 15)),
	))

	properties.TestingRun(t)
}

func TestDispatchByteChangeAlwaysRewrites(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a byte-changing core step forces a rewrite of at least simple", prop.ForAll(
		func(specs []int) bool {
			plugins := pluginsFromSpecs(specs)

			anyInterest := false
			for _, p := range plugins {
				if !p.phases.IsEmpty() {
					anyInterest = true
					break
				}
			}
			if !anyInterest {
				// Without interest the core never runs and the class skips.
				directive, err := dispatchAll(t, plugins, &fakeCore{changed: true})
				return err == nil && directive.Skip()
			}

			directive, err := dispatchAll(t, plugins, &fakeCore{changed: true})
			if err != nil {
				return false
			}
			return !directive.Skip() && directive.Level() >= rewrite.LevelSimple
		},
		gen.SliceOf(gen.IntRange(0, 15)),
	))

	properties.TestingRun(t)
}
