package plugin

import (
	"context"

	"github.com/Mindburn-Labs/loom/pkg/classref"
	"github.com/Mindburn-Labs/loom/pkg/rewrite"
)

// LegacyPlugin is the contract plugins implemented before rewrite levels
// existed: a reason-less interest query and a boolean "did I change the
// class" process result. false is an ordinary no-change signal, never an
// error.
type LegacyPlugin interface {
	Name() string
	HandlesClass(t classref.Type, empty bool) Phases
	ProcessClass(phase Phase, node ClassNode, t classref.Type) (bool, error)
}

// FromLegacy adapts a legacy plugin to the current contract. The interest
// query answers identically for every reason, and a true process result maps
// to the most conservative level so legacy edits always serialize safely.
func FromLegacy(p LegacyPlugin) Plugin {
	return &legacyAdapter{legacy: p}
}

type legacyAdapter struct {
	legacy LegacyPlugin
}

func (a *legacyAdapter) Name() string { return a.legacy.Name() }

func (a *legacyAdapter) Handles(t classref.Type, empty bool, _ Reason) Phases {
	return a.legacy.HandlesClass(t, empty)
}

func (a *legacyAdapter) Process(_ context.Context, phase Phase, node ClassNode, t classref.Type, _ Reason) (rewrite.Level, error) {
	changed, err := a.legacy.ProcessClass(phase, node, t)
	if err != nil {
		return rewrite.LevelNone, err
	}
	if changed {
		return rewrite.LevelComputeFrames, nil
	}
	return rewrite.LevelNone, nil
}

// Unwrap exposes the wrapped legacy plugin to capability lookups.
func (a *legacyAdapter) Unwrap() any { return a.legacy }
