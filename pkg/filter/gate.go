package filter

import (
	"context"

	"github.com/Mindburn-Labs/loom/pkg/classref"
	"github.com/Mindburn-Labs/loom/pkg/plugin"
	"github.com/Mindburn-Labs/loom/pkg/rewrite"
)

// Gate wraps p so classes matching rules yield no interest. Everything else
// passes through untouched, and capability lookups still reach p through the
// unwrap chain. A rule evaluation failure fails open: the class stays visible
// to the plugin rather than silently vanishing from it. When rules is nil or
// empty, p is returned as is.
func Gate(p plugin.Plugin, rules *Rules) plugin.Plugin {
	if rules.Len() == 0 {
		return p
	}
	return &gatedPlugin{inner: p, rules: rules}
}

type gatedPlugin struct {
	inner plugin.Plugin
	rules *Rules
}

func (g *gatedPlugin) Name() string { return g.inner.Name() }

func (g *gatedPlugin) Handles(t classref.Type, empty bool, reason plugin.Reason) plugin.Phases {
	if _, matched, err := g.rules.Match(t, empty, reason); err == nil && matched {
		return plugin.NoPhases
	}
	return g.inner.Handles(t, empty, reason)
}

func (g *gatedPlugin) Process(ctx context.Context, phase plugin.Phase, node plugin.ClassNode, t classref.Type, reason plugin.Reason) (rewrite.Level, error) {
	return g.inner.Process(ctx, phase, node, t, reason)
}

func (g *gatedPlugin) Unwrap() any { return g.inner }
