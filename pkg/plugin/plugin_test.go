package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/loom/pkg/classref"
	"github.com/Mindburn-Labs/loom/pkg/rewrite"
)

type fakeNode struct{ name string }

func (n *fakeNode) ClassName() string { return n.name }

type boolPlugin struct {
	name    string
	phases  Phases
	changed bool
	err     error

	seenReasons []Reason
	audited     []string
}

func (p *boolPlugin) Name() string { return p.name }

func (p *boolPlugin) HandlesClass(t classref.Type, empty bool) Phases {
	return p.phases
}

func (p *boolPlugin) ProcessClass(phase Phase, node ClassNode, t classref.Type) (bool, error) {
	return p.changed, p.err
}

func (p *boolPlugin) AuditEligible(className string, record RecordFunc) {
	p.audited = append(p.audited, className)
}

func TestPhases(t *testing.T) {
	t.Run("zero value declares no interest", func(t *testing.T) {
		assert.True(t, NoPhases.IsEmpty())
		assert.False(t, NoPhases.Has(PhaseBefore))
		assert.False(t, NoPhases.Has(PhaseAfter))
	})

	t.Run("set membership", func(t *testing.T) {
		s := PhaseSet(PhaseBefore)
		assert.True(t, s.Has(PhaseBefore))
		assert.False(t, s.Has(PhaseAfter))

		s = s.With(PhaseAfter)
		assert.True(t, s.Has(PhaseAfter))
		assert.False(t, s.IsEmpty())
	})

	t.Run("string form", func(t *testing.T) {
		assert.Equal(t, "none", NoPhases.String())
		assert.Equal(t, "before", PhaseSet(PhaseBefore).String())
		assert.Equal(t, "after", PhaseSet(PhaseAfter).String())
		assert.Equal(t, "before+after", PhaseSet(PhaseBefore, PhaseAfter).String())
	})
}

func TestReason(t *testing.T) {
	assert.True(t, ReasonClassloading.IsClassloading())

	from, ok := Reason("mixin").CascadedFrom()
	require.True(t, ok)
	assert.Equal(t, "mixin", from)

	_, ok = ReasonClassloading.CascadedFrom()
	assert.False(t, ok)
}

func TestFromLegacy(t *testing.T) {
	ty := classref.FromInternal("com/example/Target")
	node := &fakeNode{name: "com.example.Target"}

	t.Run("interest ignores the reason", func(t *testing.T) {
		p := FromLegacy(&boolPlugin{name: "old", phases: PhaseSet(PhaseBefore)})
		assert.Equal(t, p.Handles(ty, false, ReasonClassloading), p.Handles(ty, false, Reason("mixin")))
	})

	t.Run("true maps to the most conservative level", func(t *testing.T) {
		p := FromLegacy(&boolPlugin{name: "old", changed: true})
		level, err := p.Process(context.Background(), PhaseBefore, node, ty, ReasonClassloading)
		require.NoError(t, err)
		assert.Equal(t, rewrite.LevelComputeFrames, level)
	})

	t.Run("false maps to none and is not an error", func(t *testing.T) {
		p := FromLegacy(&boolPlugin{name: "old", changed: false})
		level, err := p.Process(context.Background(), PhaseAfter, node, ty, ReasonClassloading)
		require.NoError(t, err)
		assert.Equal(t, rewrite.LevelNone, level)
	})

	t.Run("errors pass through untouched", func(t *testing.T) {
		sentinel := errors.New("bad transform")
		p := FromLegacy(&boolPlugin{name: "old", err: sentinel})
		_, err := p.Process(context.Background(), PhaseBefore, node, ty, ReasonClassloading)
		assert.Same(t, sentinel, err)
	})

	t.Run("name is preserved", func(t *testing.T) {
		assert.Equal(t, "old", FromLegacy(&boolPlugin{name: "old"}).Name())
	})
}

func TestAs(t *testing.T) {
	t.Run("reaches capabilities through the legacy adapter", func(t *testing.T) {
		underlying := &boolPlugin{name: "old"}
		p := FromLegacy(underlying)

		ac, ok := As[AuditConsumer](p)
		require.True(t, ok)
		ac.AuditEligible("com.example.Target", func(...string) {})
		assert.Equal(t, []string{"com.example.Target"}, underlying.audited)
	})

	t.Run("reports missing capabilities", func(t *testing.T) {
		p := FromLegacy(&boolPlugin{name: "old"})
		_, ok := As[Initializer](p)
		assert.False(t, ok)
	})
}

type extensionPlugin struct {
	boolPlugin
	ext any
}

func (p *extensionPlugin) Extension() any { return p.ext }

func TestExtensionLookup(t *testing.T) {
	type mixinConfig struct{ Side string }

	p := FromLegacy(&extensionPlugin{
		boolPlugin: boolPlugin{name: "mixin"},
		ext:        &mixinConfig{Side: "client"},
	})

	ext, ok := ExtensionOf(p)
	require.True(t, ok)
	require.NotNil(t, ext)

	cfg, ok := ExtensionAs[*mixinConfig](p)
	require.True(t, ok)
	assert.Equal(t, "client", cfg.Side)

	_, ok = ExtensionAs[string](p)
	assert.False(t, ok)
}
