package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/loom/pkg/classref"
	"github.com/Mindburn-Labs/loom/pkg/filter"
	"github.com/Mindburn-Labs/loom/pkg/plugin"
)

func TestCompile_RejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		defs    []filter.Definition
		wantErr string
	}{
		{
			name:    "missing name",
			defs:    []filter.Definition{{Expression: `empty`}},
			wantErr: "has no name",
		},
		{
			name: "duplicate name",
			defs: []filter.Definition{
				{Name: "dup", Expression: `empty`},
				{Name: "dup", Expression: `cascade`},
			},
			wantErr: `duplicate rule name "dup"`,
		},
		{
			name:    "syntax error",
			defs:    []filter.Definition{{Name: "broken", Expression: `class &&`}},
			wantErr: "Syntax error",
		},
		{
			name:    "reserved package identifier",
			defs:    []filter.Definition{{Name: "reserved", Expression: `package == "com.example"`}},
			wantErr: "reserved identifier",
		},
		{
			name:    "unknown variable",
			defs:    []filter.Definition{{Name: "unknown", Expression: `clazz == "x"`}},
			wantErr: "undeclared reference",
		},
		{
			name:    "non-bool result",
			defs:    []filter.Definition{{Name: "stringy", Expression: `class`}},
			wantErr: "must evaluate to bool",
		},
		{
			name:    "float literal",
			defs:    []filter.Definition{{Name: "floaty", Expression: `1.5 < 2.0`}},
			wantErr: "float literals",
		},
		{
			name: "comprehensions too deep",
			defs: []filter.Definition{{
				Name:       "deep",
				Expression: `[1, 2].all(x, [1, 2].all(y, [1, 2].all(z, x + y + z > 0)))`,
			}},
			wantErr: "comprehensions nest deeper",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := filter.Compile(tt.defs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCompile_AcceptsRealisticRules(t *testing.T) {
	rules, err := filter.Compile([]filter.Definition{
		{Name: "generated", Expression: `pkg.startsWith("com.example.generated")`},
		{Name: "nested-ok", Expression: `["Gen", "Stub"].exists(a, ["Marker"].exists(b, simple.endsWith(a + b)))`},
		{Name: "cascades", Expression: `cascade && reason != "classloading"`},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rules.Len())
}

func TestCompile_EmptyDefinitions(t *testing.T) {
	rules, err := filter.Compile(nil)
	require.NoError(t, err)
	require.NotNil(t, rules)
	assert.Equal(t, 0, rules.Len())

	name, matched, err := rules.Match(classref.FromBinary("com.example.Foo"), false, plugin.ReasonClassloading)
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Empty(t, name)
}

func TestRules_Match(t *testing.T) {
	rules, err := filter.Compile([]filter.Definition{
		{Name: "skip-generated", Expression: `pkg.startsWith("com.example.generated")`},
		{Name: "skip-empty-cascades", Expression: `empty && cascade`},
		{Name: "skip-markers", Expression: `simple.endsWith("Marker") && reason == "classloading"`},
	})
	require.NoError(t, err)

	tests := []struct {
		name        string
		class       string
		empty       bool
		reason      plugin.Reason
		wantRule    string
		wantMatched bool
	}{
		{
			name:        "matches by package",
			class:       "com.example.generated.Foo",
			reason:      plugin.ReasonClassloading,
			wantRule:    "skip-generated",
			wantMatched: true,
		},
		{
			name:        "first match wins",
			class:       "com.example.generated.EventMarker",
			reason:      plugin.ReasonClassloading,
			wantRule:    "skip-generated",
			wantMatched: true,
		},
		{
			name:        "matches empty cascade",
			class:       "com.example.Foo",
			empty:       true,
			reason:      plugin.Reason("mixin"),
			wantRule:    "skip-empty-cascades",
			wantMatched: true,
		},
		{
			name:   "classloading is not a cascade",
			class:  "com.example.Foo",
			empty:  true,
			reason: plugin.ReasonClassloading,
		},
		{
			name:        "matches simple name on classloading",
			class:       "org.other.EventMarker",
			reason:      plugin.ReasonClassloading,
			wantRule:    "skip-markers",
			wantMatched: true,
		},
		{
			name:   "cascade reason does not match marker rule",
			class:  "org.other.EventMarker",
			reason: plugin.Reason("mixin"),
		},
		{
			name:   "default package class",
			class:  "Foo",
			reason: plugin.ReasonClassloading,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, matched, err := rules.Match(classref.FromBinary(tt.class), tt.empty, tt.reason)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMatched, matched)
			assert.Equal(t, tt.wantRule, name)
		})
	}
}

func TestRules_Match_EvalError(t *testing.T) {
	rules, err := filter.Compile([]filter.Definition{
		{Name: "explodes", Expression: `1 / 0 == 1`},
	})
	require.NoError(t, err)

	_, matched, err := rules.Match(classref.FromBinary("com.example.Foo"), false, plugin.ReasonClassloading)
	require.Error(t, err)
	assert.False(t, matched)
	assert.Contains(t, err.Error(), `"explodes"`)
}

func TestRules_Match_NilRules(t *testing.T) {
	var rules *filter.Rules

	name, matched, err := rules.Match(classref.FromBinary("com.example.Foo"), false, plugin.ReasonClassloading)
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Empty(t, name)
	assert.Equal(t, 0, rules.Len())
}
