// Package filter compiles operator-authored CEL rules that exclude classes
// from individual weave plugins without modifying the plugins themselves.
package filter

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/loom/pkg/classref"
	"github.com/Mindburn-Labs/loom/pkg/plugin"
)

// Definition is one named filter expression as it appears in configuration.
type Definition struct {
	Name       string `json:"name" yaml:"name"`
	Expression string `json:"expression" yaml:"expression"`
}

// Rules is a compiled, ordered rule set. A nil *Rules matches nothing.
type Rules struct {
	rules []rule
}

type rule struct {
	name string
	prg  cel.Program
}

// newEnv builds the evaluation environment shared by every rule. CEL
// reserves the identifier "package", so the package variable is "pkg".
func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("class", cel.StringType),
		cel.Variable("pkg", cel.StringType),
		cel.Variable("simple", cel.StringType),
		cel.Variable("empty", cel.BoolType),
		cel.Variable("reason", cel.StringType),
		cel.Variable("cascade", cel.BoolType),
	)
}

// Compile validates and compiles the definitions into an evaluable rule set,
// preserving their order. Expressions are screened for banned constructs
// before compilation and must type-check to bool.
func Compile(defs []Definition) (*Rules, error) {
	if len(defs) == 0 {
		return &Rules{}, nil
	}
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("filter: build environment: %w", err)
	}
	rs := &Rules{rules: make([]rule, 0, len(defs))}
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("filter: rule with expression %q has no name", def.Expression)
		}
		if _, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("filter: duplicate rule name %q", def.Name)
		}
		seen[def.Name] = struct{}{}
		if err := validate(env, def.Expression); err != nil {
			return nil, fmt.Errorf("filter: rule %q: %w", def.Name, err)
		}
		ast, issues := env.Compile(def.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("filter: rule %q: %w", def.Name, issues.Err())
		}
		if out := ast.OutputType(); !cel.BoolType.IsAssignableType(out) {
			return nil, fmt.Errorf("filter: rule %q must evaluate to bool, got %s", def.Name, out)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("filter: rule %q: %w", def.Name, err)
		}
		rs.rules = append(rs.rules, rule{name: def.Name, prg: prg})
	}
	return rs, nil
}

// Match evaluates the rules in definition order against one class and
// returns the name of the first rule that matches.
func (r *Rules) Match(t classref.Type, empty bool, reason plugin.Reason) (string, bool, error) {
	if r == nil || len(r.rules) == 0 {
		return "", false, nil
	}
	_, cascade := reason.CascadedFrom()
	input := map[string]any{
		"class":   t.Binary(),
		"pkg":     t.Package(),
		"simple":  t.Simple(),
		"empty":   empty,
		"reason":  string(reason),
		"cascade": cascade,
	}
	for _, rl := range r.rules {
		val, _, err := rl.prg.Eval(input)
		if err != nil {
			return "", false, fmt.Errorf("filter: rule %q: %w", rl.name, err)
		}
		matched, ok := val.Value().(bool)
		if !ok {
			return "", false, fmt.Errorf("filter: rule %q returned %T, want bool", rl.name, val.Value())
		}
		if matched {
			return rl.name, true, nil
		}
	}
	return "", false, nil
}

// Len returns the number of compiled rules.
func (r *Rules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}
