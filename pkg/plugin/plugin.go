// Package plugin defines the contract between the loom dispatch core and
// weave plugins, the independently authored modules that inspect and rewrite
// classes in flight.
package plugin

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/loom/pkg/classref"
	"github.com/Mindburn-Labs/loom/pkg/rewrite"
)

// Phase places a plugin invocation relative to the pipeline's own mandatory
// transformation step.
type Phase uint8

const (
	// PhaseBefore runs ahead of the pipeline's own transformation step.
	PhaseBefore Phase = iota
	// PhaseAfter runs once the pipeline's own transformation step is done.
	PhaseAfter
)

func (p Phase) String() string {
	switch p {
	case PhaseBefore:
		return "before"
	case PhaseAfter:
		return "after"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Phases is the set of phases a plugin wants for one class. The zero value
// declares no interest.
type Phases uint8

// NoPhases declares no interest in a class.
const NoPhases Phases = 0

// PhaseSet builds a Phases value from the given phases.
func PhaseSet(phases ...Phase) Phases {
	var s Phases
	for _, p := range phases {
		s = s.With(p)
	}
	return s
}

// With returns the set extended by p.
func (s Phases) With(p Phase) Phases { return s | 1<<p }

// Has reports whether p is in the set.
func (s Phases) Has(p Phase) bool { return s&(1<<p) != 0 }

// IsEmpty reports whether the set declares no interest.
func (s Phases) IsEmpty() bool { return s == 0 }

func (s Phases) String() string {
	switch {
	case s.IsEmpty():
		return "none"
	case s.Has(PhaseBefore) && s.Has(PhaseAfter):
		return "before+after"
	case s.Has(PhaseBefore):
		return "before"
	default:
		return "after"
	}
}

// Reason tells a plugin why a class is being examined. ReasonClassloading is
// the ordinary trigger; any other value is the name of the plugin whose edits
// caused the class to be offered again.
type Reason string

// ReasonClassloading marks a first-time examination during classloading.
const ReasonClassloading Reason = "classloading"

// IsClassloading reports whether the examination is the ordinary
// classloading trigger rather than a cascade.
func (r Reason) IsClassloading() bool { return r == ReasonClassloading }

// CascadedFrom returns the name of the plugin that triggered a cascade
// re-examination, when the reason is one.
func (r Reason) CascadedFrom() (string, bool) {
	if r.IsClassloading() || r == "" {
		return "", false
	}
	return string(r), true
}

// ClassNode is the mutable class representation the pipeline's node builder
// produces. One node is built per dispatch and shared by every interested
// plugin and the pipeline's own step, which mutate it in place. The dispatch
// core never looks inside it.
type ClassNode interface {
	ClassName() string
}

// Plugin is a weave plugin. Name must be unique for the life of the process
// and stable across calls. Handles is the cheap interest query and must not
// assume a class representation exists. Process receives the shared node for
// one phase and reports the rewrite effort its edits require; errors abort
// the surrounding classload and are surfaced to the pipeline untouched.
type Plugin interface {
	Name() string
	Handles(t classref.Type, empty bool, reason Reason) Phases
	Process(ctx context.Context, phase Phase, node ClassNode, t classref.Type, reason Reason) (rewrite.Level, error)
}
