// Package rewrite defines the effort a class rewrite requires and the
// recomputation directive the class serializer must honor for it.
package rewrite

import (
	"errors"
	"fmt"
)

// Level is the structural effort a set of class edits demands, ordered by
// ascending cost. Merging two levels keeps the more expensive one, so a
// combined result can always be serialized safely.
type Level uint8

const (
	// LevelNone declares that no rewrite is needed.
	LevelNone Level = iota
	// LevelSimple declares byte-level edits that leave maxs and frames valid.
	LevelSimple
	// LevelComputeMaxs declares edits that invalidate max stack and locals.
	LevelComputeMaxs
	// LevelComputeFrames declares edits that invalidate stack map frames.
	LevelComputeFrames
)

// Recompute instructs the serializer which structures to recompute when a
// rewrite is emitted.
type Recompute uint8

const (
	RecomputeNothing Recompute = iota
	RecomputeMaxs
	RecomputeFrames
)

// ErrInvalidLevel is returned when a recompute directive is requested for a
// level that never produces output.
var ErrInvalidLevel = errors.New("level has no recompute directive")

// Merge combines two levels, keeping the more expensive one. It is
// commutative, associative and idempotent, with LevelNone as identity.
func Merge(a, b Level) Level {
	if b > a {
		return b
	}
	return a
}

// Merge combines l with other, keeping the more expensive level.
func (l Level) Merge(other Level) Level {
	return Merge(l, other)
}

// Recompute maps a level onto the serializer directive its rewrite requires.
// LevelNone carries no directive; asking for one is a programming error.
func (l Level) Recompute() (Recompute, error) {
	switch l {
	case LevelSimple:
		return RecomputeNothing, nil
	case LevelComputeMaxs:
		return RecomputeMaxs, nil
	case LevelComputeFrames:
		return RecomputeFrames, nil
	default:
		return RecomputeNothing, fmt.Errorf("%w: %s", ErrInvalidLevel, l)
	}
}

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelSimple:
		return "simple"
	case LevelComputeMaxs:
		return "compute-maxs"
	case LevelComputeFrames:
		return "compute-frames"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

func (r Recompute) String() string {
	switch r {
	case RecomputeNothing:
		return "nothing"
	case RecomputeMaxs:
		return "maxs"
	case RecomputeFrames:
		return "frames"
	default:
		return fmt.Sprintf("recompute(%d)", uint8(r))
	}
}

// ParseLevel resolves the textual form produced by Level.String.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "none":
		return LevelNone, nil
	case "simple":
		return LevelSimple, nil
	case "compute-maxs":
		return LevelComputeMaxs, nil
	case "compute-frames":
		return LevelComputeFrames, nil
	default:
		return LevelNone, fmt.Errorf("unknown rewrite level %q", s)
	}
}
