// Package dispatch coordinates weave plugins around a class transformation.
// For each class the dispatcher asks every registered plugin for interest,
// builds the shared class representation at most once, runs the interested
// plugins around the pipeline's own transformation step, and folds their
// reported effort into a single skip-or-rewrite directive.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/loom/pkg/audit"
	"github.com/Mindburn-Labs/loom/pkg/classref"
	"github.com/Mindburn-Labs/loom/pkg/observability"
	"github.com/Mindburn-Labs/loom/pkg/plugin"
	"github.com/Mindburn-Labs/loom/pkg/registry"
	"github.com/Mindburn-Labs/loom/pkg/rewrite"
)

var (
	errNilRegistry = errors.New("dispatch: registry must not be nil")
	errNilBuilder  = errors.New("dispatch: node builder must not be nil")
)

// NodeBuilder constructs the mutable class representation plugins operate on.
// For empty classes it returns a synthetic node carrying only the name.
type NodeBuilder interface {
	BuildNode(t classref.Type, empty bool) (plugin.ClassNode, error)
}

// CoreTransformer is the pipeline's own mandatory transformation step, run
// between the before and after plugin phases. Its reported byte change feeds
// the final directive but never the merged effort level.
type CoreTransformer interface {
	Transform(ctx context.Context, node plugin.ClassNode, t classref.Type, reason plugin.Reason) (changed bool, err error)
}

// Directive is the dispatcher's verdict for one class: leave the original
// bytes untouched, or rewrite them with a given serialization effort.
type Directive struct {
	skip  bool
	level rewrite.Level
}

func SkipDirective() Directive {
	return Directive{skip: true}
}

func RewriteDirective(level rewrite.Level) Directive {
	return Directive{level: level}
}

func (d Directive) Skip() bool { return d.skip }

// Level is meaningful only when Skip is false.
func (d Directive) Level() rewrite.Level { return d.level }

func (d Directive) String() string {
	if d.skip {
		return "skip"
	}
	return "rewrite(" + d.level.String() + ")"
}

// Dispatcher runs the plugin protocol for classes entering the pipeline.
// It is safe for concurrent use across classes; a single dispatch runs
// strictly sequentially.
type Dispatcher struct {
	registry *registry.Registry
	builder  NodeBuilder
	core     CoreTransformer
	recorder audit.Recorder
	obs      *observability.Provider
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCoreTransformer sets the pipeline's own transformation step.
func WithCoreTransformer(ct CoreTransformer) Option {
	return func(d *Dispatcher) { d.core = ct }
}

// WithRecorder attaches an audit recorder. Without one, plugin eligibility
// hooks still run but receive a discarding record function.
func WithRecorder(r audit.Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithObservability attaches tracing and metrics. Nil is fine.
func WithObservability(p *observability.Provider) Option {
	return func(d *Dispatcher) { d.obs = p }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func New(reg *registry.Registry, builder NodeBuilder, opts ...Option) (*Dispatcher, error) {
	if reg == nil {
		return nil, errNilRegistry
	}
	if builder == nil {
		return nil, errNilBuilder
	}

	d := &Dispatcher{
		registry: reg,
		builder:  builder,
		logger:   slog.Default().With("component", "dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// interest pairs a plugin with its answer for the class under dispatch.
type interest struct {
	plugin plugin.Plugin
	phases plugin.Phases
}

// Dispatch runs the full protocol for one class and returns the directive.
// Plugin errors abort the dispatch and propagate to the caller verbatim.
func (d *Dispatcher) Dispatch(ctx context.Context, t classref.Type, empty bool, reason plugin.Reason) (Directive, error) {
	className := t.Binary()
	ctx, finish := d.obs.TrackDispatch(ctx, className,
		observability.AttrReason.String(string(reason)),
		observability.AttrClassEmpty.Bool(empty),
	)

	directive, err := d.run(ctx, className, t, empty, reason)
	finish(err)
	if err == nil {
		d.obs.RecordDispatch(ctx,
			observability.AttrReason.String(string(reason)),
			observability.AttrOutcome.String(outcomeAttr(directive)),
		)
	}
	return directive, err
}

func outcomeAttr(d Directive) string {
	if d.Skip() {
		return "skip"
	}
	return d.Level().String()
}

func (d *Dispatcher) run(ctx context.Context, className string, t classref.Type, empty bool, reason plugin.Reason) (Directive, error) {
	plugins := d.registry.All()
	record := d.recordFunc(className)

	// Interest pass. The eligibility hook fires for every plugin right after
	// its own interest answer, interested or not, before any node exists.
	interests := make([]interest, 0, len(plugins))
	anyInterest := false
	for _, p := range plugins {
		phases := p.Handles(t, empty, reason)
		if !phases.IsEmpty() {
			anyInterest = true
			d.logger.DebugContext(ctx, "plugin interested",
				"plugin", p.Name(), "class", className, "phases", phases.String(), "reason", string(reason))
		}
		interests = append(interests, interest{plugin: p, phases: phases})

		if consumer, ok := plugin.As[plugin.AuditConsumer](p); ok {
			consumer.AuditEligible(className, record)
		}
	}

	if !anyInterest {
		return SkipDirective(), nil
	}

	node, err := d.builder.BuildNode(t, empty)
	if err != nil {
		return Directive{}, fmt.Errorf("dispatch: build node for %s: %w", className, err)
	}

	level, err := d.runPhase(ctx, plugin.PhaseBefore, interests, node, t, reason, className)
	if err != nil {
		return Directive{}, err
	}

	changed := false
	if d.core != nil {
		changed, err = d.core.Transform(ctx, node, t, reason)
		if err != nil {
			return Directive{}, err
		}
	}

	afterLevel, err := d.runPhase(ctx, plugin.PhaseAfter, interests, node, t, reason, className)
	if err != nil {
		return Directive{}, err
	}
	level = level.Merge(afterLevel)

	directive := SkipDirective()
	if level != rewrite.LevelNone || changed {
		if changed {
			// A byte-level change with no plugin effort still needs the
			// class serialized again.
			level = level.Merge(rewrite.LevelSimple)
		}
		directive = RewriteDirective(level)
	}

	if d.recorder != nil {
		if directive.Skip() {
			d.recorder.Append(className, []string{"directive", "skip"})
		} else {
			d.recorder.Append(className, []string{"directive", "rewrite", directive.Level().String()})
		}
	}
	d.logger.DebugContext(ctx, "dispatch complete",
		"class", className, "directive", directive.String(), "reason", string(reason))

	return directive, nil
}

// runPhase runs one phase over the interested plugins in registration order,
// merging their reported levels. A plugin error aborts the phase and returns
// unwrapped.
func (d *Dispatcher) runPhase(ctx context.Context, phase plugin.Phase, interests []interest, node plugin.ClassNode, t classref.Type, reason plugin.Reason, className string) (rewrite.Level, error) {
	level := rewrite.LevelNone
	for _, it := range interests {
		if !it.phases.Has(phase) {
			continue
		}

		start := time.Now()
		reported, err := it.plugin.Process(ctx, phase, node, t, reason)
		d.obs.RecordPluginDuration(ctx, time.Since(start),
			observability.PluginAttrs(it.plugin.Name(), phase.String())...)
		if err != nil {
			return level, err
		}

		if d.recorder != nil {
			d.recorder.Append(className, []string{"process", it.plugin.Name(), phase.String(), reported.String()})
		}
		level = level.Merge(reported)
	}
	return level, nil
}

// recordFunc binds the configured recorder to one class for the eligibility
// hook. Without a recorder the hook gets a discard function, never nil.
func (d *Dispatcher) recordFunc(className string) plugin.RecordFunc {
	if d.recorder == nil {
		return func(...string) {}
	}
	return func(fields ...string) {
		d.recorder.Append(className, fields)
	}
}
