package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Mindburn-Labs/loom/pkg/audit"
	"github.com/Mindburn-Labs/loom/pkg/cache"
	"github.com/Mindburn-Labs/loom/pkg/canonicalize"
	"github.com/Mindburn-Labs/loom/pkg/classref"
	"github.com/Mindburn-Labs/loom/pkg/dispatch"
	"github.com/Mindburn-Labs/loom/pkg/plugin"
	"github.com/Mindburn-Labs/loom/pkg/registry"
	"github.com/Mindburn-Labs/loom/pkg/rewrite"
)

// demoNode is the class representation for the walkthrough: a name and the
// visibility of its members. Real embeddings bring their own builder.
type demoNode struct {
	className string
	access    map[string]string
}

func (n *demoNode) ClassName() string { return n.className }

type demoBuilder struct{}

func (demoBuilder) BuildNode(t classref.Type, empty bool) (plugin.ClassNode, error) {
	return &demoNode{className: t.Binary(), access: map[string]string{}}, nil
}

// demoMixin injects a handler member into application classes before the
// core pass. Main needs new frames for it; everything else is a byte patch.
type demoMixin struct{}

func (demoMixin) Name() string { return "mixin" }

func (demoMixin) Handles(t classref.Type, _ bool, _ plugin.Reason) plugin.Phases {
	if strings.HasPrefix(t.Internal(), "demo/app/") {
		return plugin.PhaseSet(plugin.PhaseBefore)
	}
	return plugin.NoPhases
}

func (demoMixin) Process(_ context.Context, _ plugin.Phase, node plugin.ClassNode, t classref.Type, _ plugin.Reason) (rewrite.Level, error) {
	n := node.(*demoNode)
	n.access["mixin$handler"] = "private"
	if t.Simple() == "Main" {
		return rewrite.LevelComputeFrames, nil
	}
	return rewrite.LevelSimple, nil
}

func (demoMixin) AuditEligible(className string, record plugin.RecordFunc) {
	record("mixin:eligible")
}

// demoWidener opens up access on everything the mixin touched, after the
// core pass so it sees the injected members.
type demoWidener struct{}

func (demoWidener) Name() string { return "accesswidener" }

func (demoWidener) Handles(t classref.Type, _ bool, _ plugin.Reason) plugin.Phases {
	if strings.HasPrefix(t.Internal(), "demo/") {
		return plugin.PhaseSet(plugin.PhaseAfter)
	}
	return plugin.NoPhases
}

func (demoWidener) Process(_ context.Context, _ plugin.Phase, node plugin.ClassNode, _ classref.Type, _ plugin.Reason) (rewrite.Level, error) {
	n := node.(*demoNode)
	for member, vis := range n.access {
		if vis == "private" {
			n.access[member] = "public"
		}
	}
	return rewrite.LevelSimple, nil
}

// demoCore stands in for the pipeline's own transformation step.
type demoCore struct{}

func (demoCore) Transform(_ context.Context, _ plugin.ClassNode, t classref.Type, _ plugin.Reason) (bool, error) {
	return strings.HasPrefix(t.Internal(), "demo/app/"), nil
}

// runDemoCmd implements `loom demo`.
//
// Registers two sample plugins, dispatches a handful of classes twice with
// a transformed-class cache in between, and shows the directives and the
// hash-chained trail that came out of it.
//
// Exit codes:
//
//	0 = demo completed
//	2 = runtime error
func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	trail := audit.NewTrail()
	reg := registry.New()
	for _, p := range []plugin.Plugin{demoMixin{}, demoWidener{}} {
		if err := reg.Register(p); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: register %s: %v\n", p.Name(), err)
			return 2
		}
	}

	disp, err := dispatch.New(reg, demoBuilder{},
		dispatch.WithRecorder(trail),
		dispatch.WithCoreTransformer(demoCore{}),
	)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	// The cache sits in front of the dispatcher the way a launcher would
	// use it: a warm class skips the whole pipeline.
	names := make([]string, 0, reg.Len())
	for _, p := range reg.All() {
		names = append(names, p.Name())
	}
	configDigest, err := canonicalize.CanonicalHash(map[string]any{"plugins": names})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	store := cache.NewMemory(64)

	var hits int
	resolve := func(name string) (string, bool, error) {
		key := cache.Key(name, configDigest)
		if data, ok, err := store.Get(ctx, key); err == nil && ok {
			var cached struct {
				Directive string `json:"directive"`
			}
			if json.Unmarshal(data, &cached) == nil {
				hits++
				return cached.Directive, true, nil
			}
		}
		directive, err := disp.Dispatch(ctx, classref.FromBinary(name), false, plugin.ReasonClassloading)
		if err != nil {
			return "", false, err
		}
		if !directive.Skip() {
			data, _ := json.Marshal(map[string]string{"directive": directive.String()})
			_ = store.Put(ctx, key, data)
		}
		return directive.String(), false, nil
	}

	classes := []string{"demo.app.Main", "demo.app.Service", "demo.lib.Util", "java.lang.String"}
	directives := make(map[string]string, len(classes))

	if !jsonOutput {
		_, _ = fmt.Fprintf(stdout, "%sDispatching %d classes through the pipeline%s\n\n", ColorBold+ColorBlue, len(classes), ColorReset)
	}
	for _, name := range classes {
		directive, _, err := resolve(name)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: dispatch %s: %v\n", name, err)
			return 2
		}
		directives[name] = directive
		if !jsonOutput {
			_, _ = fmt.Fprintf(stdout, "  %s%-20s%s %s\n", ColorGreen, name, ColorReset, directive)
		}
	}

	if !jsonOutput {
		_, _ = fmt.Fprintf(stdout, "\n%sSecond load, warm cache%s\n\n", ColorBold+ColorBlue, ColorReset)
	}
	for _, name := range classes {
		directive, cached, err := resolve(name)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: dispatch %s: %v\n", name, err)
			return 2
		}
		if !jsonOutput {
			note := ""
			if cached {
				note = ColorGray + " (cache hit)" + ColorReset
			}
			_, _ = fmt.Fprintf(stdout, "  %s%-20s%s %s%s\n", ColorGreen, name, ColorReset, directive, note)
		}
	}

	chainErr := trail.VerifyChain()

	if jsonOutput {
		result := map[string]any{
			"classes":       directives,
			"cache_hits":    hits,
			"trail_entries": trail.Size(),
			"chain_head":    trail.Head(),
			"chain_ok":      chainErr == nil,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintln(stdout, "")
	printSection(stdout, "AUDIT TRAIL")
	for _, e := range trail.Query(audit.Filter{}) {
		_, _ = fmt.Fprintf(stdout, "  %s#%02d %-20s %s%s\n", ColorGray, e.Sequence, e.ClassName, strings.Join(e.Fields, " "), ColorReset)
	}
	if chainErr == nil {
		_, _ = fmt.Fprintf(stdout, "\n%d entries, chain verified, head %s\n", trail.Size(), trail.Head())
	} else {
		_, _ = fmt.Fprintf(stdout, "\n%schain broken:%s %v\n", ColorBold+ColorRed, ColorReset, chainErr)
		return 2
	}
	return 0
}
