package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/loom/pkg/plugin"
)

// ErrTransformCycle reports a class transitively requesting its own
// transformed bytes, a configuration error that would otherwise recurse until
// the stack runs out.
var ErrTransformCycle = errors.New("dispatch: transformation cycle")

// maxLoaderDepth bounds the in-flight load chain. Chains this deep are cycles
// in disguise even when no single class repeats.
const maxLoaderDepth = 64

type loaderChainKey struct{}

func loaderChain(ctx context.Context) []string {
	chain, _ := ctx.Value(loaderChainKey{}).([]string)
	return chain
}

// GuardLoader wraps a TransformerLoader with cycle detection. The in-flight
// class chain travels in the context, so the guard only works when loader
// implementations and plugins thread the dispatch context through their
// calls.
func GuardLoader(inner plugin.TransformerLoader) plugin.TransformerLoader {
	return &guardedLoader{inner: inner}
}

type guardedLoader struct {
	inner plugin.TransformerLoader
}

func (g *guardedLoader) BuildTransformedClass(ctx context.Context, className string) ([]byte, error) {
	chain := loaderChain(ctx)
	for _, active := range chain {
		if active == className {
			return nil, fmt.Errorf("%w: %s", ErrTransformCycle,
				strings.Join(append(chain, className), " -> "))
		}
	}
	if len(chain) >= maxLoaderDepth {
		return nil, fmt.Errorf("%w: load chain exceeds %d classes while loading %s",
			ErrTransformCycle, maxLoaderDepth, className)
	}

	next := make([]string, len(chain), len(chain)+1)
	copy(next, chain)
	next = append(next, className)

	return g.inner.BuildTransformedClass(context.WithValue(ctx, loaderChainKey{}, next), className)
}
