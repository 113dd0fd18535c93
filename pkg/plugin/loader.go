package plugin

import (
	"context"
	"errors"
)

// ErrClassNotFound is returned by a TransformerLoader when the requested
// class cannot be located. Callers are expected to treat it as recoverable.
var ErrClassNotFound = errors.New("class not found")

// NamedPath is a named group of code locations the pipeline wants plugins to
// treat specially, handed over at launch.
type NamedPath struct {
	Name  string
	Paths []string
}

// TransformerLoader lets a plugin obtain the fully transformed bytes of
// another class. Calls are synchronous and may recurse into transformation;
// implementations must propagate ctx into any transformation they trigger so
// the dispatcher can detect self-referential chains.
type TransformerLoader interface {
	BuildTransformedClass(ctx context.Context, className string) ([]byte, error)
}

// LoaderFunc adapts a function to the TransformerLoader interface.
type LoaderFunc func(ctx context.Context, className string) ([]byte, error)

func (f LoaderFunc) BuildTransformedClass(ctx context.Context, className string) ([]byte, error) {
	return f(ctx, className)
}
