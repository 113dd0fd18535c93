package plugin

import "context"

// Optional capabilities. A plugin opts in by implementing the interface;
// lookups go through As so adapters that wrap another plugin stay
// transparent.

// Extender exposes a plugin-specific extension object to siblings that know
// its concrete type.
type Extender interface {
	Extension() any
}

// Initializer receives the one-time launch hook before any dispatch. The
// loader stays valid for the life of the process and may be retained.
type Initializer interface {
	Initialize(ctx context.Context, loader TransformerLoader, specialPaths []NamedPath) error
}

// RecordFunc appends one audit entry for the class a dispatch is examining.
// Implementations are supplied by the dispatcher and bind the class name.
type RecordFunc func(fields ...string)

// AuditConsumer is offered every dispatched class, interested or not, right
// after the interest query. The record function stays valid only for the
// duration of the call.
type AuditConsumer interface {
	AuditEligible(className string, record RecordFunc)
}

// Resource is a scan result offered to plugins at launch.
type Resource struct {
	Name string
	Path string
}

// ResourceConsumer receives the launch resource scan results.
type ResourceConsumer interface {
	OfferResources(resources []Resource)
}

// Unwrapper is implemented by plugins that decorate another value, so
// capability lookups can reach the wrapped one.
type Unwrapper interface {
	Unwrap() any
}

// As reports whether p, or any plugin it wraps, implements T.
func As[T any](p Plugin) (T, bool) {
	var cur any = p
	for cur != nil {
		if v, ok := cur.(T); ok {
			return v, true
		}
		u, ok := cur.(Unwrapper)
		if !ok {
			break
		}
		cur = u.Unwrap()
	}
	var zero T
	return zero, false
}

// ExtensionOf returns the extension object of p, when it exposes one.
func ExtensionOf(p Plugin) (any, bool) {
	e, ok := As[Extender](p)
	if !ok {
		return nil, false
	}
	return e.Extension(), true
}

// ExtensionAs returns the extension object of p when it has the concrete
// type T.
func ExtensionAs[T any](p Plugin) (T, bool) {
	ext, ok := ExtensionOf(p)
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := ext.(T)
	return v, ok
}
