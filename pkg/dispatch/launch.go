package dispatch

import (
	"context"

	"github.com/Mindburn-Labs/loom/pkg/plugin"
)

// InitializePlugins runs the one-time launch hooks before any dispatch. Every
// Initializer receives the cycle-guarded loader and the environment's named
// special paths, in registration order. An initialization error aborts the
// launch and propagates verbatim.
func (d *Dispatcher) InitializePlugins(ctx context.Context, loader plugin.TransformerLoader, specialPaths []plugin.NamedPath) error {
	guarded := GuardLoader(loader)
	for _, p := range d.registry.All() {
		init, ok := plugin.As[plugin.Initializer](p)
		if !ok {
			continue
		}
		if err := init.Initialize(ctx, guarded, specialPaths); err != nil {
			return err
		}
		d.logger.DebugContext(ctx, "plugin initialized", "plugin", p.Name())
	}
	return nil
}

// OfferResources hands the environment's scan results to every plugin that
// consumes them, in registration order.
func (d *Dispatcher) OfferResources(resources []plugin.Resource) {
	for _, p := range d.registry.All() {
		if rc, ok := plugin.As[plugin.ResourceConsumer](p); ok {
			rc.OfferResources(resources)
		}
	}
}
