// Package observability: pipeline-specific attribute conventions.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for the transformation pipeline.
var (
	AttrClassName    = attribute.Key("loom.class.name")
	AttrClassPackage = attribute.Key("loom.class.package")
	AttrClassEmpty   = attribute.Key("loom.class.empty")

	AttrReason  = attribute.Key("loom.dispatch.reason")
	AttrOutcome = attribute.Key("loom.dispatch.outcome")
	AttrLevel   = attribute.Key("loom.dispatch.level")

	AttrPluginName  = attribute.Key("loom.plugin.name")
	AttrPluginPhase = attribute.Key("loom.plugin.phase")
)

// DispatchAttrs builds the attribute set for one dispatch.
func DispatchAttrs(className, pkg, reason string, empty bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrClassName.String(className),
		AttrClassPackage.String(pkg),
		AttrReason.String(reason),
		AttrClassEmpty.Bool(empty),
	}
}

// PluginAttrs builds the attribute set for one plugin invocation.
func PluginAttrs(pluginName, phase string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPluginName.String(pluginName),
		AttrPluginPhase.String(phase),
	}
}

// AddSpanEvent adds an event to the span carried by ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
