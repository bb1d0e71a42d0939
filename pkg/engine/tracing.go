package engine

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const engineTracerName = "spikeflow.engine"

const (
	spanTick     = "engine.tick"
	spanAcquire  = "engine.acquire"
	spanDispatch = "engine.dispatch"
)

func engineTracer() trace.Tracer {
	return otel.Tracer(engineTracerName)
}
