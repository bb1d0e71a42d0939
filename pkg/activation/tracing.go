package activation

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "spikeflow.activation"

const spanFire = "state.fire"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
