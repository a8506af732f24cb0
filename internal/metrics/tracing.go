package metrics

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "github.com/jonesrussell/north-cloud/sniper"

// Tracer returns the engine tracer from the global provider. Without an
// installed SDK it is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
