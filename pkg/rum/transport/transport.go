// Package transport delivers composed telemetry to a backend.
//
// Sinks are at-most-once: a failed send surfaces as an error to the
// caller, which logs and drops the payload. Nothing in this package
// retries.
package transport

import (
	"context"

	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
)

// Sink is the delivery boundary of the pipeline. Implementations must be
// safe for concurrent use. A sink that holds resources should also
// implement io.Closer; the pipeline closes it on shutdown.
type Sink interface {
	SendEvent(ctx context.Context, event telemetry.Event) error
	SendBatch(ctx context.Context, batch telemetry.Batch) error
}
