// Package rum provides the Tidemark SDK for embedding real-user-monitoring
// telemetry into Go applications.
//
// The pipeline observes what an application actually experiences, from
// the HTTP requests it makes to the errors it hits, and ships that
// telemetry in the background without ever blocking the application's
// own work.
//
// Key properties:
//   - Durable device and user identity, generated lazily and persisted
//     across restarts
//   - Per-process session tracking with first-session detection
//   - Transparent HTTP interception via pkg/rum/rumhttp (drop-in client
//     wrapper, zero behavior change for existing call sites)
//   - Size- and time-triggered batching with immediate error delivery
//   - At-most-once delivery: failures are logged and dropped, never
//     retried, never surfaced to the application
//   - Deterministic per-session sampling
//
// Basic integration:
//
//	import "github.com/tidemark-io/tidemark/pkg/rum"
//
//	func main() {
//	    pipeline, err := rum.New(rum.Config{
//	        ServiceName: "checkout-app",
//	        Endpoint:    "https://collect.example.com/v1/rum",
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer pipeline.Close()
//
//	    pipeline.TrackEvent("app_started", nil)
//	}
//
// Instrumenting HTTP clients:
//
//	client := rumhttp.NewClient(pipeline)
//	resp, err := client.Get("https://api.example.com/products")
//	// resp and err are exactly what http.Client would have returned;
//	// the request was telemetered on the way through.
//
// The pipeline is silent by default. Pass a zerolog logger in Config to
// see what it is doing:
//
//	pipeline, err := rum.New(rum.Config{
//	    ServiceName: "checkout-app",
//	    Endpoint:    "https://collect.example.com/v1/rum",
//	    Logger:      zerolog.New(os.Stderr).With().Timestamp().Logger(),
//	})
//
// All Track methods are safe for concurrent use and return quickly;
// delivery happens on background goroutines. Close flushes what remains,
// bounded by Config.CloseTimeout.
package rum
