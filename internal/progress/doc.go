// Package progress provides the event primitives and the non-blocking hub the
// harvester uses to report run, attempt and target milestones. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// structured logs or per-site Prometheus collectors.
package progress
