// Package prometheus renders authcore metrics in Prometheus text exposition format.
//
// [NewPrometheusExporter] wraps an [authcore.Engine] and exposes an [http.Handler].
// Counter names are authcore_*_total; the single histogram is
// authcore_validate_latency_seconds.
//
// The exporter never registers in a global registry and never mutates the engine.
package prometheus
