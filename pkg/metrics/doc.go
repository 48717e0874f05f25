// Package metrics exposes Prometheus instrumentation and health/readiness
// endpoints for the remediation daemon.
//
// Counters and histograms are updated inline by the orchestrator, executor,
// and API; state gauges are refreshed by a background Collector polling the
// episode store every 15 seconds. Handler serves the standard /metrics
// endpoint; HealthHandler, ReadyHandler, and LivenessHandler back the
// health surface.
//
// Readiness requires the storage, kube, and api components to have
// registered healthy via RegisterComponent.
package metrics
