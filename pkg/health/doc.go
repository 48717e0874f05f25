// Package health probes the guardian's external dependencies (the
// Kubernetes API server, the analyzer endpoint) and reflects probe
// outcomes into the readiness components served by pkg/metrics.
package health
