// Package api exposes the HTTP control surface for the remediation
// daemon: trigger intake, episode inspection, approval decisions,
// runbook browsing, an event stream, and the health/metrics endpoints.
//
// All mutation goes through the orchestrator; the API never writes
// episode state itself.
package api
