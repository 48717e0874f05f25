// Package events provides the in-process audit stream for episode
// lifecycle activity. The orchestrator publishes state transitions,
// approval outcomes, and action results; the API's watch endpoint and
// any notifier subscribe. Delivery is best-effort: a slow subscriber
// drops events rather than blocking remediation.
package events
