// Package orchestrator owns the remediation episode lifecycle.
//
// A trigger opens an episode: evidence is collected, fingerprinted into a
// failure signature, and deduplicated so at most one episode is active
// per (target, signature). The episode then moves through planning
// (runbook reuse first, fresh analysis otherwise), risk gating with
// optional human approval, sequential execution with rollback, and
// recovery verification. Only a verified success is recorded as a
// runbook; everything else terminates failed or aborted with a reason
// code and a full audit trail.
//
// The orchestrator is the sole writer of episode state. Concurrency is
// bounded by a semaphore; every episode carries a hard time ceiling and
// can be canceled from any non-terminal state.
package orchestrator
