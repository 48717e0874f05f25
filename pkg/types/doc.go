/*
Package types defines the core data structures used throughout the guardian.

The aggregate root is the Episode: one end-to-end remediation attempt for a
specific failure occurrence. Episodes are owned exclusively by the
orchestrator; every other component receives read-only projections and
returns results, never mutating an Episode directly.

# Core Types

Identity and matching:
  - Signal: one normalized (kind, key, value) tuple from evidence
  - FailureSignature: canonical tuple set + hash, the dedup and runbook key
  - Target: (cluster, namespace, resource) the episode remediates

Remediation:
  - Finding: Analyzer output (root cause, confidence, plan skeleton)
  - Action: atomic execution unit with deterministic idempotency key
  - Plan: ordered action sequence, immutable once approved
  - Runbook: stored pattern → plan template, created from verified successes

Lifecycle:
  - EpisodeState: intake → correlating → planning → risk_gating →
    (awaiting_approval) → executing → verifying → {verified | failed} →
    (learning) → closed, plus aborted from any non-terminal state
  - ExecutionAttempt: per-action audit record
  - Approval: human-in-the-loop decision with approver and timestamp

# Error Taxonomy

ClassifiedError carries one of four classes that decide propagation:
transient_infra (one retry at the executor), permanent (fail immediately),
safety_abort (declined risk), unverified (applied but unconfirmed). Anything
unclassified is treated as permanent so nothing is silently retried.

All types are JSON-serializable and round-trip through the BoltDB store,
preserving plan action order and attempt history.
*/
package types
