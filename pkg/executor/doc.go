// Package executor applies remediation plans to a cluster.
//
// Plans run strictly in order. The first action failure halts the plan:
// remaining actions are recorded as skipped and the succeeded prefix is
// rolled back in reverse order using state captured at apply time.
// Transient failures (API throttling, timeouts) are retried exactly once
// per action; permanent failures are not.
//
// KubeApplier is the production Applier, translating actions into
// Kubernetes API calls through client-go.
package executor
