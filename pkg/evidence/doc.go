/*
Package evidence collects failure evidence and derives failure signatures.

A Snapshot bundles the logs, Kubernetes events, pod states and metric points
observed for a target within a time window. Collectors are strictly
read-only and idempotent; the orchestrator calls them at intake (to
fingerprint the failure) and during verification (to confirm recovery).

DeriveSignature maps failure indicators found in a snapshot (OOM kills,
image pull failures, probe failures, crash loops, network errors, disk
pressure, API throttling) to normalized signal tuples and canonicalizes
them, so the same failure observed through logs or through events converges
on the same signature hash.

KubeCollector is the production implementation over client-go. Tests and dry
runs use CollectorFunc with canned snapshots.
*/
package evidence
