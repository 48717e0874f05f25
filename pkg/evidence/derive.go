package evidence

import (
	"regexp"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/signature"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// Failure patterns recognized in log messages. Mirrors the event reasons the
// pod status scan looks for, so log-only and event-only evidence converge on
// the same signature.
var logPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"oom_killed", regexp.MustCompile(`OOMKilled|OutOfMemory|memory limit exceeded`)},
	{"image_pull_error", regexp.MustCompile(`ImagePullBackOff|ErrImagePull|Failed to pull image`)},
	{"probe_failure", regexp.MustCompile(`Readiness probe failed|Liveness probe failed|health check failed`)},
	{"crash_loop", regexp.MustCompile(`CrashLoopBackOff|Back-off restarting failed container`)},
	{"network_error", regexp.MustCompile(`connection refused|i/o timeout|DNS error|network error`)},
	{"disk_pressure", regexp.MustCompile(`disk pressure|no space left|filesystem full`)},
	{"api_throttling", regexp.MustCompile(`Throttling|TooManyRequests|rate exceeded`)},
}

// Event reasons that indicate a failure condition rather than noise.
var failureEventReasons = map[string]struct{}{
	"OOMKilled":          {},
	"OOMKilling":         {},
	"BackOff":            {},
	"CrashLoopBackOff":   {},
	"Failed":             {},
	"FailedScheduling":   {},
	"FailedMount":        {},
	"Unhealthy":          {},
	"NodeNotReady":       {},
	"ImagePullBackOff":   {},
	"ErrImagePull":       {},
	"Evicted":            {},
	"FailedCreate":       {},
	"NodeMemoryPressure": {},
	"NodeDiskPressure":   {},
}

// DeriveSignature extracts the failure signature from a snapshot. Signals
// come from matched log patterns, failure-class event reasons, and pod
// container states; the result is canonicalized so it can be compared by
// hash.
func DeriveSignature(snap *Snapshot) types.FailureSignature {
	var signals []types.Signal

	for _, line := range snap.Logs {
		for _, p := range logPatterns {
			if p.re.MatchString(line.Message) {
				signals = append(signals, types.Signal{Kind: "log", Key: "pattern", Value: p.name})
			}
		}
	}

	for _, ev := range snap.Events {
		if _, ok := failureEventReasons[ev.Reason]; !ok {
			continue
		}
		signals = append(signals, types.Signal{Kind: "k8s_event", Key: "reason", Value: ev.Reason})
		if ev.Kind != "" {
			signals = append(signals, types.Signal{Kind: "k8s_event", Key: "kind", Value: ev.Kind})
		}
	}

	for _, pod := range snap.Pods {
		if pod.TerminatedReason != "" {
			signals = append(signals, types.Signal{Kind: "pod", Key: "terminated_reason", Value: pod.TerminatedReason})
		}
		if pod.WaitingReason != "" {
			signals = append(signals, types.Signal{Kind: "pod", Key: "waiting_reason", Value: pod.WaitingReason})
		}
		if pod.Phase == "Failed" || pod.Phase == "Pending" && !pod.Ready {
			signals = append(signals, types.Signal{Kind: "pod", Key: "phase", Value: pod.Phase})
		}
	}

	return signature.Canonicalize(signals)
}
