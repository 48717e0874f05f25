package analyzer

import (
	"context"
	"fmt"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/evidence"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// rule maps signal values to a diagnosis. Values are matched against the
// canonicalized (lowercased) signature signals, so both the log pattern
// name and the raw event reason are listed.
type rule struct {
	matches    []string
	rootCause  string
	confidence float64
	plan       func(target types.Target) *types.Plan
}

var rules = []rule{
	{
		matches:    []string{"oom_killed", "oomkilled", "oomkilling"},
		rootCause:  "container killed by the OOM killer, memory limit too low for the workload",
		confidence: 0.75,
		plan: func(target types.Target) *types.Plan {
			return buildPlan(target,
				planStep{types.ActionPatch, map[string]string{"container": "app", "memory_limit": "1Gi"}},
				planStep{types.ActionRestart, nil},
			)
		},
	},
	{
		matches:    []string{"crash_loop", "crashloopbackoff", "backoff"},
		rootCause:  "container crash looping, likely a bad startup or stale state",
		confidence: 0.65,
		plan: func(target types.Target) *types.Plan {
			return buildPlan(target, planStep{types.ActionRestart, nil})
		},
	},
	{
		matches:    []string{"probe_failure", "unhealthy"},
		rootCause:  "liveness or readiness probe failing, service not responding on its health endpoint",
		confidence: 0.7,
		plan: func(target types.Target) *types.Plan {
			return buildPlan(target, planStep{types.ActionRestart, nil})
		},
	},
	{
		matches:    []string{"image_pull_error", "imagepullbackoff", "errimagepull"},
		rootCause:  "image pull failing, likely a bad tag or registry credentials",
		confidence: 0.5,
		plan:       nil,
	},
	{
		matches:    []string{"network_error"},
		rootCause:  "downstream connectivity failing, possibly stale DNS or connection pool state",
		confidence: 0.6,
		plan: func(target types.Target) *types.Plan {
			return buildPlan(target, planStep{types.ActionRestart, nil})
		},
	},
	{
		matches:    []string{"disk_pressure", "nodediskpressure", "evicted"},
		rootCause:  "node under disk pressure, pods being evicted",
		confidence: 0.7,
		plan:       nil,
	},
	{
		matches:    []string{"api_throttling"},
		rootCause:  "API rate limiting, load exceeds provisioned throughput",
		confidence: 0.4,
		plan:       nil,
	},
}

type planStep struct {
	kind   types.ActionKind
	params map[string]string
}

func buildPlan(target types.Target, steps ...planStep) *types.Plan {
	plan := &types.Plan{}
	for _, s := range steps {
		plan.Actions = append(plan.Actions, types.Action{
			Kind:           s.kind,
			Target:         target,
			Parameters:     s.params,
			IdempotencyKey: types.ComputeIdempotencyKey(s.kind, target, s.params),
		})
	}
	return plan
}

// RulesAnalyzer diagnoses from the signature alone using a fixed pattern
// table. It needs no network and serves as the fallback when the model
// analyzer is unavailable.
type RulesAnalyzer struct{}

// NewRulesAnalyzer creates the rules fallback.
func NewRulesAnalyzer() *RulesAnalyzer {
	return &RulesAnalyzer{}
}

func (r *RulesAnalyzer) Analyze(ctx context.Context, snap *evidence.Snapshot, sig types.FailureSignature) (*types.Finding, error) {
	present := make(map[string]struct{}, len(sig.Signals))
	refs := make([]string, 0, len(sig.Signals))
	for _, s := range sig.Signals {
		present[s.Value] = struct{}{}
		refs = append(refs, fmt.Sprintf("%s:%s=%s", s.Kind, s.Key, s.Value))
	}

	// First rule whose any match is present wins; the table is ordered
	// most-specific first.
	for _, rl := range rules {
		for _, m := range rl.matches {
			if _, ok := present[m]; !ok {
				continue
			}
			finding := &types.Finding{
				RootCause:    rl.rootCause,
				Confidence:   rl.confidence,
				EvidenceRefs: refs,
			}
			if rl.plan != nil {
				finding.SuggestedPlan = rl.plan(snap.Target)
			}
			return finding, nil
		}
	}

	return &types.Finding{
		RootCause:    "no recognized failure pattern in collected evidence",
		Confidence:   0.2,
		EvidenceRefs: refs,
	}, nil
}
