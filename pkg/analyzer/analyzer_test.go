package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/evidence"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/signature"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

var testTarget = types.Target{Cluster: "prod", Namespace: "payments", Resource: "deployment/checkout"}

func sigFor(signals ...types.Signal) types.FailureSignature {
	return signature.Canonicalize(signals)
}

func snapFor() *evidence.Snapshot {
	return &evidence.Snapshot{Target: testTarget}
}

func TestRulesOOMSuggestsPatchThenRestart(t *testing.T) {
	r := NewRulesAnalyzer()
	sig := sigFor(types.Signal{Kind: "k8s_event", Key: "reason", Value: "OOMKilled"})

	finding, err := r.Analyze(context.Background(), snapFor(), sig)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, finding.Confidence, 0.6)
	assert.NotEmpty(t, finding.EvidenceRefs)
	require.NotNil(t, finding.SuggestedPlan)
	require.Len(t, finding.SuggestedPlan.Actions, 2)
	assert.Equal(t, types.ActionPatch, finding.SuggestedPlan.Actions[0].Kind)
	assert.Equal(t, types.ActionRestart, finding.SuggestedPlan.Actions[1].Kind)
	assert.Equal(t, testTarget, finding.SuggestedPlan.Actions[0].Target)
	assert.NotEmpty(t, finding.SuggestedPlan.Actions[0].IdempotencyKey)
}

func TestRulesImagePullNoPlanLowConfidence(t *testing.T) {
	r := NewRulesAnalyzer()
	sig := sigFor(types.Signal{Kind: "log", Key: "pattern", Value: "image_pull_error"})

	finding, err := r.Analyze(context.Background(), snapFor(), sig)
	require.NoError(t, err)
	assert.Nil(t, finding.SuggestedPlan)
	assert.Less(t, finding.Confidence, 0.6)
}

func TestRulesCrashLoopRestart(t *testing.T) {
	r := NewRulesAnalyzer()
	sig := sigFor(types.Signal{Kind: "k8s_event", Key: "reason", Value: "CrashLoopBackOff"})

	finding, err := r.Analyze(context.Background(), snapFor(), sig)
	require.NoError(t, err)
	require.NotNil(t, finding.SuggestedPlan)
	require.Len(t, finding.SuggestedPlan.Actions, 1)
	assert.Equal(t, types.ActionRestart, finding.SuggestedPlan.Actions[0].Kind)
}

func TestRulesUnknownSignature(t *testing.T) {
	r := NewRulesAnalyzer()
	sig := sigFor(types.Signal{Kind: "log", Key: "pattern", Value: "something_novel"})

	finding, err := r.Analyze(context.Background(), snapFor(), sig)
	require.NoError(t, err)
	assert.Nil(t, finding.SuggestedPlan)
	assert.Less(t, finding.Confidence, 0.5)
}

type erroringAnalyzer struct{ err error }

func (e *erroringAnalyzer) Analyze(ctx context.Context, snap *evidence.Snapshot, sig types.FailureSignature) (*types.Finding, error) {
	return nil, e.err
}

func TestChainFallsBackOnError(t *testing.T) {
	chain := NewChain(
		&erroringAnalyzer{err: types.TransientErr("analyze", errors.New("endpoint down"))},
		NewRulesAnalyzer(),
	)
	sig := sigFor(types.Signal{Kind: "k8s_event", Key: "reason", Value: "OOMKilled"})

	finding, err := chain.Analyze(context.Background(), snapFor(), sig)
	require.NoError(t, err)
	assert.NotNil(t, finding.SuggestedPlan)
}

func TestChainAllFail(t *testing.T) {
	boom := errors.New("endpoint down")
	chain := NewChain(&erroringAnalyzer{err: boom}, &erroringAnalyzer{err: boom})

	_, err := chain.Analyze(context.Background(), snapFor(), types.FailureSignature{})
	require.Error(t, err)
}

func TestParseFindingValid(t *testing.T) {
	raw := `{
		"root_cause": "memory limit too low",
		"confidence": 0.82,
		"actions": [
			{"kind": "patch_deployment", "parameters": {"container": "app", "memory_limit": "1Gi"}},
			{"kind": "rollout_restart"}
		]
	}`
	finding, err := parseFinding(raw, testTarget)
	require.NoError(t, err)

	assert.Equal(t, "memory limit too low", finding.RootCause)
	assert.InDelta(t, 0.82, finding.Confidence, 1e-9)
	require.NotNil(t, finding.SuggestedPlan)
	require.Len(t, finding.SuggestedPlan.Actions, 2)
	assert.Equal(t, "1Gi", finding.SuggestedPlan.Actions[0].Parameters["memory_limit"])
	assert.Equal(t, testTarget, finding.SuggestedPlan.Actions[1].Target)
}

func TestParseFindingNoActions(t *testing.T) {
	finding, err := parseFinding(`{"root_cause": "transient blip", "confidence": 0.3}`, testTarget)
	require.NoError(t, err)
	assert.Nil(t, finding.SuggestedPlan)
}

func TestParseFindingRejectsUnknownKind(t *testing.T) {
	raw := `{"root_cause": "x", "confidence": 0.9, "actions": [{"kind": "delete_namespace"}]}`
	_, err := parseFinding(raw, testTarget)
	require.Error(t, err)
	assert.Equal(t, types.ErrClassPermanent, types.ClassOf(err))
}

func TestParseFindingRejectsMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"confidence": 0.9}`,
		`{"root_cause": "x", "confidence": 1.5}`,
		`{"root_cause": "x", "confidence": -0.1}`,
	}
	for _, raw := range cases {
		_, err := parseFinding(raw, testTarget)
		assert.Error(t, err, raw)
	}
}
