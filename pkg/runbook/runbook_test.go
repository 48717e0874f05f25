package runbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/signature"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/storage"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

func testLibrary(t *testing.T) *Library {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewLibrary(store)
}

func oomSig() types.FailureSignature {
	return signature.Canonicalize([]types.Signal{
		{Kind: "k8s_event", Key: "reason", Value: "OOMKilled"},
	})
}

func checkoutTarget() types.Target {
	return types.Target{Cluster: "prod", Namespace: "payments", Resource: "deployment/checkout"}
}

func memoryFixPlan(target types.Target) *types.Plan {
	params := map[string]string{"container": "app", "memory_limit": "512Mi"}
	return &types.Plan{Actions: []types.Action{
		{
			Kind:           types.ActionPatch,
			Target:         target,
			Parameters:     params,
			RiskTier:       types.RiskMedium,
			IdempotencyKey: types.ComputeIdempotencyKey(types.ActionPatch, target, params),
		},
		{
			Kind:           types.ActionRestart,
			Target:         target,
			RiskTier:       types.RiskLow,
			IdempotencyKey: types.ComputeIdempotencyKey(types.ActionRestart, target, nil),
		},
	}}
}

func TestLookupMiss(t *testing.T) {
	lib := testLibrary(t)

	_, ok, err := lib.Lookup(oomSig())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLookupEmptySignature(t *testing.T) {
	lib := testLibrary(t)

	_, ok, err := lib.Lookup(types.FailureSignature{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordSuccessCreatesVersionOne(t *testing.T) {
	lib := testLibrary(t)
	target := checkoutTarget()

	rb, err := lib.RecordSuccess(oomSig(), target, memoryFixPlan(target), types.RiskMedium)
	require.NoError(t, err)
	assert.Equal(t, 1, rb.Version)
	assert.Equal(t, 1, rb.SuccessCount)
	assert.Equal(t, oomSig().Hash, rb.PatternID)

	// Stored template carries placeholders, not the concrete target.
	patch := rb.PlanTemplate.Actions[0]
	assert.Equal(t, "{{cluster}}", patch.Target.Cluster)
	assert.Equal(t, "{{namespace}}", patch.Target.Namespace)
	assert.Equal(t, "{{resource}}", patch.Target.Resource)
	assert.Equal(t, "512Mi", patch.Parameters["memory_limit"])
}

func TestRecordSuccessIncrementsOnSameTemplate(t *testing.T) {
	lib := testLibrary(t)
	target := checkoutTarget()

	_, err := lib.RecordSuccess(oomSig(), target, memoryFixPlan(target), types.RiskMedium)
	require.NoError(t, err)

	// Same fix applied on a different deployment templatizes identically.
	other := types.Target{Cluster: "prod", Namespace: "search", Resource: "deployment/indexer"}
	rb, err := lib.RecordSuccess(oomSig(), other, memoryFixPlan(other), types.RiskMedium)
	require.NoError(t, err)
	assert.Equal(t, 1, rb.Version)
	assert.Equal(t, 2, rb.SuccessCount)
}

func TestRecordSuccessNewTemplateBumpsVersion(t *testing.T) {
	lib := testLibrary(t)
	target := checkoutTarget()

	_, err := lib.RecordSuccess(oomSig(), target, memoryFixPlan(target), types.RiskMedium)
	require.NoError(t, err)

	scaled := &types.Plan{Actions: []types.Action{{
		Kind:       types.ActionScale,
		Target:     target,
		Parameters: map[string]string{"replicas": "5"},
		RiskTier:   types.RiskMedium,
	}}}
	rb, err := lib.RecordSuccess(oomSig(), target, scaled, types.RiskMedium)
	require.NoError(t, err)
	assert.Equal(t, 2, rb.Version)
	assert.Equal(t, 1, rb.SuccessCount)
	assert.Equal(t, types.ActionScale, rb.PlanTemplate.Actions[0].Kind)
}

func TestLookupAfterRecord(t *testing.T) {
	lib := testLibrary(t)
	target := checkoutTarget()

	_, err := lib.RecordSuccess(oomSig(), target, memoryFixPlan(target), types.RiskMedium)
	require.NoError(t, err)

	rb, ok, err := lib.Lookup(oomSig())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, oomSig().Hash, rb.PatternID)
}

func TestBindRebindsToNewTarget(t *testing.T) {
	source := checkoutTarget()
	template := Templatize(memoryFixPlan(source), source)

	dest := types.Target{Cluster: "staging", Namespace: "search", Resource: "deployment/indexer"}
	plan, err := Bind(template, dest)
	require.NoError(t, err)

	patch := plan.Actions[0]
	assert.Equal(t, dest, patch.Target)
	assert.Equal(t, "app", patch.Parameters["container"])
	assert.Equal(t, types.ComputeIdempotencyKey(types.ActionPatch, dest, patch.Parameters), patch.IdempotencyKey)

	// Binding the same template to two targets yields distinct keys.
	again, err := Bind(template, source)
	require.NoError(t, err)
	assert.NotEqual(t, again.Actions[0].IdempotencyKey, patch.IdempotencyKey)
}

func TestBindUnresolvedPlaceholderFails(t *testing.T) {
	template := &types.Plan{Actions: []types.Action{{
		Kind:       types.ActionPatch,
		Target:     types.Target{Cluster: "{{cluster}}", Namespace: "{{namespace}}", Resource: "{{resource}}"},
		Parameters: map[string]string{"container": "{{container_name}}"},
	}}}

	_, err := Bind(template, checkoutTarget())
	require.Error(t, err)
	assert.Equal(t, types.ErrClassPermanent, types.ClassOf(err))
	assert.Contains(t, err.Error(), "container_name")
}

func TestBindEmptyTargetFieldFails(t *testing.T) {
	source := checkoutTarget()
	template := Templatize(memoryFixPlan(source), source)

	_, err := Bind(template, types.Target{Cluster: "prod", Namespace: "", Resource: "deployment/x"})
	require.Error(t, err)
	assert.Equal(t, types.ErrClassPermanent, types.ClassOf(err))
}
