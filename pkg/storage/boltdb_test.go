package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEpisodeRoundTrip(t *testing.T) {
	store := newTestStore(t)

	verified := true
	ep := &types.Episode{
		ID: "ep-1",
		Signature: types.FailureSignature{
			Signals: []types.Signal{{Kind: "k8s_event", Key: "reason", Value: "oomkilled"}},
			Hash:    "abc123",
		},
		Target:       types.Target{Cluster: "prod", Namespace: "default", Resource: "my-app"},
		State:        types.StateVerified,
		AutonomyMode: types.ModeAuto,
		RiskTier:     types.RiskLow,
		Plan: &types.Plan{Actions: []types.Action{
			{Kind: types.ActionPatch, Parameters: map[string]string{"memory_limit": "1Gi"}},
			{Kind: types.ActionRestart},
		}},
		Attempts: []types.ExecutionAttempt{
			{Action: types.Action{Kind: types.ActionPatch}, Outcome: types.OutcomeSuccess},
			{Action: types.Action{Kind: types.ActionRestart}, Outcome: types.OutcomeSuccess},
		},
		Verified:  &verified,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateEpisode(ep))

	got, err := store.GetEpisode("ep-1")
	require.NoError(t, err)

	assert.Equal(t, ep.Signature.Hash, got.Signature.Hash)
	// Plan action order and attempt history must survive persistence.
	require.NotNil(t, got.Plan)
	require.Len(t, got.Plan.Actions, 2)
	assert.Equal(t, types.ActionPatch, got.Plan.Actions[0].Kind)
	assert.Equal(t, types.ActionRestart, got.Plan.Actions[1].Kind)
	require.Len(t, got.Attempts, 2)
	assert.Equal(t, types.OutcomeSuccess, got.Attempts[0].Outcome)
	require.NotNil(t, got.Verified)
	assert.True(t, *got.Verified)
}

func TestGetEpisodeNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetEpisode("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListEpisodesByState(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateEpisode(&types.Episode{ID: "a", State: types.StateExecuting}))
	require.NoError(t, store.CreateEpisode(&types.Episode{ID: "b", State: types.StateFailed}))
	require.NoError(t, store.CreateEpisode(&types.Episode{ID: "c", State: types.StateExecuting}))

	executing, err := store.ListEpisodesByState(types.StateExecuting)
	require.NoError(t, err)
	assert.Len(t, executing, 2)

	failed, err := store.ListEpisodesByState(types.StateFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestRunbookRoundTripAndIncrement(t *testing.T) {
	store := newTestStore(t)

	rb := &types.Runbook{
		PatternID: "deadbeef-v1",
		Version:   1,
		PlanTemplate: types.Plan{Actions: []types.Action{
			{Kind: types.ActionPatch, Parameters: map[string]string{"resource": "{{resource}}"}},
		}},
		RiskTier:     types.RiskLow,
		SuccessCount: 1,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.PutRunbook(rb))

	require.NoError(t, store.IncrementRunbookSuccess("deadbeef-v1"))
	require.NoError(t, store.IncrementRunbookSuccess("deadbeef-v1"))

	got, err := store.GetRunbook("deadbeef-v1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.SuccessCount)
	assert.False(t, got.LastUsedAt.IsZero())
	// Template untouched by counter updates.
	assert.Equal(t, "{{resource}}", got.PlanTemplate.Actions[0].Parameters["resource"])
}

func TestIncrementMissingRunbook(t *testing.T) {
	store := newTestStore(t)

	err := store.IncrementRunbookSuccess("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
