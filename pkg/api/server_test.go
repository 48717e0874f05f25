package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/analyzer"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/approval"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/config"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/events"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/evidence"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/executor"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/orchestrator"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/risk"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/runbook"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/storage"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

var checkout = types.Target{Cluster: "prod", Namespace: "payments", Resource: "deployment/checkout"}

type stubCollector struct{}

func (stubCollector) Collect(ctx context.Context, target types.Target, w evidence.Window) (*evidence.Snapshot, error) {
	return &evidence.Snapshot{
		Target: target,
		Events: []evidence.KubeEvent{{Reason: "OOMKilled", Count: 2}},
	}, nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(ctx context.Context, snap *evidence.Snapshot, sig types.FailureSignature) (*types.Finding, error) {
	return &types.Finding{
		RootCause:  "memory limit too low",
		Confidence: 0.9,
		SuggestedPlan: &types.Plan{Actions: []types.Action{{
			Kind:           types.ActionRestart,
			Target:         snap.Target,
			IdempotencyKey: types.ComputeIdempotencyKey(types.ActionRestart, snap.Target, nil),
		}}},
	}, nil
}

type stubApplier struct {
	mu      sync.Mutex
	applied int
}

func (a *stubApplier) Apply(ctx context.Context, action types.Action) (executor.RollbackData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied++
	return executor.RollbackData{}, nil
}

func (a *stubApplier) Rollback(ctx context.Context, action types.Action, data executor.RollbackData) error {
	return nil
}

type stubVerifier struct{}

func (stubVerifier) Verify(ctx context.Context, episodeID string, target types.Target, original types.FailureSignature) (bool, error) {
	return true, nil
}

type testServer struct {
	srv   *Server
	store storage.Store
	lib   *runbook.Library
}

func newTestServer(t *testing.T, mode types.AutonomyMode) *testServer {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	lib := runbook.NewLibrary(store)
	orch := orchestrator.New(orchestrator.Deps{
		Store:     store,
		Collector: stubCollector{},
		Analyzer:  stubAnalyzer{},
		Risk:      risk.NewClassifier(),
		Gate:      approval.NewChannelGate(nil),
		Executor:  executor.New(&stubApplier{}, time.Second),
		Verifier:  stubVerifier{},
		Runbooks:  lib,
		Broker:    broker,
	}, config.OrchestratorConfig{
		AutonomyMode:        mode,
		ConfidenceThreshold: 0.6,
		MaxConcurrent:       5,
		ApprovalTimeout:     2 * time.Second,
		EpisodeTimeout:      5 * time.Second,
		EvidenceWindow:      time.Minute,
	})

	return &testServer{
		srv:   NewServer("127.0.0.1:0", orch, store, lib, broker),
		store: store,
		lib:   lib,
	}
}

var _ analyzer.Analyzer = stubAnalyzer{}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.srv.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func (ts *testServer) waitTerminal(t *testing.T, id string) *types.Episode {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ep, err := ts.store.GetEpisode(id)
		require.NoError(t, err)
		if ep.State.Terminal() {
			return ep
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("episode %s never reached a terminal state", id)
	return nil
}

func triggerBody() map[string]any {
	return map[string]any{
		"target": map[string]string{
			"cluster":   checkout.Cluster,
			"namespace": checkout.Namespace,
			"resource":  checkout.Resource,
		},
	}
}

func TestTriggerCreatesEpisode(t *testing.T) {
	ts := newTestServer(t, types.ModeAuto)

	w := ts.do(t, http.MethodPost, "/v1/triggers", triggerBody())
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Episode types.Episode `json:"episode"`
		Created bool          `json:"created"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Created)
	assert.NotEmpty(t, resp.Episode.ID)

	final := ts.waitTerminal(t, resp.Episode.ID)
	assert.Equal(t, types.StateClosed, final.State)
}

func TestTriggerRejectsBadBody(t *testing.T) {
	ts := newTestServer(t, types.ModeAuto)

	w := ts.do(t, http.MethodPost, "/v1/triggers", map[string]any{"target": map[string]string{"cluster": "prod"}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetEpisodeNotFound(t *testing.T) {
	ts := newTestServer(t, types.ModeAuto)

	w := ts.do(t, http.MethodGet, "/v1/episodes/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApproveFlow(t *testing.T) {
	ts := newTestServer(t, types.ModeApprove)

	w := ts.do(t, http.MethodPost, "/v1/triggers", triggerBody())
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Episode types.Episode `json:"episode"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	id := resp.Episode.ID

	// Wait until the gate is open.
	deadline := time.Now().Add(5 * time.Second)
	for {
		ep, err := ts.store.GetEpisode(id)
		require.NoError(t, err)
		if ep.State == types.StateAwaitingApproval {
			break
		}
		require.True(t, time.Now().Before(deadline), "gate never opened")
		time.Sleep(5 * time.Millisecond)
	}

	w = ts.do(t, http.MethodPost, "/v1/episodes/"+id+"/approve", map[string]string{"approver": "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	final := ts.waitTerminal(t, id)
	assert.Equal(t, types.StateClosed, final.State)
	require.NotNil(t, final.Approval)
	assert.Equal(t, "alice", final.Approval.Approver)
}

func TestApproveWithoutPendingGateConflicts(t *testing.T) {
	ts := newTestServer(t, types.ModeAuto)

	w := ts.do(t, http.MethodPost, "/v1/episodes/nope/approve", map[string]string{"approver": "alice"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestApproveRequiresApprover(t *testing.T) {
	ts := newTestServer(t, types.ModeAuto)

	w := ts.do(t, http.MethodPost, "/v1/episodes/x/approve", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelInactiveConflicts(t *testing.T) {
	ts := newTestServer(t, types.ModeAuto)

	w := ts.do(t, http.MethodPost, "/v1/episodes/nope/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListEpisodesByState(t *testing.T) {
	ts := newTestServer(t, types.ModeAuto)

	w := ts.do(t, http.MethodPost, "/v1/triggers", triggerBody())
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		Episode types.Episode `json:"episode"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	ts.waitTerminal(t, resp.Episode.ID)

	w = ts.do(t, http.MethodGet, "/v1/episodes?state=closed", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Episodes []types.Episode `json:"episodes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Episodes, 1)
	assert.Equal(t, resp.Episode.ID, list.Episodes[0].ID)
}

func TestRunbookEndpoints(t *testing.T) {
	ts := newTestServer(t, types.ModeAuto)

	// A verified episode leaves a runbook behind.
	w := ts.do(t, http.MethodPost, "/v1/triggers", triggerBody())
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		Episode types.Episode `json:"episode"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	final := ts.waitTerminal(t, resp.Episode.ID)
	require.Equal(t, types.StateClosed, final.State)

	w = ts.do(t, http.MethodGet, "/v1/runbooks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runbooks []types.Runbook `json:"runbooks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Runbooks, 1)

	w = ts.do(t, http.MethodGet, "/v1/runbooks/"+list.Runbooks[0].PatternID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/runbooks/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, types.ModeAuto)

	w := ts.do(t, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "guardian_")
}
