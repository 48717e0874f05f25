package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, types.ModeApprove, cfg.Orchestrator.AutonomyMode)
	assert.Equal(t, 0.6, cfg.Orchestrator.ConfidenceThreshold)
	assert.Equal(t, 5, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, 15*time.Minute, cfg.Orchestrator.ApprovalTimeout)
	assert.Equal(t, 60*time.Second, cfg.Orchestrator.ActionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Orchestrator.VerifyWindow)
	assert.Equal(t, 15*time.Second, cfg.Orchestrator.VerifyInterval)
	assert.Equal(t, 30*time.Minute, cfg.Orchestrator.EpisodeTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guardian.yaml")
	data := `
server:
  address: ":9090"
orchestrator:
  autonomyMode: auto
  confidenceThreshold: 0.8
  maxConcurrent: 2
  riskPolicy:
    rollout_restart: medium
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, types.ModeAuto, cfg.Orchestrator.AutonomyMode)
	assert.Equal(t, 0.8, cfg.Orchestrator.ConfidenceThreshold)
	assert.Equal(t, 2, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, "medium", cfg.Orchestrator.RiskPolicy["rollout_restart"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GUARDIAN_AUTONOMY_MODE", "dry_run")
	t.Setenv("GUARDIAN_MAX_CONCURRENT", "9")
	t.Setenv("GUARDIAN_APPROVAL_TIMEOUT", "1m")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, types.ModeDryRun, cfg.Orchestrator.AutonomyMode)
	assert.Equal(t, 9, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, time.Minute, cfg.Orchestrator.ApprovalTimeout)
}

func TestInvalidAutonomyMode(t *testing.T) {
	t.Setenv("GUARDIAN_AUTONOMY_MODE", "yolo")

	_, err := Load("")
	assert.Error(t, err)
}
