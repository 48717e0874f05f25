package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

func TestClassifyTable(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name     string
		action   types.Action
		expected types.RiskTier
	}{
		{
			name:     "rollout restart is low",
			action:   types.Action{Kind: types.ActionRestart},
			expected: types.RiskLow,
		},
		{
			name:     "deployment patch is medium",
			action:   types.Action{Kind: types.ActionPatch},
			expected: types.RiskMedium,
		},
		{
			name:     "modest scale is medium",
			action:   types.Action{Kind: types.ActionScale, Parameters: map[string]string{"replicas": "4", "current_replicas": "2"}},
			expected: types.RiskMedium,
		},
		{
			name:     "scale factor above 5x escalates to high",
			action:   types.Action{Kind: types.ActionScale, Parameters: map[string]string{"replicas": "20", "current_replicas": "2"}},
			expected: types.RiskHigh,
		},
		{
			name:     "scale without current replicas stays medium",
			action:   types.Action{Kind: types.ActionScale, Parameters: map[string]string{"replicas": "20"}},
			expected: types.RiskMedium,
		},
		{
			name:     "node drain is high",
			action:   types.Action{Kind: types.ActionDrain},
			expected: types.RiskHigh,
		},
		{
			name:     "network patch is high",
			action:   types.Action{Kind: types.ActionNetworkPatch},
			expected: types.RiskHigh,
		},
		{
			name:     "unknown action kind defaults to high",
			action:   types.Action{Kind: types.ActionKind("delete_everything")},
			expected: types.RiskHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.Classify(tt.action))
		})
	}
}

func TestClassifyPlanIsMaxOverActions(t *testing.T) {
	c := NewClassifier()

	plan := &types.Plan{Actions: []types.Action{
		{Kind: types.ActionRestart},
		{Kind: types.ActionRestart},
	}}
	assert.Equal(t, types.RiskLow, c.ClassifyPlan(plan))

	// Changing one low action to high changes the plan tier to high.
	plan.Actions[1].Kind = types.ActionDrain
	assert.Equal(t, types.RiskHigh, c.ClassifyPlan(plan))
	assert.Equal(t, types.RiskLow, plan.Actions[0].RiskTier)
	assert.Equal(t, types.RiskHigh, plan.Actions[1].RiskTier)
}

func TestPolicyOverrides(t *testing.T) {
	c := NewClassifierWithPolicy(map[string]string{
		"rollout_restart": "medium",
		"drain_node":      "bogus", // ignored
	})

	assert.Equal(t, types.RiskMedium, c.Classify(types.Action{Kind: types.ActionRestart}))
	assert.Equal(t, types.RiskHigh, c.Classify(types.Action{Kind: types.ActionDrain}))
}

func TestClassifierIsPure(t *testing.T) {
	c := NewClassifier()
	a := types.Action{Kind: types.ActionRestart}

	first := c.Classify(a)
	second := c.Classify(a)
	assert.Equal(t, first, second)
}
