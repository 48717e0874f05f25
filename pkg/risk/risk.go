package risk

import (
	"strconv"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// High-scale factor above which a scale action stops being medium risk.
const scaleFactorHighThreshold = 5.0

// defaultPolicy is the built-in action kind → tier table. Tiers are
// operator-configured policy, never inferred.
var defaultPolicy = map[types.ActionKind]types.RiskTier{
	types.ActionRestart:      types.RiskLow,
	types.ActionPatch:        types.RiskMedium,
	types.ActionScale:        types.RiskMedium,
	types.ActionCordon:       types.RiskMedium,
	types.ActionDrain:        types.RiskHigh,
	types.ActionNetworkPatch: types.RiskHigh,
}

// Classifier assigns risk tiers from a static policy table. It is a pure
// function of the action: no side effects, no learning.
type Classifier struct {
	policy map[types.ActionKind]types.RiskTier
}

// NewClassifier returns a classifier with the built-in policy.
func NewClassifier() *Classifier {
	policy := make(map[types.ActionKind]types.RiskTier, len(defaultPolicy))
	for k, v := range defaultPolicy {
		policy[k] = v
	}
	return &Classifier{policy: policy}
}

// NewClassifierWithPolicy overlays operator-supplied overrides on the
// built-in table. Unknown tiers are ignored.
func NewClassifierWithPolicy(overrides map[string]string) *Classifier {
	c := NewClassifier()
	for kind, tier := range overrides {
		switch types.RiskTier(tier) {
		case types.RiskLow, types.RiskMedium, types.RiskHigh:
			c.policy[types.ActionKind(kind)] = types.RiskTier(tier)
		}
	}
	return c
}

// Classify maps an action to its risk tier. Unknown kinds classify High:
// an action the policy has never seen must not auto-execute.
func (c *Classifier) Classify(action types.Action) types.RiskTier {
	tier, ok := c.policy[action.Kind]
	if !ok {
		return types.RiskHigh
	}

	// Parameter predicates escalate beyond the base tier.
	if action.Kind == types.ActionScale {
		if factor, ok := scaleFactor(action); ok && factor > scaleFactorHighThreshold {
			tier = types.MaxTier(tier, types.RiskHigh)
		}
	}

	return tier
}

// ClassifyPlan assigns each action its tier and returns the plan tier,
// the max over all actions.
func (c *Classifier) ClassifyPlan(plan *types.Plan) types.RiskTier {
	tier := types.RiskLow
	for i := range plan.Actions {
		plan.Actions[i].RiskTier = c.Classify(plan.Actions[i])
		tier = types.MaxTier(tier, plan.Actions[i].RiskTier)
	}
	return tier
}

// scaleFactor computes replicas/current_replicas when both are present.
func scaleFactor(action types.Action) (float64, bool) {
	target, err1 := strconv.ParseFloat(action.Parameters["replicas"], 64)
	current, err2 := strconv.ParseFloat(action.Parameters["current_replicas"], 64)
	if err1 != nil || err2 != nil || current <= 0 {
		return 0, false
	}
	return target / current, true
}
