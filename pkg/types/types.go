package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Signal is one normalized (signal-kind, key, value) tuple extracted from
// evidence, e.g. {kind: "k8s_event", key: "reason", value: "oomkilled"}.
type Signal struct {
	Kind  string `json:"kind"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FailureSignature is the canonical, order-independent fingerprint of a
// failure condition. Signals are stored in canonical order; Hash is derived
// from them and is the runbook lookup key and the episode dedup identity.
type FailureSignature struct {
	Signals []Signal `json:"signals"`
	Hash    string   `json:"hash"`
}

// Empty reports whether no signals were extracted.
func (s FailureSignature) Empty() bool {
	return len(s.Signals) == 0
}

// Target identifies the resource an episode remediates.
type Target struct {
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
	Resource  string `json:"resource"`
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s/%s", t.Cluster, t.Namespace, t.Resource)
}

// Finding is the Analyzer's structured output. Produced once per episode
// and immutable afterward.
type Finding struct {
	RootCause     string   `json:"root_cause"`
	Confidence    float64  `json:"confidence"`
	EvidenceRefs  []string `json:"evidence_refs"`
	SuggestedPlan *Plan    `json:"suggested_plan,omitempty"`
}

// ActionKind enumerates the remediation operations the executor understands.
type ActionKind string

const (
	ActionRestart      ActionKind = "rollout_restart"
	ActionPatch        ActionKind = "patch_deployment"
	ActionScale        ActionKind = "scale_deployment"
	ActionCordon       ActionKind = "cordon_node"
	ActionDrain        ActionKind = "drain_node"
	ActionNetworkPatch ActionKind = "network_patch"
)

// Action is the atomic unit of execution.
type Action struct {
	Kind       ActionKind        `json:"kind"`
	Target     Target            `json:"target"`
	Parameters map[string]string `json:"parameters,omitempty"`

	// RiskTier is assigned by the classifier, not inherent to the action.
	RiskTier RiskTier `json:"risk_tier"`

	// IdempotencyKey is deterministic from (kind, target, parameters) so
	// re-issuing the action is safe for callees that honor the key.
	IdempotencyKey string `json:"idempotency_key"`
}

// ComputeIdempotencyKey derives the deterministic key for an action.
// Parameters are folded in sorted order so map iteration order is irrelevant.
func ComputeIdempotencyKey(kind ActionKind, target Target, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteByte('|')
	b.WriteString(target.String())
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// Plan is an ordered sequence of actions. Order matters (e.g. patch before
// restart). A plan is immutable once approved; re-planning produces a new
// plan, never a mutation.
type Plan struct {
	Actions []Action `json:"actions"`
}

// Tier returns the plan's risk tier: the max over its actions.
func (p *Plan) Tier() RiskTier {
	tier := RiskLow
	for _, a := range p.Actions {
		tier = MaxTier(tier, a.RiskTier)
	}
	return tier
}

// RiskTier is the policy-assigned sensitivity class of an action or plan.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

var tierRank = map[RiskTier]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}

// MaxTier returns the higher of two tiers.
func MaxTier(a, b RiskTier) RiskTier {
	if tierRank[b] > tierRank[a] {
		return b
	}
	return a
}

// AutonomyMode controls whether execution requires human approval.
type AutonomyMode string

const (
	ModeDryRun  AutonomyMode = "dry_run"
	ModeApprove AutonomyMode = "approve"
	ModeAuto    AutonomyMode = "auto"
)

// EpisodeState is a state in the episode lifecycle.
type EpisodeState string

const (
	StateIntake           EpisodeState = "intake"
	StateCorrelating      EpisodeState = "correlating"
	StatePlanning         EpisodeState = "planning"
	StateRiskGating       EpisodeState = "risk_gating"
	StateAwaitingApproval EpisodeState = "awaiting_approval"
	StateExecuting        EpisodeState = "executing"
	StateVerifying        EpisodeState = "verifying"
	StateVerified         EpisodeState = "verified"
	StateFailed           EpisodeState = "failed"
	StateLearning         EpisodeState = "learning"
	StateClosed           EpisodeState = "closed"
	StateAborted          EpisodeState = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s EpisodeState) Terminal() bool {
	switch s {
	case StateFailed, StateAborted, StateClosed:
		return true
	}
	return false
}

// Reason codes carried by terminal episodes.
const (
	ReasonLowConfidence       = "low_confidence"
	ReasonPlanBindingError    = "plan_binding_error"
	ReasonApprovalTimeout     = "approval_timeout"
	ReasonRejected            = "rejected"
	ReasonExecutionError      = "execution_error"
	ReasonVerificationTimeout = "verification_timeout"
	ReasonUnverified          = "unverified"
	ReasonDryRun              = "dry_run"
	ReasonCanceled            = "canceled"
	ReasonEpisodeTimeout      = "episode_timeout"
	ReasonUnknownError        = "unknown_error"
)

// ApprovalStatus records the outcome of the approval gate.
type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalTimedOut ApprovalStatus = "timed_out"
)

// Approval is the human-in-the-loop decision attached to an episode.
type Approval struct {
	Status    ApprovalStatus `json:"status"`
	Approver  string         `json:"approver,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AttemptOutcome is the result of one action execution.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailed  AttemptOutcome = "failed"
	OutcomeSkipped AttemptOutcome = "skipped"
)

// ExecutionAttempt is one entry in an episode's audit trail.
type ExecutionAttempt struct {
	Action          Action         `json:"action"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         time.Time      `json:"ended_at"`
	Outcome         AttemptOutcome `json:"outcome"`
	Error           string         `json:"error,omitempty"`
	RollbackApplied bool           `json:"rollback_applied"`
}

// Episode is the aggregate root: one end-to-end remediation attempt for a
// specific failure occurrence. Owned exclusively by the orchestrator; all
// other components receive read-only projections.
type Episode struct {
	ID           string             `json:"id"`
	Signature    FailureSignature   `json:"signature"`
	Target       Target             `json:"target"`
	State        EpisodeState       `json:"state"`
	Reason       string             `json:"reason,omitempty"`
	Finding      *Finding           `json:"finding,omitempty"`
	Plan         *Plan              `json:"plan,omitempty"`
	AutonomyMode AutonomyMode       `json:"autonomy_mode"`
	RiskTier     RiskTier           `json:"risk_tier,omitempty"`
	Approval     *Approval          `json:"approval,omitempty"`
	Attempts     []ExecutionAttempt `json:"attempts,omitempty"`
	Verified     *bool              `json:"verified,omitempty"`
	RunbookRef   string             `json:"runbook_ref,omitempty"`

	// Predecessor references a failed episode this one re-analyzes.
	Predecessor string `json:"predecessor,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DedupKey is the mutual-exclusion key for this episode's active-registry
// slot: at most one episode may be active per (target, signature) pair.
func (e *Episode) DedupKey() string {
	return DedupKey(e.Target, e.Signature)
}

// DedupKey builds the active-episode registry key.
func DedupKey(target Target, sig FailureSignature) string {
	return target.String() + "|" + sig.Hash
}

// Runbook is a stored, reusable pattern → plan mapping, created only from
// verified-successful episodes.
type Runbook struct {
	PatternID    string           `json:"pattern_id"`
	Version      int              `json:"version"`
	Signature    FailureSignature `json:"signature"`
	PlanTemplate Plan             `json:"plan_template"`
	RiskTier     RiskTier         `json:"risk_tier"`
	SuccessCount int              `json:"success_count"`
	LastUsedAt   time.Time        `json:"last_used_at"`
	CreatedAt    time.Time        `json:"created_at"`
}
