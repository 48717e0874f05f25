package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/analyzer"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/approval"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/config"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/events"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/evidence"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/executor"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/log"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/metrics"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/risk"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/runbook"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/signature"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/storage"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

var (
	errCanceled       = errors.New("episode canceled by operator")
	errEpisodeTimeout = errors.New("episode exceeded its time ceiling")
)

// Gate is the approval surface the orchestrator drives. Satisfied by
// *approval.ChannelGate.
type Gate interface {
	approval.Gate
	ResolveByEpisode(episodeID string, approved bool, approver string) error
}

// Verifier decides whether a remediation cleared the failure.
// Satisfied by *verifier.Verifier.
type Verifier interface {
	Verify(ctx context.Context, episodeID string, target types.Target, original types.FailureSignature) (bool, error)
}

// Deps bundles the components an Orchestrator composes.
type Deps struct {
	Store     storage.Store
	Collector evidence.Collector
	Analyzer  analyzer.Analyzer
	Risk      *risk.Classifier
	Gate      Gate
	Executor  *executor.Executor
	Verifier  Verifier
	Runbooks  *runbook.Library
	Broker    *events.Broker
}

// Orchestrator owns the episode lifecycle. It is the only component that
// writes episode state; everything else sees read-only projections.
type Orchestrator struct {
	deps Deps
	cfg  config.OrchestratorConfig

	mu sync.Mutex
	// active maps dedup key to episode id; cancels maps episode id to
	// its cancel function.
	active  map[string]string
	cancels map[string]context.CancelCauseFunc

	sem    chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates an orchestrator. Deps must be fully populated.
func New(deps Deps, cfg config.OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		active:  make(map[string]string),
		cancels: make(map[string]context.CancelCauseFunc),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		logger:  log.WithComponent("orchestrator"),
	}
}

// TriggerRequest opens an episode for a failing target. Signals, when
// provided by the alerting source, are merged with what evidence
// collection derives.
type TriggerRequest struct {
	Target  types.Target   `json:"target"`
	Signals []types.Signal `json:"signals,omitempty"`
	// Mode overrides the configured autonomy mode for this episode.
	Mode types.AutonomyMode `json:"mode,omitempty"`
}

// Trigger collects evidence, fingerprints the failure, and opens an
// episode unless one is already active for the same (target, signature).
// The returned bool is false when the trigger joined an existing episode.
func (o *Orchestrator) Trigger(ctx context.Context, req TriggerRequest) (*types.Episode, bool, error) {
	if req.Target.Cluster == "" || req.Target.Namespace == "" || req.Target.Resource == "" {
		return nil, false, fmt.Errorf("incomplete target %q", req.Target.String())
	}

	snap, err := o.deps.Collector.Collect(ctx, req.Target, evidence.LastWindow(o.cfg.EvidenceWindow))
	if err != nil {
		return nil, false, fmt.Errorf("evidence collection: %w", err)
	}

	signals := append(evidence.DeriveSignature(snap).Signals, req.Signals...)
	sig := signature.Canonicalize(signals)

	mode := o.cfg.AutonomyMode
	if req.Mode != "" {
		mode = req.Mode
	}

	o.mu.Lock()
	key := types.DedupKey(req.Target, sig)
	if existingID, ok := o.active[key]; ok {
		o.mu.Unlock()
		existing, err := o.deps.Store.GetEpisode(existingID)
		if err != nil {
			return nil, false, err
		}
		o.logger.Info().
			Str("episode_id", existingID).
			Str("target", req.Target.String()).
			Msg("trigger joined active episode")
		return existing, false, nil
	}

	now := time.Now().UTC()
	ep := &types.Episode{
		ID:           uuid.New().String(),
		Signature:    sig,
		Target:       req.Target,
		State:        types.StateIntake,
		AutonomyMode: mode,
		Predecessor:  o.findPredecessorLocked(key),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	o.active[key] = ep.ID

	runCtx, cancel := context.WithCancelCause(context.Background())
	o.cancels[ep.ID] = cancel
	o.mu.Unlock()

	if err := o.deps.Store.CreateEpisode(ep); err != nil {
		o.release(ep)
		return nil, false, err
	}
	metrics.EpisodesOpened.Inc()
	o.deps.Broker.Publish(&events.Event{
		Type:      events.EventEpisodeOpened,
		EpisodeID: ep.ID,
		Message:   "episode opened",
		Metadata:  map[string]string{"target": ep.Target.String(), "signature": sig.Hash},
	})

	o.wg.Add(1)
	go o.run(runCtx, ep, snap)

	return ep, true, nil
}

// findPredecessorLocked links a new episode to the most recent failed
// one for the same dedup key, so re-analysis carries history.
func (o *Orchestrator) findPredecessorLocked(key string) string {
	eps, err := o.deps.Store.ListEpisodesByState(types.StateFailed)
	if err != nil {
		return ""
	}
	var latest *types.Episode
	for _, ep := range eps {
		if ep.DedupKey() != key {
			continue
		}
		if latest == nil || ep.UpdatedAt.After(latest.UpdatedAt) {
			latest = ep
		}
	}
	if latest == nil {
		return ""
	}
	return latest.ID
}

// Cancel aborts a non-terminal episode.
func (o *Orchestrator) Cancel(episodeID string) error {
	o.mu.Lock()
	cancel, ok := o.cancels[episodeID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("episode %s is not active", episodeID)
	}
	cancel(errCanceled)
	return nil
}

// Approve resolves a pending approval for an episode.
func (o *Orchestrator) Approve(episodeID, approver string) error {
	return o.deps.Gate.ResolveByEpisode(episodeID, true, approver)
}

// Reject resolves a pending approval negatively.
func (o *Orchestrator) Reject(episodeID, approver string) error {
	return o.deps.Gate.ResolveByEpisode(episodeID, false, approver)
}

// Shutdown waits for in-flight episodes to finish or ctx to expire.
// Episodes are not aborted; a restarted daemon picks idle ones up from
// the store.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drives one episode through its lifecycle. It holds a concurrency
// slot for the whole active phase and always releases the dedup slot on
// exit.
func (o *Orchestrator) run(ctx context.Context, ep *types.Episode, snap *evidence.Snapshot) {
	defer o.wg.Done()
	defer o.release(ep)

	started := time.Now()
	logger := o.logger.With().Str("episode_id", ep.ID).Str("target", ep.Target.String()).Logger()

	// Episode time ceiling covers everything including the queue wait.
	ctx, cancelTimeout := context.WithTimeoutCause(ctx, o.cfg.EpisodeTimeout, errEpisodeTimeout)
	defer cancelTimeout()

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		o.finish(ep, types.StateAborted, reasonFor(ctx))
		return
	}

	defer func() {
		metrics.EpisodeDuration.Observe(time.Since(started).Seconds())
	}()

	if ep.Signature.Empty() {
		logger.Info().Msg("no failure signals in evidence, nothing to remediate")
		o.finish(ep, types.StateAborted, types.ReasonLowConfidence)
		return
	}

	o.transition(ep, types.StateCorrelating, "")
	o.transition(ep, types.StatePlanning, "")

	plan, fromRunbook, ok := o.plan(ctx, ep, snap, logger)
	if !ok {
		return
	}
	ep.Plan = plan
	ep.RiskTier = o.deps.Risk.ClassifyPlan(plan)
	o.transition(ep, types.StateRiskGating, "")

	switch {
	case ep.AutonomyMode == types.ModeDryRun:
		logger.Info().Str("risk_tier", string(ep.RiskTier)).Msg("dry run, plan recorded without execution")
		o.finish(ep, types.StateAborted, types.ReasonDryRun)
		return
	case ep.AutonomyMode == types.ModeAuto && ep.RiskTier == types.RiskLow:
		// Low-risk plans execute without a human in the loop.
	default:
		if !o.awaitApproval(ctx, ep, logger) {
			return
		}
	}

	if !o.execute(ctx, ep, logger) {
		return
	}

	o.verify(ctx, ep, fromRunbook, logger)
}

// plan produces the episode's plan, preferring an exact runbook match
// over fresh analysis. Returns ok=false when the episode has been
// finished with a terminal state.
func (o *Orchestrator) plan(ctx context.Context, ep *types.Episode, snap *evidence.Snapshot, logger zerolog.Logger) (*types.Plan, bool, bool) {
	if rb, hit, err := o.deps.Runbooks.Lookup(ep.Signature); err == nil && hit {
		bound, bindErr := runbook.Bind(&rb.PlanTemplate, ep.Target)
		if bindErr != nil {
			logger.Warn().Err(bindErr).Str("pattern_id", rb.PatternID).Msg("runbook template failed to bind")
			o.finish(ep, types.StateFailed, types.ReasonPlanBindingError)
			return nil, false, false
		}
		ep.RunbookRef = rb.PatternID
		metrics.RunbookReuses.Inc()
		o.deps.Broker.Publish(&events.Event{
			Type:      events.EventRunbookReused,
			EpisodeID: ep.ID,
			Message:   "plan taken from stored runbook",
			Metadata:  map[string]string{"pattern_id": rb.PatternID},
		})
		logger.Info().Str("pattern_id", rb.PatternID).Int("success_count", rb.SuccessCount).Msg("reusing runbook")
		return bound, true, true
	} else if err != nil {
		logger.Warn().Err(err).Msg("runbook lookup failed, falling through to analysis")
	}

	finding, err := o.deps.Analyzer.Analyze(ctx, snap, ep.Signature)
	if err != nil {
		metrics.AnalyzerCalls.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("analysis failed")
		o.finish(ep, types.StateFailed, types.ReasonUnknownError)
		return nil, false, false
	}
	metrics.AnalyzerCalls.WithLabelValues("ok").Inc()
	ep.Finding = finding

	if finding.Confidence < o.cfg.ConfidenceThreshold || finding.SuggestedPlan == nil || len(finding.SuggestedPlan.Actions) == 0 {
		logger.Info().
			Float64("confidence", finding.Confidence).
			Float64("threshold", o.cfg.ConfidenceThreshold).
			Msg("no actionable plan above confidence threshold")
		o.finish(ep, types.StateFailed, types.ReasonLowConfidence)
		return nil, false, false
	}
	return finding.SuggestedPlan, false, true
}

// awaitApproval runs the human gate. Returns false when the episode was
// finished (rejected, timed out, or canceled while waiting).
func (o *Orchestrator) awaitApproval(ctx context.Context, ep *types.Episode, logger zerolog.Logger) bool {
	summary := approval.Summary{
		EpisodeID: ep.ID,
		Target:    ep.Target,
		Plan:      *ep.Plan,
		RiskTier:  ep.RiskTier,
		Requested: time.Now().UTC(),
	}
	if ep.Finding != nil {
		summary.RootCause = ep.Finding.RootCause
	}

	handle, err := o.deps.Gate.Request(ctx, summary)
	if err != nil {
		logger.Error().Err(err).Msg("approval request failed")
		o.finish(ep, types.StateAborted, types.ReasonUnknownError)
		return false
	}

	// The gate registration precedes the visible state change so an
	// operator who sees awaiting_approval can always resolve it.
	o.transition(ep, types.StateAwaitingApproval, "")
	o.deps.Broker.Publish(&events.Event{
		Type:      events.EventApprovalRequested,
		EpisodeID: ep.ID,
		Message:   "awaiting operator approval",
		Metadata:  map[string]string{"risk_tier": string(ep.RiskTier)},
	})

	decision, approver, err := o.deps.Gate.Wait(ctx, handle, o.cfg.ApprovalTimeout)
	now := time.Now().UTC()
	if err != nil && ctx.Err() != nil {
		o.finish(ep, types.StateAborted, reasonFor(ctx))
		return false
	}

	switch decision {
	case approval.DecisionApproved:
		ep.Approval = &types.Approval{Status: types.ApprovalApproved, Approver: approver, Timestamp: now}
		metrics.ApprovalsTotal.WithLabelValues("approved").Inc()
		o.publishApproval(ep, "approved", approver)
		return true
	case approval.DecisionRejected:
		ep.Approval = &types.Approval{Status: types.ApprovalRejected, Approver: approver, Timestamp: now}
		metrics.ApprovalsTotal.WithLabelValues("rejected").Inc()
		o.publishApproval(ep, "rejected", approver)
		o.finish(ep, types.StateAborted, types.ReasonRejected)
		return false
	default:
		ep.Approval = &types.Approval{Status: types.ApprovalTimedOut, Timestamp: now}
		metrics.ApprovalsTotal.WithLabelValues("timed_out").Inc()
		o.publishApproval(ep, "timed_out", "")
		o.finish(ep, types.StateAborted, types.ReasonApprovalTimeout)
		return false
	}
}

func (o *Orchestrator) publishApproval(ep *types.Episode, decision, approver string) {
	o.deps.Broker.Publish(&events.Event{
		Type:      events.EventApprovalResolved,
		EpisodeID: ep.ID,
		Message:   "approval " + decision,
		Metadata:  map[string]string{"decision": decision, "approver": approver},
	})
}

// execute runs the plan. Returns false when the episode was finished.
func (o *Orchestrator) execute(ctx context.Context, ep *types.Episode, logger zerolog.Logger) bool {
	o.transition(ep, types.StateExecuting, "")

	result := o.deps.Executor.Run(ctx, ep.ID, ep.Plan)
	ep.Attempts = result.Attempts

	for _, at := range result.Attempts {
		metrics.ActionsTotal.WithLabelValues(string(at.Action.Kind), string(at.Outcome)).Inc()
		evType := events.EventActionApplied
		if at.Outcome == types.OutcomeFailed {
			evType = events.EventActionFailed
		}
		if at.Outcome != types.OutcomeSkipped {
			o.deps.Broker.Publish(&events.Event{
				Type:      evType,
				EpisodeID: ep.ID,
				Message:   string(at.Action.Kind) + " " + string(at.Outcome),
				Metadata:  map[string]string{"kind": string(at.Action.Kind), "outcome": string(at.Outcome)},
			})
		}
	}
	if result.RolledBack {
		metrics.RollbacksTotal.Inc()
		o.deps.Broker.Publish(&events.Event{
			Type:      events.EventActionRolledBack,
			EpisodeID: ep.ID,
			Message:   "plan rolled back after failure",
		})
	}

	if !result.Succeeded() {
		if ctx.Err() != nil {
			o.finish(ep, types.StateAborted, reasonFor(ctx))
			return false
		}
		logger.Error().Err(result.Err).Msg("plan execution failed")
		o.finish(ep, types.StateFailed, types.ReasonExecutionError)
		return false
	}
	return true
}

// verify observes recovery and, on success, records the plan as a
// runbook before closing the episode.
func (o *Orchestrator) verify(ctx context.Context, ep *types.Episode, fromRunbook bool, logger zerolog.Logger) {
	o.transition(ep, types.StateVerifying, "")
	timer := metrics.NewTimer()

	verified, err := o.deps.Verifier.Verify(ctx, ep.ID, ep.Target, ep.Signature)
	timer.ObserveDuration(metrics.VerificationDuration)

	v := verified
	ep.Verified = &v

	switch {
	case err != nil:
		if ctx.Err() != nil {
			o.finish(ep, types.StateAborted, reasonFor(ctx))
			return
		}
		logger.Error().Err(err).Msg("verification could not complete")
		o.finish(ep, types.StateFailed, types.ReasonUnverified)
		return
	case !verified:
		o.finish(ep, types.StateFailed, types.ReasonVerificationTimeout)
		return
	}

	o.transition(ep, types.StateVerified, "")
	o.transition(ep, types.StateLearning, "")

	rb, err := o.deps.Runbooks.RecordSuccess(ep.Signature, ep.Target, ep.Plan, ep.RiskTier)
	if err != nil {
		// Learning is best-effort; a storage hiccup must not fail a
		// remediation that already worked.
		logger.Warn().Err(err).Msg("recording runbook failed")
	} else {
		ep.RunbookRef = rb.PatternID
		metrics.RunbooksLearned.Inc()
		o.deps.Broker.Publish(&events.Event{
			Type:      events.EventRunbookLearned,
			EpisodeID: ep.ID,
			Message:   "runbook recorded",
			Metadata:  map[string]string{"pattern_id": rb.PatternID, "reused": fmt.Sprintf("%v", fromRunbook)},
		})
	}

	o.finish(ep, types.StateClosed, "")
}

// transition moves the episode to a non-terminal state and persists it.
func (o *Orchestrator) transition(ep *types.Episode, state types.EpisodeState, reason string) {
	ep.State = state
	ep.Reason = reason
	ep.UpdatedAt = time.Now().UTC()
	if err := o.deps.Store.UpdateEpisode(ep); err != nil {
		o.logger.Error().Err(err).Str("episode_id", ep.ID).Msg("persisting episode failed")
	}
	o.deps.Broker.PublishState(ep, "state "+string(state))
}

// finish moves the episode to a terminal state, persists it, and emits
// closing metrics.
func (o *Orchestrator) finish(ep *types.Episode, state types.EpisodeState, reason string) {
	o.transition(ep, state, reason)
	metrics.EpisodesClosed.WithLabelValues(string(state), reason).Inc()
	o.deps.Broker.Publish(&events.Event{
		Type:      events.EventEpisodeClosed,
		EpisodeID: ep.ID,
		Message:   "episode " + string(state),
		Metadata:  map[string]string{"state": string(state), "reason": reason},
	})
}

// release frees the dedup slot and cancel registration for an episode.
func (o *Orchestrator) release(ep *types.Episode) {
	o.mu.Lock()
	delete(o.active, ep.DedupKey())
	delete(o.cancels, ep.ID)
	o.mu.Unlock()
}

// reasonFor maps a done context to the matching terminal reason.
func reasonFor(ctx context.Context) string {
	switch context.Cause(ctx) {
	case errCanceled:
		return types.ReasonCanceled
	case errEpisodeTimeout:
		return types.ReasonEpisodeTimeout
	default:
		return types.ReasonUnknownError
	}
}
