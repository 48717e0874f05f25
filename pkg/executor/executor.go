package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/log"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// RollbackData is the state captured by Apply that Rollback needs to undo
// the action, e.g. the replica count before a scale or the image before a
// patch. Opaque to the executor.
type RollbackData map[string]string

// Applier performs and reverses a single action against the cluster.
type Applier interface {
	// Apply performs the action and returns whatever Rollback needs to undo
	// it. Errors should be classified with the types error constructors;
	// unclassified errors are treated as permanent.
	Apply(ctx context.Context, action types.Action) (RollbackData, error)

	// Rollback reverses a previously applied action.
	Rollback(ctx context.Context, action types.Action, data RollbackData) error
}

// Result is the full outcome of running a plan.
type Result struct {
	Attempts []types.ExecutionAttempt
	// RolledBack is true when a failure triggered rollback of the
	// succeeded prefix, regardless of whether every rollback step worked.
	RolledBack bool
	// Err is the classified error of the action that halted the plan, nil
	// when every action succeeded.
	Err error
}

// Succeeded reports whether the whole plan applied cleanly.
func (r *Result) Succeeded() bool {
	return r.Err == nil
}

// Executor runs plans sequentially with halt-on-first-failure semantics.
type Executor struct {
	applier       Applier
	actionTimeout time.Duration
	logger        zerolog.Logger
}

// New creates an executor. actionTimeout bounds each action attempt
// individually, retries included get a fresh timeout.
func New(applier Applier, actionTimeout time.Duration) *Executor {
	if actionTimeout <= 0 {
		actionTimeout = 60 * time.Second
	}
	return &Executor{
		applier:       applier,
		actionTimeout: actionTimeout,
		logger:        log.WithComponent("executor"),
	}
}

// Run applies the plan's actions in order. The first failure halts the
// plan: remaining actions are recorded as skipped, then the succeeded
// prefix is rolled back in reverse order. Transient failures get exactly
// one retry before counting as failed; permanent and safety-abort
// failures do not. Cancellation of ctx takes effect between actions: the
// in-flight action finishes on its own timeout, the rest of the plan is
// abandoned, and the applied prefix is rolled back.
func (e *Executor) Run(ctx context.Context, episodeID string, plan *types.Plan) *Result {
	res := &Result{Attempts: make([]types.ExecutionAttempt, 0, len(plan.Actions))}
	logger := e.logger.With().Str("episode_id", episodeID).Logger()

	var rollbackStack []appliedAction

	for i, action := range plan.Actions {
		// Cancellation is honored between actions only; an in-flight
		// action always runs to completion on its own timeout.
		if res.Err == nil && ctx.Err() != nil {
			res.Err = context.Cause(ctx)
			logger.Warn().Err(res.Err).Int("index", i).Msg("episode context done, abandoning remaining plan")
		}
		if res.Err != nil {
			res.Attempts = append(res.Attempts, types.ExecutionAttempt{
				Action:    action,
				StartedAt: time.Now().UTC(),
				EndedAt:   time.Now().UTC(),
				Outcome:   types.OutcomeSkipped,
			})
			continue
		}

		attempt, data, err := e.applyWithRetry(ctx, logger, action)
		res.Attempts = append(res.Attempts, attempt)

		if err != nil {
			logger.Error().Err(err).
				Str("action", string(action.Kind)).
				Int("index", i).
				Msg("action failed, halting plan")
			res.Err = err
			continue
		}

		rollbackStack = append(rollbackStack, appliedAction{
			attemptIndex: len(res.Attempts) - 1,
			action:       action,
			data:         data,
		})
	}

	if res.Err != nil && len(rollbackStack) > 0 {
		res.RolledBack = true
		e.rollback(ctx, logger, rollbackStack, res)
	}
	return res
}

type appliedAction struct {
	// attemptIndex locates the success attempt in Result.Attempts, so
	// rollback marking stays exact when a plan repeats an action.
	attemptIndex int
	action       types.Action
	data         RollbackData
}

func (e *Executor) applyWithRetry(ctx context.Context, logger zerolog.Logger, action types.Action) (types.ExecutionAttempt, RollbackData, error) {
	attempt := types.ExecutionAttempt{
		Action:    action,
		StartedAt: time.Now().UTC(),
	}

	data, err := e.applyOnce(ctx, action)
	if err != nil && types.IsTransient(err) && ctx.Err() == nil {
		logger.Warn().Err(err).
			Str("action", string(action.Kind)).
			Msg("transient failure, retrying once")
		data, err = e.applyOnce(ctx, action)
	}

	attempt.EndedAt = time.Now().UTC()
	if err != nil {
		attempt.Outcome = types.OutcomeFailed
		attempt.Error = err.Error()
		return attempt, nil, err
	}

	attempt.Outcome = types.OutcomeSuccess
	logger.Info().
		Str("action", string(action.Kind)).
		Str("target", action.Target.String()).
		Str("idempotency_key", action.IdempotencyKey).
		Msg("action applied")
	return attempt, data, nil
}

// applyOnce runs a single attempt on a context detached from episode
// cancellation, so a cancel never kills an action mid-flight. The action
// timeout still applies.
func (e *Executor) applyOnce(ctx context.Context, action types.Action) (RollbackData, error) {
	actionCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.actionTimeout)
	defer cancel()
	return e.applier.Apply(actionCtx, action)
}

// rollback undoes the succeeded prefix in reverse order. Each step gets
// one retry; a step that still fails is logged and marked, and rollback
// continues with the remaining steps rather than halting.
func (e *Executor) rollback(ctx context.Context, logger zerolog.Logger, stack []appliedAction, res *Result) {
	for i := len(stack) - 1; i >= 0; i-- {
		applied := stack[i]

		err := e.rollbackOnce(ctx, applied)
		if err != nil {
			logger.Warn().Err(err).
				Str("action", string(applied.action.Kind)).
				Msg("rollback failed, retrying once")
			err = e.rollbackOnce(ctx, applied)
		}

		res.Attempts[applied.attemptIndex].RollbackApplied = err == nil
		if err != nil {
			logger.Error().Err(err).
				Str("action", string(applied.action.Kind)).
				Str("target", applied.action.Target.String()).
				Msg("rollback failed permanently, manual intervention required")
		} else {
			logger.Info().
				Str("action", string(applied.action.Kind)).
				Msg("action rolled back")
		}
	}
}

// rollbackOnce is likewise detached: rollback must still work after the
// episode context died, or a cancel would strand the applied prefix.
func (e *Executor) rollbackOnce(ctx context.Context, applied appliedAction) error {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.actionTimeout)
	defer cancel()
	return e.applier.Rollback(rbCtx, applied.action, applied.data)
}

