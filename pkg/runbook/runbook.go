package runbook

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/log"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/storage"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

var placeholderRe = regexp.MustCompile(`\{\{([a-z_]+)\}\}`)

// Library is the reuse layer over runbook persistence: exact-signature
// lookup for reuse, and success recording that creates or reinforces
// patterns. Runbooks are only ever written from verified-successful
// episodes; the caller enforces that.
type Library struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewLibrary creates a runbook library over a store.
func NewLibrary(store storage.Store) *Library {
	return &Library{store: store, logger: log.WithComponent("runbook")}
}

// Lookup returns the runbook exactly matching the signature hash, or
// (nil, false) when none qualifies. A stored pattern with no recorded
// success is never offered for reuse.
func (l *Library) Lookup(sig types.FailureSignature) (*types.Runbook, bool, error) {
	if sig.Empty() {
		return nil, false, nil
	}
	rb, err := l.store.GetRunbook(sig.Hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if rb.SuccessCount < 1 {
		return nil, false, nil
	}
	return rb, true, nil
}

// RecordSuccess persists a verified plan for the signature. A first
// success creates version 1; a repeat with the same template increments
// the success counter; a different template replaces it under a bumped
// version with the counter restarted.
func (l *Library) RecordSuccess(sig types.FailureSignature, target types.Target, plan *types.Plan, tier types.RiskTier) (*types.Runbook, error) {
	if sig.Empty() {
		return nil, fmt.Errorf("cannot record runbook for empty signature")
	}
	template := Templatize(plan, target)
	now := time.Now().UTC()

	existing, err := l.store.GetRunbook(sig.Hash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rb := &types.Runbook{
			PatternID:    sig.Hash,
			Version:      1,
			Signature:    sig,
			PlanTemplate: *template,
			RiskTier:     tier,
			SuccessCount: 1,
			LastUsedAt:   now,
			CreatedAt:    now,
		}
		if err := l.store.PutRunbook(rb); err != nil {
			return nil, err
		}
		l.logger.Info().Str("pattern_id", rb.PatternID).Msg("runbook created")
		return rb, nil
	case err != nil:
		return nil, err
	}

	if reflect.DeepEqual(existing.PlanTemplate, *template) {
		if err := l.store.IncrementRunbookSuccess(existing.PatternID); err != nil {
			return nil, err
		}
		existing.SuccessCount++
		existing.LastUsedAt = now
		l.logger.Info().
			Str("pattern_id", existing.PatternID).
			Int("success_count", existing.SuccessCount).
			Msg("runbook reinforced")
		return existing, nil
	}

	existing.Version++
	existing.PlanTemplate = *template
	existing.RiskTier = tier
	existing.SuccessCount = 1
	existing.LastUsedAt = now
	if err := l.store.PutRunbook(existing); err != nil {
		return nil, err
	}
	l.logger.Info().
		Str("pattern_id", existing.PatternID).
		Int("version", existing.Version).
		Msg("runbook template superseded")
	return existing, nil
}

// List returns all stored runbooks.
func (l *Library) List() ([]*types.Runbook, error) {
	return l.store.ListRunbooks()
}

// Get fetches one runbook by pattern id.
func (l *Library) Get(patternID string) (*types.Runbook, error) {
	return l.store.GetRunbook(patternID)
}

// Templatize rewrites a concrete plan into a reusable template by
// replacing the target's identifying values with placeholders. Parameter
// values equal to a target field are templatized too so a plan learned
// on one deployment rebinds cleanly to another.
func Templatize(plan *types.Plan, target types.Target) *types.Plan {
	subs := map[string]string{
		target.Cluster:   "{{cluster}}",
		target.Namespace: "{{namespace}}",
		target.Resource:  "{{resource}}",
	}
	delete(subs, "")

	out := &types.Plan{Actions: make([]types.Action, len(plan.Actions))}
	for i, a := range plan.Actions {
		t := types.Target{
			Cluster:   substitute(a.Target.Cluster, subs),
			Namespace: substitute(a.Target.Namespace, subs),
			Resource:  substitute(a.Target.Resource, subs),
		}
		params := make(map[string]string, len(a.Parameters))
		for k, v := range a.Parameters {
			params[k] = substitute(v, subs)
		}
		out.Actions[i] = types.Action{
			Kind:       a.Kind,
			Target:     t,
			Parameters: params,
			RiskTier:   a.RiskTier,
			// Keys are recomputed at bind time from concrete values.
		}
	}
	return out
}

func substitute(v string, subs map[string]string) string {
	if repl, ok := subs[v]; ok {
		return repl
	}
	return v
}

// Bind instantiates a plan template against a concrete target. Any
// placeholder left unresolved is a permanent binding error; the caller
// aborts the episode rather than executing a partially bound plan.
func Bind(template *types.Plan, target types.Target) (*types.Plan, error) {
	bindings := map[string]string{
		"cluster":   target.Cluster,
		"namespace": target.Namespace,
		"resource":  target.Resource,
	}

	out := &types.Plan{Actions: make([]types.Action, len(template.Actions))}
	for i, a := range template.Actions {
		t := types.Target{}
		var err error
		if t.Cluster, err = bindValue(a.Target.Cluster, bindings); err != nil {
			return nil, err
		}
		if t.Namespace, err = bindValue(a.Target.Namespace, bindings); err != nil {
			return nil, err
		}
		if t.Resource, err = bindValue(a.Target.Resource, bindings); err != nil {
			return nil, err
		}

		params := make(map[string]string, len(a.Parameters))
		for k, v := range a.Parameters {
			if params[k], err = bindValue(v, bindings); err != nil {
				return nil, err
			}
		}

		out.Actions[i] = types.Action{
			Kind:           a.Kind,
			Target:         t,
			Parameters:     params,
			RiskTier:       a.RiskTier,
			IdempotencyKey: types.ComputeIdempotencyKey(a.Kind, t, params),
		}
	}
	return out, nil
}

func bindValue(v string, bindings map[string]string) (string, error) {
	var missing []string
	bound := placeholderRe.ReplaceAllStringFunc(v, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		val, ok := bindings[name]
		if !ok || val == "" {
			missing = append(missing, name)
			return m
		}
		return val
	})
	if len(missing) > 0 {
		return "", types.PermanentErr("bind",
			fmt.Errorf("unresolved placeholders: %s", strings.Join(missing, ", ")))
	}
	return bound, nil
}
