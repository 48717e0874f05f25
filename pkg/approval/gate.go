package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/log"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// Decision is the outcome of waiting on an approval handle.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionTimedOut Decision = "timed_out"
)

// Handle identifies one pending approval request.
type Handle string

// Summary is the read-only episode projection shown to approvers.
type Summary struct {
	EpisodeID string         `json:"episode_id"`
	Target    types.Target   `json:"target"`
	RootCause string         `json:"root_cause,omitempty"`
	Plan      types.Plan     `json:"plan"`
	RiskTier  types.RiskTier `json:"risk_tier"`
	Requested time.Time      `json:"requested"`
}

// Gate mediates human-in-the-loop approval for actions above the
// auto-execute risk tier.
type Gate interface {
	// Request registers a pending approval and announces it.
	Request(ctx context.Context, summary Summary) (Handle, error)

	// Wait blocks until the handle is resolved, the timeout elapses, or
	// ctx is canceled. The returned string is the approver identity.
	Wait(ctx context.Context, h Handle, timeout time.Duration) (Decision, string, error)
}

// Notifier announces a pending approval to an outbound channel (Slack,
// email). Delivery failures do not fail the request; the approval can
// still be resolved through the API.
type Notifier func(Summary)

type resolution struct {
	decision Decision
	approver string
}

type pending struct {
	summary Summary
	ch      chan resolution
}

// ChannelGate is an in-process Gate resolved through Resolve, which the
// HTTP API and CLI call on behalf of an operator.
type ChannelGate struct {
	mu       sync.Mutex
	pending  map[Handle]*pending
	notifier Notifier
	logger   zerolog.Logger
}

// NewChannelGate creates a gate. notifier may be nil.
func NewChannelGate(notifier Notifier) *ChannelGate {
	return &ChannelGate{
		pending:  make(map[Handle]*pending),
		notifier: notifier,
		logger:   log.WithComponent("approval"),
	}
}

// Request registers the summary and fires the notifier.
func (g *ChannelGate) Request(ctx context.Context, summary Summary) (Handle, error) {
	h := Handle(uuid.New().String())

	g.mu.Lock()
	g.pending[h] = &pending{summary: summary, ch: make(chan resolution, 1)}
	g.mu.Unlock()

	g.logger.Info().
		Str("episode_id", summary.EpisodeID).
		Str("risk_tier", string(summary.RiskTier)).
		Str("handle", string(h)).
		Msg("approval requested")

	if g.notifier != nil {
		g.notifier(summary)
	}
	return h, nil
}

// Wait blocks for a resolution. On timeout or cancellation the handle is
// removed so a late Resolve fails cleanly instead of approving a dead
// episode.
func (g *ChannelGate) Wait(ctx context.Context, h Handle, timeout time.Duration) (Decision, string, error) {
	g.mu.Lock()
	p, ok := g.pending[h]
	g.mu.Unlock()
	if !ok {
		return DecisionTimedOut, "", fmt.Errorf("unknown approval handle %s", h)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.ch:
		g.remove(h)
		return res.decision, res.approver, nil
	case <-timer.C:
		if res, ok := g.removeAndDrain(h); ok {
			return res.decision, res.approver, nil
		}
		return DecisionTimedOut, "", nil
	case <-ctx.Done():
		if res, ok := g.removeAndDrain(h); ok {
			return res.decision, res.approver, nil
		}
		return DecisionTimedOut, "", ctx.Err()
	}
}

// Resolve records an operator decision for a pending handle. The send
// happens under the gate lock: either the waiter is still registered and
// the decision is delivered, or the handle is gone and the operator gets
// an error. A nil return means the decision counted.
func (g *ChannelGate) Resolve(h Handle, approved bool, approver string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[h]
	if !ok {
		return fmt.Errorf("no pending approval for handle %s", h)
	}

	decision := DecisionRejected
	if approved {
		decision = DecisionApproved
	}

	select {
	case p.ch <- resolution{decision: decision, approver: approver}:
		return nil
	default:
		return fmt.Errorf("approval %s already resolved", h)
	}
}

// ResolveByEpisode resolves the pending approval for an episode id.
func (g *ChannelGate) ResolveByEpisode(episodeID string, approved bool, approver string) error {
	g.mu.Lock()
	var h Handle
	found := false
	for handle, p := range g.pending {
		if p.summary.EpisodeID == episodeID {
			h, found = handle, true
			break
		}
	}
	g.mu.Unlock()

	if !found {
		return fmt.Errorf("no pending approval for episode %s", episodeID)
	}
	return g.Resolve(h, approved, approver)
}

// Pending lists outstanding approval summaries.
func (g *ChannelGate) Pending() []Summary {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Summary, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p.summary)
	}
	return out
}

func (g *ChannelGate) remove(h Handle) {
	g.mu.Lock()
	delete(g.pending, h)
	g.mu.Unlock()
}

// removeAndDrain unregisters the handle and surfaces a resolution that
// won the race against the timeout, so a Resolve that returned nil is
// always honored by the waiter.
func (g *ChannelGate) removeAndDrain(h Handle) (resolution, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[h]
	if !ok {
		return resolution{}, false
	}
	delete(g.pending, h)

	select {
	case res := <-p.ch:
		return res, true
	default:
		return resolution{}, false
	}
}
