package analyzer

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/evidence"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/log"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// Analyzer produces a structured root-cause finding from evidence. It
// never mutates cluster state and never executes anything; confidence is
// self-reported and the orchestrator's threshold decides whether the
// finding is actionable.
type Analyzer interface {
	Analyze(ctx context.Context, snap *evidence.Snapshot, sig types.FailureSignature) (*types.Finding, error)
}

// Chain tries analyzers in order, returning the first finding. A later
// analyzer only runs when the earlier one errors, so a rules analyzer at
// the end keeps diagnosis available when the model endpoint is down.
type Chain struct {
	analyzers []Analyzer
	logger    zerolog.Logger
}

// NewChain builds a fallback chain. At least one analyzer is required.
func NewChain(analyzers ...Analyzer) *Chain {
	return &Chain{analyzers: analyzers, logger: log.WithComponent("analyzer")}
}

func (c *Chain) Analyze(ctx context.Context, snap *evidence.Snapshot, sig types.FailureSignature) (*types.Finding, error) {
	var lastErr error
	for i, a := range c.analyzers {
		finding, err := a.Analyze(ctx, snap, sig)
		if err == nil {
			return finding, nil
		}
		lastErr = err
		if i < len(c.analyzers)-1 {
			c.logger.Warn().Err(err).Msg("analyzer failed, falling back")
		}
	}
	return nil, lastErr
}
