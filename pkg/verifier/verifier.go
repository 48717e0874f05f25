package verifier

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/evidence"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/log"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/signature"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// maxConsecutiveCollectErrors bounds tolerated evidence-collection
// failures before verification escalates as unverified.
const maxConsecutiveCollectErrors = 3

// Verifier polls fresh evidence after execution and decides whether the
// original failure condition has cleared.
type Verifier struct {
	collector evidence.Collector
	interval  time.Duration
	window    time.Duration
	lookback  time.Duration
	logger    zerolog.Logger
}

// New creates a verifier. interval is the poll cadence, window the total
// observation budget, lookback the evidence span per poll.
func New(collector evidence.Collector, interval, window, lookback time.Duration) *Verifier {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	if lookback <= 0 {
		lookback = 2 * time.Minute
	}
	return &Verifier{
		collector: collector,
		interval:  interval,
		window:    window,
		lookback:  lookback,
		logger:    log.WithComponent("verifier"),
	}
}

// Verify polls until the original signature's signals are absent from
// fresh evidence, the observation window closes, or ctx is canceled.
//
// Returns (true, nil) on recovery; (false, nil) when the window closed
// with the failure still present; (false, err) with an unverified-class
// error when evidence collection itself broke down or ctx was canceled
// mid-observation.
func (v *Verifier) Verify(ctx context.Context, episodeID string, target types.Target, original types.FailureSignature) (bool, error) {
	logger := v.logger.With().Str("episode_id", episodeID).Str("target", target.String()).Logger()
	deadline := time.Now().Add(v.window)

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	collectErrors := 0
	for {
		select {
		case <-ctx.Done():
			return false, types.UnverifiedErr("verify", ctx.Err())
		case <-ticker.C:
		}

		snap, err := v.collector.Collect(ctx, target, evidence.LastWindow(v.lookback))
		if err != nil {
			collectErrors++
			logger.Warn().Err(err).Int("consecutive", collectErrors).Msg("evidence collection failed during verification")
			if collectErrors >= maxConsecutiveCollectErrors {
				return false, types.UnverifiedErr("verify",
					fmt.Errorf("evidence collection failed %d times: %w", collectErrors, err))
			}
			continue
		}
		collectErrors = 0

		fresh := evidence.DeriveSignature(snap)
		if signature.Cleared(original, fresh) {
			logger.Info().Msg("failure signature cleared, remediation verified")
			return true, nil
		}
		logger.Debug().Int("fresh_signals", len(fresh.Signals)).Msg("failure still present")

		if time.Now().After(deadline) {
			logger.Warn().Msg("verification window closed with failure still present")
			return false, nil
		}
	}
}
