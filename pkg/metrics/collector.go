package metrics

import (
	"time"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/storage"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

var episodeStates = []types.EpisodeState{
	types.StateIntake,
	types.StateCorrelating,
	types.StatePlanning,
	types.StateRiskGating,
	types.StateAwaitingApproval,
	types.StateExecuting,
	types.StateVerifying,
	types.StateVerified,
	types.StateFailed,
	types.StateLearning,
	types.StateClosed,
	types.StateAborted,
}

// Collector periodically refreshes state gauges from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	episodes, err := c.store.ListEpisodes()
	if err != nil {
		return
	}

	counts := make(map[types.EpisodeState]int)
	active := 0
	for _, ep := range episodes {
		counts[ep.State]++
		if !ep.State.Terminal() {
			active++
		}
	}

	// Zero stale gauges so states with no episodes read 0, not their
	// last value.
	for _, state := range episodeStates {
		EpisodesByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
	ActiveEpisodes.Set(float64(active))
}
