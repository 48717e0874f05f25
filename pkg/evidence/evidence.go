package evidence

import (
	"context"
	"time"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// Window bounds the time range a collection covers.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// LastWindow returns a window ending now with the given lookback.
func LastWindow(lookback time.Duration) Window {
	now := time.Now().UTC()
	return Window{From: now.Add(-lookback), To: now}
}

// LogLine is one log record pulled for a target.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// KubeEvent is a Kubernetes event projected into the snapshot.
type KubeEvent struct {
	Reason   string    `json:"reason"`
	Kind     string    `json:"kind"`
	Object   string    `json:"object"`
	Message  string    `json:"message"`
	Count    int32     `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// PodState summarizes one pod's failure-relevant status.
type PodState struct {
	Name             string `json:"name"`
	Phase            string `json:"phase"`
	Restarts         int32  `json:"restarts"`
	WaitingReason    string `json:"waiting_reason,omitempty"`
	TerminatedReason string `json:"terminated_reason,omitempty"`
	Ready            bool   `json:"ready"`
}

// MetricPoint is one metric observation.
type MetricPoint struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Snapshot is the read-only evidence bundle for a target within a window.
type Snapshot struct {
	Target      types.Target  `json:"target"`
	Window      Window        `json:"window"`
	CollectedAt time.Time     `json:"collected_at"`
	Logs        []LogLine     `json:"logs,omitempty"`
	Events      []KubeEvent   `json:"events,omitempty"`
	Pods        []PodState    `json:"pods,omitempty"`
	Metrics     []MetricPoint `json:"metrics,omitempty"`
}

// Collector pulls log/metric/event snapshots for a target. Implementations
// must be read-only and idempotent.
type Collector interface {
	Collect(ctx context.Context, target types.Target, window Window) (*Snapshot, error)
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func(ctx context.Context, target types.Target, window Window) (*Snapshot, error)

func (f CollectorFunc) Collect(ctx context.Context, target types.Target, window Window) (*Snapshot, error) {
	return f(ctx, target, window)
}
