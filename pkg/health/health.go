package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/log"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/metrics"
)

// CheckType represents the type of dependency check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a dependency check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one external dependency of the guardian.
type Checker interface {
	// Check performs the probe and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of check
	Type() CheckType
}

// Config contains common configuration for dependency monitoring
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout is the maximum time to wait for a probe to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status tracks the probe history of one dependency
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result

	// Healthy flips false only after Retries consecutive failures, so a
	// single dropped probe never marks the daemon unready.
	Healthy bool
}

// NewStatus creates a new Status assuming health until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update applies a new probe result to the status
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
}

// Monitor periodically probes registered dependencies and reflects the
// outcome into the readiness components, so an unreachable cluster or
// analyzer endpoint turns the daemon unready before an episode trips on it.
type Monitor struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry

	stopCh chan struct{}
	doneCh chan struct{}
	logger zerolog.Logger
}

type entry struct {
	checker Checker
	status  *Status
}

// NewMonitor creates a dependency monitor
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		cfg:     cfg,
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  log.WithComponent("health"),
	}
}

// Register adds a dependency under the given readiness component name.
// The component is registered healthy; probes take over from there.
func (m *Monitor) Register(component string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[component] = &entry{checker: checker, status: NewStatus()}
	metrics.RegisterComponent(component, true, "awaiting first probe")
}

// Start begins periodic probing in the background
func (m *Monitor) Start() {
	go m.loop()
}

// Stop halts probing and waits for the loop to exit
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.runChecks()
	for {
		select {
		case <-ticker.C:
			m.runChecks()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) runChecks() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for component, e := range m.entries {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
		result := e.checker.Check(ctx)
		cancel()

		e.status.Update(result, m.cfg)
		metrics.UpdateComponent(component, e.status.Healthy, result.Message)

		if !result.Healthy {
			m.logger.Warn().
				Str("dependency", component).
				Str("check", string(e.checker.Type())).
				Int("consecutive_failures", e.status.ConsecutiveFailures).
				Msg(result.Message)
		}
	}
}
