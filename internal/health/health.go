// Package health aggregates readiness checks over the engine's external
// dependencies (Redis, Postgres, Temporal) for the admin HTTP endpoints.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the aggregated or per-component health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const defaultCheckTimeout = 5 * time.Second

// Checker probes one dependency. Critical checkers gate readiness; a failing
// non-critical checker only degrades the report.
type Checker interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) error
}

// CheckerFunc adapts a probe function into a Checker.
type CheckerFunc struct {
	ComponentName string
	IsCritical    bool
	Probe         func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.ComponentName }
func (c CheckerFunc) Critical() bool                  { return c.IsCritical }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Probe(ctx) }

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Critical  bool          `json:"critical"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
}

// Report is the aggregated outcome across all registered checkers.
type Report struct {
	Status    Status        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Checks    []CheckResult `json:"checks,omitempty"`
}

// Manager holds the registered checkers. Checkers register as their
// dependency comes up, so readiness tightens during startup instead of
// blocking the admin server.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	logger   *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		timeout: defaultCheckTimeout,
		logger:  logger,
	}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// RunChecks probes every registered dependency. A critical failure makes the
// report unhealthy; a non-critical failure degrades it.
func (m *Manager) RunChecks(ctx context.Context) Report {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	report := Report{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
	}

	for _, c := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		start := time.Now()
		err := c.Check(checkCtx)
		cancel()

		result := CheckResult{
			Component: c.Name(),
			Status:    StatusHealthy,
			Critical:  c.Critical(),
			Duration:  time.Since(start) / time.Millisecond,
		}
		if err != nil {
			result.Status = StatusUnhealthy
			result.Error = err.Error()
			m.logger.Warn("Health check failed",
				zap.String("component", c.Name()),
				zap.Bool("critical", c.Critical()),
				zap.Error(err),
			)
			if c.Critical() {
				report.Status = StatusUnhealthy
			} else if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
		report.Checks = append(report.Checks, result)
	}

	return report
}
