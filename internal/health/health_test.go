package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func checker(name string, critical bool, err error) Checker {
	return CheckerFunc{
		ComponentName: name,
		IsCritical:    critical,
		Probe:         func(ctx context.Context) error { return err },
	}
}

func TestRunChecksAggregation(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(checker("redis", true, nil))
	m.Register(checker("postgres", true, nil))

	report := m.RunChecks(context.Background())
	if report.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
}

func TestCriticalFailureIsUnhealthy(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(checker("redis", true, errors.New("connection refused")))
	m.Register(checker("postgres", true, nil))

	report := m.RunChecks(context.Background())
	if report.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", report.Status)
	}
	if report.Checks[0].Error != "connection refused" {
		t.Fatalf("unexpected error %q", report.Checks[0].Error)
	}
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(checker("redis", true, nil))
	m.Register(checker("postgres", false, errors.New("no DATABASE_URL")))

	report := m.RunChecks(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
}

func TestNoCheckersIsHealthy(t *testing.T) {
	m := NewManager(zap.NewNop())
	if got := m.RunChecks(context.Background()).Status; got != StatusHealthy {
		t.Fatalf("empty manager must report healthy, got %s", got)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(checker("redis", true, errors.New("down")))

	mux := http.NewServeMux()
	NewHandler(m, zap.NewNop()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy report, got %s", report.Status)
	}

	// Liveness stays green regardless.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from liveness, got %d", rec.Code)
	}
}
