package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/spigotlabs/spigot/internal/metrics"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
	statusTimeout   = "timeout"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the body of the liveness, readiness and startup endpoints.
type StatusResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

type registeredCheck struct {
	checker  HealthChecker
	optional bool
}

// HealthManager runs registered checks for the health endpoints. A failing
// optional check (the wallet node, say) degrades the service instead of
// failing the check.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]registeredCheck
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]registeredCheck),
		version:  version,
	}
}

// RegisterChecker registers a check whose failure makes the service unhealthy.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.register(name, checker, false)
}

// RegisterOptionalChecker registers a check whose failure only degrades the service.
func (hm *HealthManager) RegisterOptionalChecker(name string, checker HealthChecker) {
	hm.register(name, checker, true)
}

func (hm *HealthManager) register(name string, checker HealthChecker, optional bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = registeredCheck{checker: checker, optional: optional}
}

// runHealthChecks executes all registered checks concurrently.
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	registered := make(map[string]registeredCheck, len(hm.checkers))
	for name, check := range hm.checkers {
		registered[name] = check
	}
	hm.mu.RUnlock()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(registered))
	)
	for name, check := range registered {
		wg.Add(1)
		go func(name string, check registeredCheck) {
			defer wg.Done()
			start := time.Now()
			status := runCheck(ctx, check)
			metrics.RecordHealthCheck(name, status, time.Since(start))

			mu.Lock()
			checks[name] = status
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	return checks
}

func runCheck(ctx context.Context, check registeredCheck) string {
	done := make(chan error, 1)
	go func() { done <- check.checker.CheckHealth(ctx) }()

	select {
	case <-ctx.Done():
		return statusTimeout
	case err := <-done:
		switch {
		case err == nil:
			return statusHealthy
		case check.optional:
			return statusDegraded
		default:
			return statusUnhealthy
		}
	}
}

// determineOverallStatus determines overall health status
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == statusUnhealthy {
			return statusUnhealthy
		}
		if status == statusDegraded || status == statusTimeout {
			degraded = true
		}
	}

	if degraded {
		return statusDegraded
	}
	return statusHealthy
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx)
	status := hm.determineOverallStatus(checks)

	if status == statusUnhealthy {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "aggregate health check failed")
		respondWithError(w, r, enrichHealthEnvelope(envelope, "", status, checks))
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports that the process is serving requests. It runs no checks.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: statusHealthy, Timestamp: time.Now().UTC()})
}

// ReadinessHandler reports whether required checks pass.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.gate(w, r, "ready", 5*time.Second)
}

// StartupHandler reports whether startup checks pass.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.gate(w, r, "startup", 3*time.Second)
}

func (hm *HealthManager) gate(w http.ResponseWriter, r *http.Request, stage string, timeout time.Duration) {
	checkCtx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx)
	status := hm.determineOverallStatus(checks)

	if status == statusUnhealthy {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", stage+" check failed")
		respondWithError(w, r, enrichHealthEnvelope(envelope, stage, status, checks))
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: status, Timestamp: time.Now().UTC()})
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, stage, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if stage != "" {
		details["stage"] = stage
	}
	envelope = envelope.WithDetails(details)

	var unhealthy []string
	for name, result := range checks {
		if result != statusHealthy {
			unhealthy = append(unhealthy, name)
		}
	}
	sort.Strings(unhealthy)

	contextData := map[string]interface{}{"status": status}
	if len(unhealthy) > 0 {
		contextData["unhealthy_checks"] = unhealthy
	}

	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
