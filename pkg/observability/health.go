package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

// CheckFunc reports the health of one dependency
type CheckFunc func(ctx context.Context) error

// HealthChecker provides health check functionality
type HealthChecker struct {
	version string
	redis   redis.UniversalClient

	mu     sync.RWMutex
	checks map[string]check
}

type check struct {
	fn       CheckFunc
	critical bool
}

// NewHealthChecker creates a new health checker. redis may be nil when the
// in-memory storage backend is used.
func NewHealthChecker(version string, redis redis.UniversalClient) *HealthChecker {
	return &HealthChecker{
		version: version,
		redis:   redis,
		checks:  make(map[string]check),
	}
}

// AddCheck registers a named dependency. A failing critical check makes the
// service unhealthy, any other failing check only degrades it.
func (h *HealthChecker) AddCheck(name string, critical bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check{fn: fn, critical: critical}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns a readiness probe (checks all dependencies)
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")

	// Return 503 if unhealthy, 200 if healthy or degraded
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(status)
}

// Check performs a comprehensive health check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	// Credentials live in Redis when it is configured, so it is critical
	if h.redis != nil {
		redisStatus := h.checkRedis(ctx)
		status.Dependencies["redis"] = redisStatus
		status.Status = worst(status.Status, redisStatus.Status)
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		h.mu.RLock()
		c := h.checks[name]
		h.mu.RUnlock()

		dep := run(ctx, c.fn)
		status.Dependencies[name] = dep
		if dep.Status == StatusUnhealthy && !c.critical {
			status.Status = worst(status.Status, StatusDegraded)
			continue
		}
		status.Status = worst(status.Status, dep.Status)
	}

	return status
}

// checkRedis checks Redis health
func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	return run(ctx, func(ctx context.Context) error {
		return h.redis.Ping(ctx).Err()
	})
}

func run(ctx context.Context, fn CheckFunc) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: start,
	}
	err := fn(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

func worst(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(r *mux.Router, checker *HealthChecker) {
	r.HandleFunc("/healthz", checker.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", checker.Readiness).Methods(http.MethodGet)
}
