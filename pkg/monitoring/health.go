package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health of a component
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker defines a named health check
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthManager aggregates health checks for the service
type HealthManager struct {
	mu       sync.RWMutex
	checkers []HealthChecker
}

// NewHealthManager creates a new health manager
func NewHealthManager() *HealthManager {
	return &HealthManager{}
}

// Register adds a health checker
func (h *HealthManager) Register(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
}

// Handler returns an HTTP handler that reports aggregate health
func (h *HealthManager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Checks:    make(map[string]string),
		}

		h.mu.RLock()
		checkers := make([]HealthChecker, len(h.checkers))
		copy(checkers, h.checkers)
		h.mu.RUnlock()

		httpStatus := http.StatusOK
		for _, checker := range checkers {
			if err := checker.Check(ctx); err != nil {
				status.Status = "unhealthy"
				status.Checks[checker.Name()] = err.Error()
				httpStatus = http.StatusServiceUnavailable
			} else {
				status.Checks[checker.Name()] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus)
		json.NewEncoder(w).Encode(status)
	})
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewDatabaseChecker creates a database health checker
func NewDatabaseChecker(name string, ping func(ctx context.Context) error) *DatabaseChecker {
	return &DatabaseChecker{name: name, ping: ping}
}

func (d *DatabaseChecker) Name() string { return d.name }

func (d *DatabaseChecker) Check(ctx context.Context) error {
	return d.ping(ctx)
}

// HTTPChecker checks reachability of an upstream HTTP endpoint
type HTTPChecker struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPChecker creates an HTTP health checker
func NewHTTPChecker(name, url string) *HTTPChecker {
	return &HTTPChecker{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 3 * time.Second},
	}
}

func (c *HTTPChecker) Name() string { return c.name }

func (c *HTTPChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return nil
}
