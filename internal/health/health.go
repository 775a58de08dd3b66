// Package health reports whether the service and its dependencies are up.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Status represents the health of a single dependency.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker checks one dependency.
type Checker func(ctx context.Context) Status

// Pinger is anything with a context-aware ping, such as *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingChecker reports a dependency healthy when ping succeeds.
func PingChecker(name string, p Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := p.PingContext(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// FuncChecker adapts a plain error-returning probe.
func FuncChecker(name string, probe func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Status {
		if err := probe(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Registry holds named checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	version  string
}

// NewRegistry creates an empty registry.
func NewRegistry(version string) *Registry {
	return &Registry{timeout: 2 * time.Second, version: version}
}

// Register adds a checker.
func (r *Registry) Register(check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, check)
	r.mu.Unlock()
}

// CheckAll runs every checker and reports whether all are healthy.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]Checker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	healthy = true
	statuses = make([]Status, len(checkers))
	for i, check := range checkers {
		statuses[i] = check(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

// RegisterRoutes mounts /health, /health/live and /health/ready.
func (r *Registry) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", r.ready)
	router.GET("/health/ready", r.ready)
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": r.version})
	})
}

func (r *Registry) ready(c *gin.Context) {
	healthy, statuses := r.CheckAll(c.Request.Context())
	code, status := http.StatusOK, "ok"
	if !healthy {
		code, status = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(code, gin.H{
		"status":  status,
		"version": r.version,
		"checks":  statuses,
	})
}
