package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

const checkTimeout = 2 * time.Second

// CheckFunc tests one dependency. A nil error means the dependency can
// serve traffic.
type CheckFunc func(ctx context.Context) error

// Manager gates readiness on an explicit flag plus a set of named
// dependency checks. The flag covers startup and drain; the checks catch a
// dependency dying underneath a running process.
type Manager struct {
	ready  atomic.Bool
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewManager(initialReady bool) *Manager {
	m := &Manager{checks: make(map[string]CheckFunc)}
	m.ready.Store(initialReady)
	return m
}

func (m *Manager) AddCheck(name string, check CheckFunc) {
	if name == "" || check == nil {
		return
	}
	m.mu.Lock()
	m.checks[name] = check
	m.mu.Unlock()
}

func (m *Manager) SetReady(ready bool) {
	m.ready.Store(ready)
}

func (m *Manager) IsReady() bool {
	return m.ready.Load()
}

func (m *Manager) runChecks(ctx context.Context) (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]string, len(m.checks))
	healthy := true
	for name, check := range m.checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check(checkCtx)
		cancel()
		if err != nil {
			results[name] = "error: " + err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}
	return results, healthy
}

func LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func ReadinessHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.IsReady() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		checks, healthy := m.runChecks(c.Request.Context())
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
	}
}
