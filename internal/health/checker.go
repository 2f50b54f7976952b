// Package health aggregates liveness probes for the service's backing
// dependencies and serves the result on /healthz.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const probeTimeout = 5 * time.Second

// Probe pings one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// Checker runs named probes concurrently and reports per-dependency status.
type Checker struct {
	mu     sync.Mutex
	probes map[string]Probe
	logger *zap.Logger
}

func New(logger *zap.Logger) *Checker {
	return &Checker{probes: make(map[string]Probe), logger: logger}
}

// Register adds a named dependency probe. Safe before serving starts; not
// intended for concurrent use with Check.
func (c *Checker) Register(name string, p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = p
}

// Check runs every probe with an individual timeout and returns the status
// per dependency plus overall health.
func (c *Checker) Check(ctx context.Context) (map[string]string, bool) {
	c.mu.Lock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.Unlock()

	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(probes))
	for name, p := range probes {
		go func(name string, p Probe) {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			results <- result{name: name, err: p(pctx)}
		}(name, p)
	}

	statuses := make(map[string]string, len(probes))
	healthy := true
	for range probes {
		r := <-results
		if r.err != nil {
			statuses[r.name] = "unhealthy: " + r.err.Error()
			healthy = false
			c.logger.Warn("dependency probe failed", zap.String("dependency", r.name), zap.Error(r.err))
		} else {
			statuses[r.name] = "ok"
		}
	}
	return statuses, healthy
}

// Handler serves the aggregate health as JSON. 200 when every dependency is
// healthy, 503 otherwise.
func (c *Checker) Handler() gin.HandlerFunc {
	return func(g *gin.Context) {
		statuses, healthy := c.Check(g.Request.Context())
		status := http.StatusOK
		overall := "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}
		g.JSON(status, gin.H{"status": overall, "dependencies": statuses})
	}
}
