package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck probes one dependency; nil means healthy.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports dependency health
type HealthHandler struct {
	version string
	checks  map[string]HealthCheck
	timeout time.Duration
}

// NewHealthHandler creates a health handler
func NewHealthHandler(version string, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{
		version: version,
		checks:  checks,
		timeout: 5 * time.Second,
	}
}

// Health 503 when any check fails
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	services := make(map[string]interface{}, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			healthy = false
			services[name] = gin.H{"healthy": false, "error": err.Error()}
			continue
		}
		services[name] = gin.H{"healthy": true, "status": "connected"}
	}

	health := gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"version":   h.version,
		"services":  services,
	}
	if !healthy {
		health["status"] = "error"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	c.JSON(http.StatusOK, health)
}

// Ping liveness probe
func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "pong",
		"timestamp": time.Now().Unix(),
	})
}
