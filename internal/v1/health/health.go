// Package health exposes liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/confessbox/confessbox/internal/v1/types"
	"github.com/gin-gonic/gin"
)

// Checker answers the health endpoints. Readiness degrades, not fails, when
// the cache is down: the server still serves single-instance traffic.
type Checker struct {
	cache types.CacheService
}

func NewChecker(cacheService types.CacheService) *Checker {
	return &Checker{cache: cacheService}
}

// Live is the liveness probe: the process is up.
func (h *Checker) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready is the readiness probe. Reports cache connectivity alongside overall
// status.
func (h *Checker) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	cacheStatus := "ok"
	if err := h.cache.Ping(ctx); err != nil {
		cacheStatus = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"cache":  cacheStatus,
	})
}
