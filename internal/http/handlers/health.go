package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"payline.dev/app/internal/gateway"
)

type HealthHandler struct {
	Logger   *slog.Logger
	Registry *gateway.Registry
}

func NewHealthHandler(logger *slog.Logger, reg *gateway.Registry) *HealthHandler {
	return &HealthHandler{Logger: logger, Registry: reg}
}

// GET /healthz
// Always 200; load balancers care about the process, operators read the
// per-provider breakdown.
func (h *HealthHandler) Check(c *gin.Context) {
	agg := h.Registry.HealthCheckAll(c.Request.Context())

	providers := gin.H{}
	for name, hs := range agg.Providers {
		providers[name] = gin.H{
			"healthy":    hs.Healthy,
			"latency_ms": hs.Latency.Milliseconds(),
			"detail":     hs.Detail,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     agg.Status,
		"providers":  providers,
		"checked_at": agg.CheckedAt,
	})
}
