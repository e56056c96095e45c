package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"payline.dev/app/internal/http/middleware"
	"payline.dev/app/internal/http/validation"
	"payline.dev/app/internal/modules/reconcile"
	"payline.dev/app/internal/modules/webhooks"
	"payline.dev/app/internal/shared/apperr"
)

type AdminHandler struct {
	Logger    *slog.Logger
	Engine    *webhooks.Engine
	Reconcile *reconcile.Engine
}

func NewAdminHandler(logger *slog.Logger, engine *webhooks.Engine, rec *reconcile.Engine) *AdminHandler {
	return &AdminHandler{Logger: logger, Engine: engine, Reconcile: rec}
}

// GET /api/admin/webhooks/stats
func (h *AdminHandler) WebhookStats(c *gin.Context) {
	stats, err := h.Engine.Stats(c.Request.Context())
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GET /api/admin/webhooks/dead-letter
func (h *AdminHandler) DeadLetterQueue(c *gin.Context) {
	events, err := h.Engine.DeadLetterQueue(c.Request.Context())
	if err != nil {
		failDomain(c, err)
		return
	}
	out := make([]gin.H, 0, len(events))
	for _, ev := range events {
		out = append(out, gin.H{
			"id":          ev.ID,
			"provider":    ev.Provider,
			"event_id":    ev.EventID,
			"event_type":  ev.EventType,
			"retry_count": ev.RetryCount,
			"error":       ev.ErrorMessage,
			"received_at": ev.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "events": out})
}

// POST /api/admin/webhooks/dead-letter/:id/retry
func (h *AdminHandler) RetryDeadLetter(c *gin.Context) {
	id := c.Param("id")
	if err := h.Engine.RetryDeadLetter(c.Request.Context(), id); err != nil {
		failDomain(c, err)
		return
	}
	h.Logger.Info("dead-letter event requeued", "id", id)
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": id})
}

// POST /api/admin/webhooks/sweep
// Manual trigger alongside the background worker, mostly for operations.
func (h *AdminHandler) Sweep(c *gin.Context) {
	stats, err := h.Engine.Sweep(c.Request.Context())
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"picked":      stats.Picked,
		"succeeded":   stats.Succeeded,
		"failed":      stats.Failed,
		"dead_letter": stats.DeadLetter,
	})
}

type reconcileRequest struct {
	Start    time.Time `json:"start" binding:"required"`
	End      time.Time `json:"end" binding:"required"`
	Provider string    `json:"provider"`
}

// POST /api/admin/reconcile
// Runs synchronously; the window should be kept to what one request can
// chew through.
func (h *AdminHandler) RunReconciliation(c *gin.Context) {
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Request is invalid.", validation.FromBindError(err, &req)))
		return
	}
	if !req.End.After(req.Start) {
		middleware.Fail(c, apperr.InvalidErr("Request is invalid.",
			map[string]string{"end": "Must be after start."}))
		return
	}

	report, err := h.Reconcile.ReconcilePayments(c.Request.Context(), req.Start, req.End, req.Provider)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GET /api/admin/anomalies?start=...&end=...
func (h *AdminHandler) Anomalies(c *gin.Context) {
	start, end, err := parseWindow(c)
	if err != nil {
		middleware.Fail(c, apperr.InvalidErr("Request is invalid.",
			map[string]string{"_": "start and end must be RFC3339 timestamps with end after start."}))
		return
	}

	ctx := c.Request.Context()
	outliers, err := h.Reconcile.AmountOutliers(ctx, start, end)
	if err != nil {
		failDomain(c, err)
		return
	}
	rapid, err := h.Reconcile.RapidRepeatPayments(ctx, start, end)
	if err != nil {
		failDomain(c, err)
		return
	}
	failures, err := h.Reconcile.FailureClusters(ctx, start, end)
	if err != nil {
		failDomain(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"amount_outliers":  outliers,
		"rapid_payments":   rapid,
		"failure_clusters": failures,
	})
}

func parseWindow(c *gin.Context) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errWindow
	}
	return start, end, nil
}

var errWindow = &windowError{}

type windowError struct{}

func (*windowError) Error() string { return "end must be after start" }
