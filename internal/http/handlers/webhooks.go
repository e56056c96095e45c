package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"payline.dev/app/internal/gateway"
	"payline.dev/app/internal/modules/webhooks"
)

type WebhookHandler struct {
	Logger   *slog.Logger
	Registry *gateway.Registry
	Engine   *webhooks.Engine
}

func NewWebhookHandler(logger *slog.Logger, reg *gateway.Registry, engine *webhooks.Engine) *WebhookHandler {
	return &WebhookHandler{Logger: logger, Registry: reg, Engine: engine}
}

// POST /webhooks/:provider
// Body is raw JSON; signature header validated by the provider adapter.
// Ingestion only records the event; processing happens on the retry sweep,
// so providers get a fast 200 and their own retry never interleaves with
// ours.
func (h *WebhookHandler) Handle(c *gin.Context) {
	provider := c.Param("provider")

	adapter, err := h.Registry.Get(provider)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "unknown provider"})
		return
	}
	verifier, ok := adapter.(gateway.WebhookVerifier)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "provider does not deliver webhooks"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	n, err := verifier.VerifyWebhook(c.Request.Header, body)
	if err != nil {
		h.Logger.Warn("webhook rejected", "provider", provider, "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid signature or payload"})
		return
	}

	ev, err := h.Engine.Ingest(c.Request.Context(), provider, n, body)
	if err != nil {
		// 500 => provider retries delivery
		h.Logger.Error("webhook ingest failed", "provider", provider, "event_id", n.EventID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "event_id": ev.EventID, "status": ev.ProcessingStatus})
}
