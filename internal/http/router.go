package http

import (
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"payline.dev/app/internal/gateway"
	"payline.dev/app/internal/http/handlers"
	"payline.dev/app/internal/http/middleware"
	"payline.dev/app/internal/modules/payments"
	"payline.dev/app/internal/modules/reconcile"
	"payline.dev/app/internal/modules/webhooks"
)

type RouterDeps struct {
	Logger     *slog.Logger
	Registry   *gateway.Registry
	Payments   *payments.Service
	Webhooks   *webhooks.Engine
	Reconcile  *reconcile.Engine
	AdminKey   string
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.AdminKey == "" {
		d.AdminKey = os.Getenv("ADMIN_API_KEY")
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.ErrorHandler(d.Logger))

	health := handlers.NewHealthHandler(d.Logger, d.Registry)
	r.GET("/healthz", health.Check)

	wh := handlers.NewWebhookHandler(d.Logger, d.Registry, d.Webhooks)
	r.POST("/webhooks/:provider", wh.Handle)

	pay := handlers.NewPaymentHandler(d.Logger, d.Payments)
	api := r.Group("/api")
	{
		api.POST("/payments", pay.Create)
		api.GET("/payments/:id", pay.Get)
		api.GET("/payments/:id/history", pay.History)
		api.POST("/payments/:id/confirm", pay.Confirm)
		api.POST("/payments/:id/capture", pay.Capture)
		api.GET("/charges/:id", pay.GetCharge)
		api.POST("/charges/:id/refunds", pay.Refund)
	}

	adm := handlers.NewAdminHandler(d.Logger, d.Webhooks, d.Reconcile)
	admin := api.Group("/admin", middleware.RequireAdminKey(d.AdminKey))
	{
		admin.GET("/webhooks/stats", adm.WebhookStats)
		admin.GET("/webhooks/dead-letter", adm.DeadLetterQueue)
		admin.POST("/webhooks/dead-letter/:id/retry", adm.RetryDeadLetter)
		admin.POST("/webhooks/sweep", adm.Sweep)
		admin.POST("/reconcile", adm.RunReconciliation)
		admin.GET("/anomalies", adm.Anomalies)
	}

	return r
}
