package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"payline.dev/app/internal/alert"
	"payline.dev/app/internal/archive"
	"payline.dev/app/internal/config"
	"payline.dev/app/internal/gateway"
	apphttp "payline.dev/app/internal/http"
	"payline.dev/app/internal/modules/payments"
	"payline.dev/app/internal/modules/reconcile"
	"payline.dev/app/internal/modules/webhooks"
)

func main() {
	// Load .env file (ignore error if not found - prod uses real env vars)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN environment variable is required")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	registry := gateway.FromEnv()
	registry.SetLogger(logger)

	notifier, err := alert.FromEnv()
	if err != nil {
		log.Fatalf("alert config: %v", err)
	}

	paySvc := payments.NewService(db, registry)
	paySvc.SetLogger(logger)

	whSettings := config.WebhookFromEnv()
	engine := webhooks.NewEngine(db, whSettings.Engine, webhooks.NewDispatcher(paySvc))
	engine.SetLogger(logger)
	engine.SetNotifier(notifier)

	recEngine := reconcile.NewEngine(db, registry, config.ReconcileFromEnv())
	recEngine.SetLogger(logger)
	recEngine.SetNotifier(notifier)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := archive.FromEnv(ctx)
	if err != nil {
		log.Fatalf("archive config: %v", err)
	}
	recEngine.SetArchive(store.Archive)

	worker := webhooks.NewWorker(engine, whSettings.PollInterval)
	worker.SetLogger(logger)
	worker.Start(ctx)
	defer worker.Stop()

	r := apphttp.NewRouter(apphttp.RouterDeps{
		Logger:    logger,
		Registry:  registry,
		Payments:  paySvc,
		Webhooks:  engine,
		Reconcile: recEngine,
	})

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}
