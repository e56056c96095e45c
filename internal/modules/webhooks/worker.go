package webhooks

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Worker runs the engine's sweep on a fixed poll interval. Stop cancels the
// in-flight sweep through its context and waits for drain.
type Worker struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWorker(engine *Engine, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{engine: engine, interval: interval, logger: slog.Default()}
}

func (w *Worker) SetLogger(logger *slog.Logger) { w.logger = logger }

func (w *Worker) Running() bool { return w.running.Load() }

// Start launches the poll loop. Calling Start on a running worker is a
// no-op.
func (w *Worker) Start(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.logger.InfoContext(ctx, "webhook worker started", "interval", w.interval)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.logger.Info("webhook worker stopped")
				return
			case <-ticker.C:
				if _, err := w.engine.Sweep(ctx); err != nil && ctx.Err() == nil {
					w.logger.ErrorContext(ctx, "webhook sweep failed", "err", err)
				}
			}
		}
	}()
}

// Stop cancels the loop and any in-flight per-event work, then waits for the
// goroutine to drain.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	w.cancel()
	w.wg.Wait()
}
