package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// LocalDispatcher runs each import on its own goroutine in this process.
// The limiter inside RunImport keeps the runs sequential.
type LocalDispatcher struct {
	runner Runner
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewLocalDispatcher returns a dispatcher calling runner.
func NewLocalDispatcher(runner Runner, logger *slog.Logger) *LocalDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalDispatcher{runner: runner, logger: logger}
}

// Dispatch starts the run. The run outlives ctx, which usually belongs to
// the upload request.
func (d *LocalDispatcher) Dispatch(ctx context.Context, importID string) error {
	runCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("panic in catalog import",
					"import_id", importID,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
			}
		}()

		if _, err := d.runner.RunImport(runCtx, importID); err != nil {
			d.logger.Error("catalog import run failed", "import_id", importID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched run returned or ctx is done.
func (d *LocalDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
