package core

// scheduler.go runs the failure report janitor.
//
// Reports are kept for ReportRetention after their run finished. The
// janitor clears the report reference on the import record first and then
// deletes the file, so a record never points at a missing report for long.
// Errors are logged and retried on the next tick.

import (
	"context"
	"errors"
	"os"
	"time"
)

// JanitorConfig holds the report janitor settings.
type JanitorConfig struct {
	Retention     time.Duration // How long reports are kept (default: 720h)
	CheckInterval time.Duration // How often to run (default: 1h)
}

func (c JanitorConfig) withDefaults() JanitorConfig {
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	return c
}

// StartReportJanitor purges expired failure reports immediately and then
// every CheckInterval until ctx is cancelled.
func (s *Service) StartReportJanitor(ctx context.Context, cfg JanitorConfig) {
	cfg = cfg.withDefaults()
	s.logger.Info("report janitor started",
		"retention", cfg.Retention,
		"interval", cfg.CheckInterval,
	)

	s.purgeReports(ctx, cfg.Retention)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("report janitor stopped")
			return
		case <-ticker.C:
			s.purgeReports(ctx, cfg.Retention)
		}
	}
}

// purgeReports performs one cleanup cycle and returns the number of files
// removed.
func (s *Service) purgeReports(ctx context.Context, retention time.Duration) int {
	start := time.Now()
	paths, err := s.imports.ClearReports(ctx, s.now().Add(-retention))
	if err != nil {
		s.logger.Error("clear expired reports", "error", err)
		return 0
	}

	removed := 0
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("remove expired report", "path", path, "error", err)
			continue
		}
		removed++
	}
	if len(paths) > 0 {
		s.logger.Info("expired reports purged",
			"reports", removed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return removed
}
