// Package queue dispatches import runs through a Redis list.
//
// The web process pushes import IDs with RPUSH; a Worker pops them with
// BLPOP and runs one import at a time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// retryDelay is the pause after a failed BLPOP.
var retryDelay = time.Second

// listClient is the subset of *redis.Client the queue uses.
type listClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// Connect opens a Redis client from a redis:// URL and checks it responds.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Queue is a Redis list of pending import IDs. It implements core.Dispatcher.
type Queue struct {
	rdb listClient
	key string
}

var _ core.Dispatcher = (*Queue)(nil)

// New returns a queue on the list key.
func New(rdb *redis.Client, key string) *Queue {
	return &Queue{rdb: rdb, key: key}
}

// Dispatch appends importID to the queue.
func (q *Queue) Dispatch(ctx context.Context, importID string) error {
	if err := q.rdb.RPush(ctx, q.key, importID).Err(); err != nil {
		return fmt.Errorf("enqueue import %s: %w", importID, err)
	}
	return nil
}

// Len returns the number of queued imports.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// pop waits up to timeout for the next import ID. ok is false when the
// wait timed out.
func (q *Queue) pop(ctx context.Context, timeout time.Duration) (id string, ok bool, err error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	// BLPOP replies [key, value]
	if len(res) < 2 || res[1] == "" {
		return "", false, nil
	}
	return res[1], true, nil
}

// Worker runs queued imports one at a time.
type Worker struct {
	queue       *Queue
	runner      core.Runner
	pollTimeout time.Duration
	logger      *slog.Logger
}

// NewWorker returns a worker popping from q and running imports with runner.
func NewWorker(q *Queue, runner core.Runner, pollTimeout time.Duration, logger *slog.Logger) *Worker {
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: q, runner: runner, pollTimeout: pollTimeout, logger: logger}
}

// Run processes imports until ctx is cancelled. An import that already
// started is finished before Run returns.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("import worker started", "queue", w.queue.key)
	for {
		if ctx.Err() != nil {
			w.logger.Info("import worker stopped")
			return
		}

		id, ok, err := w.queue.pop(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("redis BLPOP failed", "queue", w.queue.key, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(retryDelay):
			}
			continue
		}
		if !ok {
			continue
		}

		w.process(context.WithoutCancel(ctx), id)
	}
}

func (w *Worker) process(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in queued import",
				"import_id", id,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	w.logger.Debug("import dequeued", "import_id", id)
	if _, err := w.runner.RunImport(ctx, id); err != nil {
		w.logger.Error("queued import failed", "import_id", id, "error", err)
	}
}
