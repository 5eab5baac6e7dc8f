package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeList is an in-memory Redis list. BLPop returns redis.Nil when empty.
type fakeList struct {
	mu      sync.Mutex
	items   map[string][]string
	failPop int // number of BLPop calls to fail first
}

func newFakeList() *fakeList {
	return &fakeList{items: map[string][]string{}}
}

func (f *fakeList) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.items[key] = append(f.items[key], v.(string))
	}
	return redis.NewIntResult(int64(len(f.items[key])), nil)
}

func (f *fakeList) BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	f.mu.Lock()
	if f.failPop > 0 {
		f.failPop--
		f.mu.Unlock()
		return redis.NewStringSliceResult(nil, errors.New("connection reset by peer"))
	}
	key := keys[0]
	if len(f.items[key]) > 0 {
		v := f.items[key][0]
		f.items[key] = f.items[key][1:]
		f.mu.Unlock()
		return redis.NewStringSliceResult([]string{key, v}, nil)
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return redis.NewStringSliceResult(nil, ctx.Err())
	case <-time.After(timeout):
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
}

func (f *fakeList) LLen(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewIntResult(int64(len(f.items[key])), nil)
}

type recordingRunner struct {
	mu   sync.Mutex
	ids  []string
	done chan struct{}
	want int
}

func (r *recordingRunner) RunImport(ctx context.Context, id string) (*catalog.ImportRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	if len(r.ids) == r.want {
		close(r.done)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if id == "boom" {
		panic("runner exploded")
	}
	return &catalog.ImportRecord{ID: id, Status: catalog.ImportSucceeded}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Tests
// =============================================================================

func TestQueue_DispatchAndLen(t *testing.T) {
	list := newFakeList()
	q := &Queue{rdb: list, key: "imports"}
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := q.Dispatch(ctx, id); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", id, err)
		}
	}
	n, err := q.Len(ctx)
	if err != nil || n != 2 {
		t.Errorf("Len() = %d, %v; want 2", n, err)
	}

	id, ok, err := q.pop(ctx, time.Millisecond)
	if err != nil || !ok || id != "a" {
		t.Errorf("pop() = %q, %v, %v; want FIFO order", id, ok, err)
	}
}

func TestQueue_PopTimeout(t *testing.T) {
	q := &Queue{rdb: newFakeList(), key: "imports"}
	id, ok, err := q.pop(context.Background(), time.Millisecond)
	if err != nil || ok || id != "" {
		t.Errorf("pop() on empty queue = %q, %v, %v", id, ok, err)
	}
}

func TestWorker_RunsQueuedImportsInOrder(t *testing.T) {
	list := newFakeList()
	list.failPop = 1
	q := &Queue{rdb: list, key: "imports"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"first", "boom", "second"} {
		if err := q.Dispatch(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	retryDelay = time.Millisecond
	runner := &recordingRunner{done: make(chan struct{}), want: 3}
	w := NewWorker(q, runner, 10*time.Millisecond, discardLogger())

	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not run all imports")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	want := []string{"first", "boom", "second"}
	for i, id := range want {
		if runner.ids[i] != id {
			t.Errorf("run order = %v, want %v", runner.ids, want)
			break
		}
	}
}
