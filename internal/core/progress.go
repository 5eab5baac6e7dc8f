package core

import (
	"context"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

// track registers rec for progress subscriptions, or returns the existing
// tracker.
func (s *Service) track(rec *catalog.ImportRecord) *activeImport {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.active[rec.ID]; ok {
		return a
	}
	a := &activeImport{
		progress: progressFromRecord(rec),
		done:     make(chan struct{}),
	}
	s.active[rec.ID] = a
	return a
}

// complete sends the final update for rec and stops tracking it after
// trackRetention.
func (s *Service) complete(rec *catalog.ImportRecord) {
	s.mu.RLock()
	a, ok := s.active[rec.ID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	final := progressFromRecord(rec)
	a.mu.Lock()
	if !a.finished {
		final.Line = a.progress.Line
		final.Product = a.progress.Product
		a.progress = final
		for _, ch := range a.listeners {
			select {
			case ch <- final:
			default:
			}
			close(ch)
		}
		a.listeners = nil
		a.finished = true
		close(a.done)
	}
	a.mu.Unlock()

	id := rec.ID
	time.AfterFunc(trackRetention, func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	})
}

// SubscribeProgress returns a channel receiving the current progress of an
// import and every update after it. The channel is closed when the run
// finishes or ctx is done. Imports not running in this process yield one
// update built from their record.
func (s *Service) SubscribeProgress(ctx context.Context, importID string) (<-chan ImportProgress, error) {
	s.mu.RLock()
	a, ok := s.active[importID]
	s.mu.RUnlock()

	if !ok {
		rec, err := s.GetImport(ctx, importID)
		if err != nil {
			return nil, err
		}
		ch := make(chan ImportProgress, 1)
		ch <- progressFromRecord(rec)
		close(ch)
		return ch, nil
	}

	ch := a.subscribe()
	go func() {
		select {
		case <-ctx.Done():
			a.unsubscribe(ch)
		case <-a.done:
		}
	}()
	return ch, nil
}

// GetProgress returns the latest progress of an import without blocking.
func (s *Service) GetProgress(ctx context.Context, importID string) (ImportProgress, error) {
	s.mu.RLock()
	a, ok := s.active[importID]
	s.mu.RUnlock()
	if ok {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.progress, nil
	}

	rec, err := s.GetImport(ctx, importID)
	if err != nil {
		return ImportProgress{}, err
	}
	return progressFromRecord(rec), nil
}

func (a *activeImport) subscribe() chan ImportProgress {
	ch := make(chan ImportProgress, 16)

	a.mu.Lock()
	defer a.mu.Unlock()

	ch <- a.progress
	if a.finished {
		close(ch)
		return ch
	}
	a.listeners = append(a.listeners, ch)
	return ch
}

func (a *activeImport) unsubscribe(ch chan ImportProgress) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, l := range a.listeners {
		if l == ch {
			a.listeners = append(a.listeners[:i], a.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// publish records p and sends it to every listener. Slow listeners miss
// intermediate updates.
func (a *activeImport) publish(p ImportProgress) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}
	a.progress = p
	for _, ch := range a.listeners {
		select {
		case ch <- p:
		default:
		}
	}
}
