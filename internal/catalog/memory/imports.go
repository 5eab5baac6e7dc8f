package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

var _ catalog.ImportStore = (*Store)(nil)

func (s *Store) CreateImport(_ context.Context, rec *catalog.ImportRecord) error {
	s.importsMu.Lock()
	defer s.importsMu.Unlock()

	if _, exists := s.imports[rec.ID]; exists {
		return fmt.Errorf("import %s already exists", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.imports[rec.ID] = *rec
	return nil
}

func (s *Store) UpdateImport(_ context.Context, rec *catalog.ImportRecord) error {
	s.importsMu.Lock()
	defer s.importsMu.Unlock()

	if _, exists := s.imports[rec.ID]; !exists {
		return fmt.Errorf("import %s: %w", rec.ID, catalog.ErrNotFound)
	}
	s.imports[rec.ID] = *rec
	return nil
}

func (s *Store) GetImport(_ context.Context, id string) (*catalog.ImportRecord, error) {
	s.importsMu.RLock()
	defer s.importsMu.RUnlock()

	rec, ok := s.imports[id]
	if !ok {
		return nil, fmt.Errorf("import %s: %w", id, catalog.ErrNotFound)
	}
	return &rec, nil
}

func (s *Store) ClearReports(_ context.Context, cutoff time.Time) ([]string, error) {
	s.importsMu.Lock()
	defer s.importsMu.Unlock()

	var cleared []string
	for id, rec := range s.imports {
		if rec.ReportPath == "" || rec.FinishedAt == nil || !rec.FinishedAt.Before(cutoff) {
			continue
		}
		cleared = append(cleared, rec.ReportPath)
		rec.ReportPath = ""
		s.imports[id] = rec
	}
	return cleared, nil
}
