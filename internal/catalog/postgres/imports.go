package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

const importColumns = `id::text, user_id, file_name, file_path, encoding, variants_only, status,
	blocks, committed, failed, warnings, error, report_path, created_at, started_at, finished_at`

func scanImport(row pgx.Row) (catalog.ImportRecord, error) {
	var (
		r      catalog.ImportRecord
		status string
	)
	err := row.Scan(&r.ID, &r.UserID, &r.FileName, &r.FilePath, &r.Encoding, &r.VariantsOnly, &status,
		&r.Blocks, &r.Committed, &r.Failed, &r.Warnings, &r.Error, &r.ReportPath,
		&r.CreatedAt, &r.StartedAt, &r.FinishedAt)
	r.Status = catalog.ImportStatus(status)
	return r, err
}

func (s *Store) CreateImport(ctx context.Context, rec *catalog.ImportRecord) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return fmt.Errorf("import id %q: %w", rec.ID, err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO catalog_imports (id, user_id, file_name, file_path, encoding, variants_only, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		id, rec.UserID, rec.FileName, rec.FilePath, rec.Encoding, rec.VariantsOnly, string(rec.Status),
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert import: %w", err)
	}
	return nil
}

func (s *Store) UpdateImport(ctx context.Context, rec *catalog.ImportRecord) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return fmt.Errorf("import id %q: %w", rec.ID, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE catalog_imports SET status = $2, blocks = $3, committed = $4, failed = $5, warnings = $6,
		     error = $7, report_path = $8, started_at = $9, finished_at = $10
		 WHERE id = $1`,
		id, string(rec.Status), rec.Blocks, rec.Committed, rec.Failed, rec.Warnings,
		rec.Error, rec.ReportPath, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("update import: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("import %s: %w", rec.ID, catalog.ErrNotFound)
	}
	return nil
}

func (s *Store) GetImport(ctx context.Context, id string) (*catalog.ImportRecord, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", id, catalog.ErrNotFound)
	}
	rec, err := scanImport(s.pool.QueryRow(ctx,
		`SELECT `+importColumns+` FROM catalog_imports WHERE id = $1`, uid))
	if err != nil {
		return nil, lookupErr(err, "import", id)
	}
	return &rec, nil
}

func (s *Store) ClearReports(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE catalog_imports c SET report_path = ''
		 FROM (SELECT id, report_path FROM catalog_imports
		       WHERE report_path <> '' AND finished_at < $1 FOR UPDATE) old
		 WHERE c.id = old.id
		 RETURNING old.report_path`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("clear reports: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
