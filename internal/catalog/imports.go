package catalog

import (
	"context"
	"time"
)

// ImportStatus is the lifecycle state of an import run.
type ImportStatus string

const (
	ImportPending   ImportStatus = "pending"
	ImportRunning   ImportStatus = "running"
	ImportSucceeded ImportStatus = "succeeded"
	ImportFailed    ImportStatus = "failed"
)

// Finished reports whether the run reached a terminal state.
func (s ImportStatus) Finished() bool {
	return s == ImportSucceeded || s == ImportFailed
}

// ImportRecord tracks one uploaded catalog file and the outcome of its run.
type ImportRecord struct {
	ID           string       `json:"id"`
	UserID       string       `json:"userId"`
	FileName     string       `json:"fileName"`
	FilePath     string       `json:"-"`
	Encoding     string       `json:"encoding"`
	VariantsOnly bool         `json:"variantsOnly"`
	Status       ImportStatus `json:"status"`
	Blocks       int          `json:"blocks"`
	Committed    int          `json:"committed"`
	Failed       int          `json:"failed"`
	Warnings     int          `json:"warnings"`
	Error        string       `json:"error,omitempty"`
	ReportPath   string       `json:"-"`
	CreatedAt    time.Time    `json:"createdAt"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	FinishedAt   *time.Time   `json:"finishedAt,omitempty"`
}

// HasReport reports whether a failure report was written for the run.
func (r *ImportRecord) HasReport() bool {
	return r.ReportPath != ""
}

// ImportStore persists import records outside the per-block transactions.
type ImportStore interface {
	CreateImport(ctx context.Context, rec *ImportRecord) error
	UpdateImport(ctx context.Context, rec *ImportRecord) error
	GetImport(ctx context.Context, id string) (*ImportRecord, error)
	// ClearReports drops report references for runs finished before cutoff
	// and returns the paths that were cleared.
	ClearReports(ctx context.Context, cutoff time.Time) ([]string, error)
}
