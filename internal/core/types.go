package core

import (
	"errors"
	"io"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

var (
	ErrNoFile              = errors.New("no file provided")
	ErrEmptyFile           = errors.New("empty file")
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrImportNotFound      = errors.New("import not found")
	ErrReportNotFound      = errors.New("report not found")
)

// ImportPhase is the stage of a run as seen by progress subscribers.
type ImportPhase string

const (
	PhaseQueued    ImportPhase = "queued"
	PhaseImporting ImportPhase = "importing"
	PhaseComplete  ImportPhase = "complete"
	PhaseFailed    ImportPhase = "failed"
)

// ImportProgress is broadcast after every block and once more when the run
// finishes.
type ImportProgress struct {
	ImportID  string      `json:"importId"`
	Phase     ImportPhase `json:"phase"`
	Block     int         `json:"block"`
	Line      int         `json:"line"`
	Product   string      `json:"product,omitempty"`
	Committed int         `json:"committed"`
	Failed    int         `json:"failed"`
	Percent   int         `json:"percent"`
	Error     string      `json:"error,omitempty"`
}

// Done reports whether this is the final update of the run.
func (p ImportProgress) Done() bool {
	return p.Phase == PhaseComplete || p.Phase == PhaseFailed
}

// progressFromRecord describes a run that is not tracked in memory.
func progressFromRecord(rec *catalog.ImportRecord) ImportProgress {
	p := ImportProgress{
		ImportID:  rec.ID,
		Block:     rec.Blocks,
		Committed: rec.Committed,
		Failed:    rec.Failed,
		Error:     rec.Error,
	}
	switch rec.Status {
	case catalog.ImportSucceeded:
		p.Phase, p.Percent = PhaseComplete, 100
	case catalog.ImportFailed:
		p.Phase, p.Percent = PhaseFailed, 100
	case catalog.ImportRunning:
		p.Phase = PhaseImporting
	default:
		p.Phase = PhaseQueued
	}
	return p
}

// ImportRequest is an uploaded catalog file waiting to be imported.
type ImportRequest struct {
	UserID       string
	FileName     string
	Data         io.Reader
	Size         int64 // -1 if unknown
	Encoding     string
	VariantsOnly bool
}
