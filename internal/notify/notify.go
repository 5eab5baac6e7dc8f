// Package notify delivers import outcome notifications.
//
// Notifiers are fire-and-forget: a failed delivery is logged and never
// returned to the import run that produced it.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

// Notification describes the outcome of one import run.
type Notification struct {
	ImportID   string               `json:"importId"`
	UserID     string               `json:"userId"`
	FileName   string               `json:"fileName"`
	Status     catalog.ImportStatus `json:"status"`
	Blocks     int                  `json:"blocks"`
	Committed  int                  `json:"committed"`
	Failed     int                  `json:"failed"`
	Warnings   int                  `json:"warnings"`
	Error      string               `json:"error,omitempty"`
	ReportName string               `json:"reportName,omitempty"`
	Report     []byte               `json:"report,omitempty"`
	FinishedAt time.Time            `json:"finishedAt"`
}

// Succeeded reports whether every block of the run committed.
func (n Notification) Succeeded() bool {
	return n.Status == catalog.ImportSucceeded
}

// FromRecord builds the notification for a finished import record.
func FromRecord(rec *catalog.ImportRecord, report []byte, reportName string) Notification {
	n := Notification{
		ImportID:   rec.ID,
		UserID:     rec.UserID,
		FileName:   rec.FileName,
		Status:     rec.Status,
		Blocks:     rec.Blocks,
		Committed:  rec.Committed,
		Failed:     rec.Failed,
		Warnings:   rec.Warnings,
		Error:      rec.Error,
		Report:     report,
		ReportName: reportName,
	}
	if rec.FinishedAt != nil {
		n.FinishedAt = *rec.FinishedAt
	}
	return n
}

// Notifier receives one notification per finished run.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"import_id", n.ImportID,
		"user_id", n.UserID,
		"file", n.FileName,
		"status", n.Status,
		"committed", n.Committed,
		"failed", n.Failed,
		"warnings", n.Warnings,
	}
	if n.Succeeded() {
		logger.InfoContext(ctx, "catalog import succeeded", attrs...)
		return
	}
	if n.Error != "" {
		attrs = append(attrs, "error", n.Error)
	}
	if n.ReportName != "" {
		attrs = append(attrs, "report", n.ReportName, "report_bytes", len(n.Report))
	}
	logger.WarnContext(ctx, "catalog import failed", attrs...)
}

// Multi fans a notification out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		notifier.Notify(ctx, n)
	}
}
