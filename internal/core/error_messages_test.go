package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/catalogimport/internal/importer"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "nil error returns empty", err: nil, wantCode: ""},
		{name: "file too large", err: fmt.Errorf("%w: 200MB exceeds 100MB", ErrFileTooLarge), wantCode: "FILE001"},
		{name: "malformed header", err: &importer.MalformedInputError{Line: 1, Reason: "missing header row"}, wantCode: "FILE002"},
		{name: "malformed row mid-file", err: fmt.Errorf("read block 4: %w", &importer.MalformedInputError{Line: 9, Reason: "wrong number of fields"}), wantCode: "FILE002"},
		{name: "unknown encoding", err: errors.New(`unsupported encoding "ebcdic"`), wantCode: "FILE003"},
		{name: "missing upload", err: ErrNoFile, wantCode: "FILE004"},
		{name: "empty upload", err: ErrEmptyFile, wantCode: "FILE005"},
		{name: "wrong extension", err: fmt.Errorf("%w: .pdf", ErrUnsupportedFileType), wantCode: "FILE006"},
		{name: "limiter busy", err: ErrTooManyImports, wantCode: "IMP001"},
		{name: "unknown import", err: fmt.Errorf("%w: abc", ErrImportNotFound), wantCode: "IMP002"},
		{name: "no report", err: ErrReportNotFound, wantCode: "IMP003"},
		{name: "cancelled run wins over context error", err: errors.New("import cancelled after 3 blocks: context canceled"), wantCode: "IMP004"},
		{name: "duplicate key", err: errors.New("ERROR: duplicate key value violates unique constraint \"products_slug_idx\""), wantCode: "DB001"},
		{name: "foreign key", err: errors.New("violates foreign key constraint"), wantCode: "DB003"},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), wantCode: "DB004"},
		{name: "timeout", err: errors.New("context deadline exceeded (timeout)"), wantCode: "DB006"},
		{name: "request cancelled", err: errors.New("context canceled"), wantCode: "UPL004"},
		{name: "rate limit", err: errors.New("rate limit exceeded"), wantCode: "RATE001"},
		{name: "unknown error returns default", err: errors.New("some random internal error"), wantCode: "ERR000"},
		{name: "case insensitive matching", err: errors.New("DUPLICATE KEY value"), wantCode: "DB001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err); got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrTooManyImports)
	want := "Another import is running (Code: IMP001). Wait for it to finish and try again"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", ErrEmptyFile, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("%w: 3f1d", ErrImportNotFound)
		userErr := NewUserError(techErr)

		if userErr.Error() != "Import not found" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, ErrImportNotFound) {
			t.Error("Unwrap() should expose the original error")
		}
	})
}
