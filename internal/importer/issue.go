package importer

import (
	"errors"
	"fmt"
	"strings"
)

// Severity distinguishes problems that abort a block from ones that do not.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is a problem found while reconciling a block.
type Issue struct {
	Severity Severity
	Message  string
}

// String renders the issue the way it appears in failure reports.
func (i Issue) String() string {
	if i.Severity == SeverityWarning {
		return "WARNING: " + i.Message
	}
	return "ERROR: " + i.Message
}

// JoinIssues renders issues as a single report cell.
func JoinIssues(issues []Issue) string {
	parts := make([]string, len(issues))
	for i, is := range issues {
		parts[i] = is.String()
	}
	return strings.Join(parts, " ")
}

// Sentinel errors for block-level failures callers may want to test for.
var (
	ErrSKUMissing        = errors.New("SKU missing")
	ErrOrphanVariants    = errors.New("variant rows found before any product row")
	ErrProductNotFound   = errors.New("product does not exist")
	ErrNoDefaultLocation = errors.New("no default stock location")
)

// OptionValueMissingError reports a variant row that leaves one of the
// product's option types without a value.
type OptionValueMissingError struct {
	OptionType string
}

func (e *OptionValueMissingError) Error() string {
	return fmt.Sprintf("Value for %s not provided", e.OptionType)
}

// issueLog collects warnings while a block is reconciled.
type issueLog struct {
	issues []Issue
}

func (l *issueLog) warn(format string, args ...any) {
	l.issues = append(l.issues, Issue{Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)})
}

func (l *issueLog) fail(err error) {
	l.issues = append(l.issues, Issue{Severity: SeverityError, Message: err.Error()})
}

func (l *issueLog) hasWarnings() bool {
	for _, is := range l.issues {
		if is.Severity == SeverityWarning {
			return true
		}
	}
	return false
}
