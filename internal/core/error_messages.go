package core

// # Error Codes Reference
//
// Errors shown to API clients carry a code that support staff can look up
// here. Codes are grouped by category.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: File exceeds the maximum import size
//	          Action: Split the catalog into smaller files
//	          Patterns: "file too large"
//
//	FILE002 - Malformed file: The file could not be read as a table
//	          Action: Check the header row and that every row has the same number of columns
//	          Patterns: "malformed input"
//
//	FILE003 - Encoding error: The file's character encoding is not supported
//	          Action: Use iso-8859-1, windows-1252 or utf-8
//	          Patterns: "unsupported encoding"
//
//	FILE004 - No file: No file was attached to the request
//	          Action: Attach the catalog as the "file" form field
//	          Patterns: "no file provided"
//
//	FILE005 - Empty file: The uploaded file is empty
//	          Action: Upload a catalog with a header and data rows
//	          Patterns: "empty file"
//
//	FILE006 - Unsupported type: Only .csv and .xlsx files can be imported
//	          Action: Export the catalog as CSV or XLSX
//	          Patterns: "unsupported file type", "unsupported format"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - System busy: Another import is running
//	         Action: Wait for it to finish and try again
//	         Patterns: "too many concurrent imports"
//
//	IMP002 - Import not found: No import exists with this ID
//	         Action: Check the import ID returned when the file was uploaded
//	         Patterns: "import not found"
//
//	IMP003 - Report not found: The import has no failure report
//	         Action: Reports exist only for imports with failed products and expire after the retention period
//	         Patterns: "report not found"
//
//	IMP004 - Import cancelled: The import stopped before reaching the end of the file
//	         Action: Products imported so far were kept; upload the file again to finish
//	         Patterns: "import cancelled"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this key already exists
//	DB002 - Unique constraint: This value must be unique but already exists
//	DB003 - Foreign key: Referenced record does not exist
//	DB004 - Connection refused: Unable to connect to database
//	DB005 - Connection reset: Database connection was interrupted
//	DB006 - Timeout: Operation timed out
//	DB007 - Deadlock: Database was busy with conflicting operations
//
// # Request Errors (UPL004-UPL005, RATE001)
//
//	UPL004 - Request cancelled ("context canceled")
//	UPL005 - Request timeout ("context deadline exceeded")
//	RATE001 - Too many requests ("rate limit")
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches. Check the logs for the technical error.
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// File Errors (FILE001-FILE006)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum import size",
			Action:  "Split the catalog into smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "malformed input",
		msg: UserMessage{
			Message: "The file could not be read as a table",
			Action:  "Check the header row and that every row has the same number of columns",
			Code:    "FILE002",
		},
	},
	{
		pattern: "unsupported encoding",
		msg: UserMessage{
			Message: "The file's character encoding is not supported",
			Action:  "Use iso-8859-1, windows-1252 or utf-8",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was attached",
			Action:  "Attach the catalog as the \"file\" form field",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Upload a catalog with a header and data rows",
			Code:    "FILE005",
		},
	},
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "Only .csv and .xlsx files can be imported",
			Action:  "Export the catalog as CSV or XLSX",
			Code:    "FILE006",
		},
	},
	{
		pattern: "unsupported format",
		msg: UserMessage{
			Message: "Only .csv and .xlsx files can be imported",
			Action:  "Export the catalog as CSV or XLSX",
			Code:    "FILE006",
		},
	},

	// =========================================================================
	// Import Errors (IMP001-IMP004)
	// =========================================================================
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "Another import is running",
			Action:  "Wait for it to finish and try again",
			Code:    "IMP001",
		},
	},
	{
		pattern: "import not found",
		msg: UserMessage{
			Message: "Import not found",
			Action:  "Check the import ID returned when the file was uploaded",
			Code:    "IMP002",
		},
	},
	{
		pattern: "report not found",
		msg: UserMessage{
			Message: "This import has no failure report",
			Action:  "Reports exist only for imports with failed products and expire after the retention period",
			Code:    "IMP003",
		},
	},
	{
		pattern: "import cancelled",
		msg: UserMessage{
			Message: "The import stopped before reaching the end of the file",
			Action:  "Products imported so far were kept; upload the file again to finish",
			Code:    "IMP004",
		},
	},

	// =========================================================================
	// Database Constraint Errors (DB001-DB003)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Check the file for products or variants listed twice",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate slugs or SKUs in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Check for duplicate slugs or SKUs in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key constraint",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Create the referenced category or location first",
			Code:    "DB003",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Create the referenced category or location first",
			Code:    "DB003",
		},
	},

	// =========================================================================
	// Database Connection Errors (DB004-DB007)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try importing a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// Request Errors (UPL004-UPL005)
	// =========================================================================
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try importing a smaller file or check your connection",
			Code:    "UPL005",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is the ERR000 fallback.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. The
// first pattern contained in the lower-cased error text wins; unmatched
// errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a specific pattern rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error (for logs) with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
