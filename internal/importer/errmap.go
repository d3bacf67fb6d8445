package importer

// errmap.go maps technical errors to user-facing messages with support
// codes. Sentinel errors from the engine are matched first; database and
// parsing failures fall back to case-insensitive pattern matching on the
// error text, most specific pattern first.

import (
	"errors"
	"strings"
)

// UserMessage is what an error looks like to the person running an import.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Database constraint errors
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this value already exists",
			Action:  "Review the error list for the conflicting rows",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check the file for repeated identifiers",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "A referenced record does not exist",
			Action:  "Import contacts before the deals that reference them",
			Code:    "DB003",
		},
	},

	// Database connection errors
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "The database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "The operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},

	// File errors
	{
		pattern: "file is empty",
		msg: UserMessage{
			Message: "The file contains no data",
			Action:  "Check that the file has a header row and data rows",
			Code:    "FILE001",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "The file has a header but no data rows",
			Action:  "Add data rows below the header and upload again",
			Code:    "FILE002",
		},
	},
	{
		pattern: "xlsx",
		msg: UserMessage{
			Message: "The spreadsheet could not be read",
			Action:  "Re-save the file as .xlsx or export it as CSV",
			Code:    "FILE003",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again; contact support quoting the code if it persists",
	Code:    "SYS001",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var missing *MissingRequiredError
	switch {
	case errors.As(err, &missing):
		return UserMessage{
			Message: "Required fields are not mapped: " + strings.Join(missing.Labels, ", "),
			Action:  "Map a file column to each required field",
			Code:    "MAP001",
		}
	case errors.Is(err, ErrSessionNotFound):
		return UserMessage{
			Message: "The import session was not found or has expired",
			Action:  "Start a new import",
			Code:    "SES001",
		}
	case errors.Is(err, ErrWrongStage):
		return UserMessage{
			Message: "This step is not available right now",
			Action:  "Follow the import steps in order",
			Code:    "SES002",
		}
	case errors.Is(err, ErrTooManyImports):
		return UserMessage{
			Message: "Too many imports are running at once",
			Action:  "Wait for a running import to finish and retry",
			Code:    "SES003",
		}
	case errors.Is(err, ErrRepositoryUnavailable):
		return UserMessage{
			Message: "The database is currently unavailable",
			Action:  "The import stopped safely; retry once the service recovers",
			Code:    "DB004",
		}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(lower, p.pattern) {
			return p.msg
		}
	}
	return defaultMessage
}
