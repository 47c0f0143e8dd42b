// # Error Codes Reference
//
// This file maps technical errors to user-friendly messages with codes for
// support reference. Codes are grouped by category:
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - Empty file: The uploaded file is empty
//	SRC002 - File too large: File exceeds the size limit
//	SRC003 - No header: No header row could be found
//	SRC004 - Unreadable spreadsheet: Workbook could not be opened
//	SRC005 - Unreadable source: Any other structural read failure
//	SRC006 - No file: No file was provided
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Incomplete mapping: Required fields have no column
//	MAP002 - Column not found: A mapped column is not in the source
//	MAP003 - Column used twice: One column mapped to several fields
//	MAP004 - Unknown field: Mapping names a field the catalog lacks
//
// # Reference Errors (REF001-REF099)
//
//	REF001 - Reference creation failed: A category/brand could not be created
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid number
//	VAL002 - Required field empty
//	VAL003 - Invalid request
//
// # Batch Errors (BAT001-BAT099)
//
//	BAT001 - Batch rejected: The store refused a batch of records
//
// # Media Errors (MED001-MED099)
//
//	MED001 - Image not fetched: Every fetch strategy failed
//	MED002 - Image not stored: Object storage rejected the upload
//	MED003 - Not an image: Uploaded bytes are not a supported image
//	MED004 - Media disabled: No media pipeline configured
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session not found
//	SES002 - Wrong step: Operation not allowed in the current state
//	SES003 - Session busy
//	SES004 - Run not found
//	SES005 - System busy: Too many imports in progress
//	SES006 - Request cancelled
//	SES007 - Request timed out
//
// # Template Errors (TPL001-TPL099)
//
//	TPL001 - Template not found
//	TPL002 - Template name taken
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate value
//	DB002 - Referenced record missing
//	DB003 - Connection refused
//	DB004 - Connection reset
//	DB005 - Timeout
//	DB006 - Deadlock
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check application logs for the original
// technical error.
//
// # Matching
//
// Typed errors are matched first with errors.Is / errors.As. Remaining errors
// are matched case-insensitively by substring; the first pattern wins, so
// specific patterns come before general ones.

package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/media"
	"github.com/JonMunkholm/catalogimport/internal/validation"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// typedMatch maps an error type or sentinel to a user message.
type typedMatch struct {
	match func(error) bool
	msg   UserMessage
}

func isA[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

var typedMatches = []typedMatch{
	{isA[*MappingIncompleteError], UserMessage{
		Message: "Some required fields have no column assigned",
		Action:  "Map a column to every required field",
		Code:    "MAP001",
	}},
	{isA[*ReferenceCreationError], UserMessage{
		Message: "A category or brand could not be created",
		Action:  "Check the name for unusual characters and retry the import",
		Code:    "REF001",
	}},
	{isA[*BatchWriteError], UserMessage{
		Message: "A batch of records was rejected by the database",
		Action:  "Review the failed rows and import them again",
		Code:    "BAT001",
	}},
	{isA[*media.FetchError], UserMessage{
		Message: "The image could not be downloaded",
		Action:  "Upload the image manually for this record",
		Code:    "MED001",
	}},
	{isA[*media.UploadError], UserMessage{
		Message: "The image could not be stored",
		Action:  "Please try again in a few moments",
		Code:    "MED002",
	}},
	{is(media.ErrNotImage), UserMessage{
		Message: "The file is not a supported image",
		Action:  "Upload a JPEG, PNG, GIF, WebP or SVG file",
		Code:    "MED003",
	}},
	{is(ErrMediaDisabled), UserMessage{
		Message: "Image resolution is not configured on this server",
		Action:  "Import without images or contact your administrator",
		Code:    "MED004",
	}},
	{is(ErrSessionNotFound), UserMessage{
		Message: "Import session not found",
		Action:  "The session may have expired. Please start a new import",
		Code:    "SES001",
	}},
	{is(ErrInvalidTransition), UserMessage{
		Message: "This step is not available yet",
		Action:  "Complete the previous steps of the import first",
		Code:    "SES002",
	}},
	{is(ErrSessionBusy), UserMessage{
		Message: "The session is busy with another operation",
		Action:  "Wait for the current operation to finish",
		Code:    "SES003",
	}},
	{is(ErrRunNotFound), UserMessage{
		Message: "Import run not found",
		Action:  "The run may have finished a while ago. Check the session instead",
		Code:    "SES004",
	}},
	{is(ErrTooManyRuns), UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "SES005",
	}},
	{is(ErrTemplateNotFound), UserMessage{
		Message: "Mapping template not found",
		Action:  "Pick a template from the list or create a new one",
		Code:    "TPL001",
	}},
	{is(ErrTemplateExists), UserMessage{
		Message: "A template with this name already exists",
		Action:  "Choose a different name",
		Code:    "TPL002",
	}},
	{isA[validation.FieldErrors], UserMessage{
		Message: "The request is missing or has invalid fields",
		Action:  "Check the request body and try again",
		Code:    "VAL003",
	}},
}

// errorPattern defines a substring to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error substrings (case-insensitive) to user
// messages. The first matching pattern wins.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Source Errors (SRC001-SRC006)
	// =========================================================================
	{"empty file", UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Upload a file with a header row and data rows",
		Code:    "SRC001",
	}},
	{"file too large", UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the file into smaller files",
		Code:    "SRC002",
	}},
	{"no header columns", UserMessage{
		Message: "No header row was found",
		Action:  "Make sure the first non-empty row contains column names",
		Code:    "SRC003",
	}},
	{"workbook", UserMessage{
		Message: "The spreadsheet could not be opened",
		Action:  "Save the file as .xlsx or CSV and try again",
		Code:    "SRC004",
	}},
	{"unreadable source", UserMessage{
		Message: "The file could not be read",
		Action:  "Save the file as UTF-8 CSV or .xlsx and try again",
		Code:    "SRC005",
	}},
	{"no file provided", UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV or spreadsheet file",
		Code:    "SRC006",
	}},

	// =========================================================================
	// Mapping Errors (MAP002-MAP004)
	// =========================================================================
	{"not found in source", UserMessage{
		Message: "A mapped column does not exist in the file",
		Action:  "Choose a column from the file's header row",
		Code:    "MAP002",
	}},
	{"mapped to several fields", UserMessage{
		Message: "One column is mapped to several fields",
		Action:  "Assign each column to at most one field",
		Code:    "MAP003",
	}},
	{"unknown field", UserMessage{
		Message: "The mapping names a field that does not exist",
		Action:  "Use the field names listed by the schema endpoint",
		Code:    "MAP004",
	}},

	// =========================================================================
	// Validation Errors (VAL001-VAL002)
	// =========================================================================
	{"invalid number", UserMessage{
		Message: "Invalid number format detected",
		Action:  "Apply the suggested fix or use a plain decimal number",
		Code:    "VAL001",
	}},
	{"required field", UserMessage{
		Message: "Required field is empty",
		Action:  "Ensure all required columns have values",
		Code:    "VAL002",
	}},

	// =========================================================================
	// Database Errors (DB001-DB006)
	// =========================================================================
	{"already exists", UserMessage{
		Message: "A record with this value already exists",
		Action:  "Use a different name or review duplicates",
		Code:    "DB001",
	}},
	{"duplicate key", UserMessage{
		Message: "A record with this value already exists",
		Action:  "Review your data for duplicate values",
		Code:    "DB001",
	}},
	{"unique constraint", UserMessage{
		Message: "A record with this value already exists",
		Action:  "Review your data for duplicate values",
		Code:    "DB001",
	}},
	{"foreign key", UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Resolve references again before importing",
		Code:    "DB002",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB003",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB004",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB006",
	}},

	// =========================================================================
	// Request lifecycle (SES006-SES007)
	// =========================================================================
	{"context canceled", UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "SES006",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or check your connection",
		Code:    "SES007",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB005",
	}},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(&MappingIncompleteError{Missing: []schema.Field{schema.FieldName}})
//	// msg.Code == "MAP001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, tm := range typedMatches {
		if tm.match(err) {
			return tm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates "Message (Code: XXX). Action" for display.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
