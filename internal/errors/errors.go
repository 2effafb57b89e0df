package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Kaia error code.
type ErrorCode string

const (
	// Precondition (gate) errors: raised before any network call.
	ErrNoImage      ErrorCode = "NO_IMAGE"      // 400
	ErrInvalidImage ErrorCode = "INVALID_IMAGE" // 415
	ErrNotLoggedIn  ErrorCode = "NOT_LOGGED_IN" // 401
	ErrNoCredits    ErrorCode = "NO_CREDITS"    // 402
	ErrBusy         ErrorCode = "BUSY"          // 409

	// Backend errors.
	ErrUnauthenticated ErrorCode = "UNAUTHENTICATED"  // 401
	ErrUpgradeRequired ErrorCode = "UPGRADE_REQUIRED" // 403
	ErrOutOfCredits    ErrorCode = "OUT_OF_CREDITS"   // 402
	ErrBackend         ErrorCode = "BACKEND"          // 502
	ErrTransport       ErrorCode = "TRANSPORT"        // 503
	ErrTimeout         ErrorCode = "TIMEOUT"          // 504

	// Local errors.
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrFileTooLarge   ErrorCode = "FILE_TOO_LARGE"  // 413
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// Fixed user-facing texts. Transport and internal failures never show the
// underlying error.
const (
	MsgTryAgain      = "Could not reach the analysis engine. Please try again."
	MsgGeneric       = "The analysis could not be completed. Please try again."
	MsgSessionExpiry = "Your session has expired. Please log in again."
)

// KaiaError represents a structured error with code, status, and details.
type KaiaError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *KaiaError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNoImage creates the gate error for a submit without a staged chart.
func NewNoImage() *KaiaError {
	return &KaiaError{
		Code:    ErrNoImage,
		Status:  400,
		Message: "Please select, paste or drop a chart image first.",
	}
}

// NewInvalidImage creates a 415 error for staged payloads that are not images.
func NewInvalidImage(contentType string) *KaiaError {
	return &KaiaError{
		Code:    ErrInvalidImage,
		Status:  415,
		Message: "Only image files can be analyzed.",
		Details: map[string]any{"content_type": contentType},
	}
}

// NewNotLoggedIn creates the gate error for a missing credential.
func NewNotLoggedIn() *KaiaError {
	return &KaiaError{
		Code:    ErrNotLoggedIn,
		Status:  401,
		Message: "Please log in or create a free account to analyze charts.",
	}
}

// NewNoCredits creates the gate error for an exhausted trial.
func NewNoCredits() *KaiaError {
	return &KaiaError{
		Code:    ErrNoCredits,
		Status:  402,
		Message: "You have used all free analyses. Please upgrade your plan to continue.",
	}
}

// NewBusy creates the error returned for a re-entrant submit.
func NewBusy() *KaiaError {
	return &KaiaError{
		Code:    ErrBusy,
		Status:  409,
		Message: "An analysis is already in progress.",
	}
}

// NewUnauthenticated creates a 401 error for a rejected or expired credential.
func NewUnauthenticated() *KaiaError {
	return &KaiaError{
		Code:    ErrUnauthenticated,
		Status:  401,
		Message: MsgSessionExpiry,
	}
}

// NewUpgradeRequired wraps a tier-block detail from the backend.
func NewUpgradeRequired(detail string) *KaiaError {
	if detail == "" {
		detail = "This analysis requires a higher plan."
	}
	return &KaiaError{
		Code:    ErrUpgradeRequired,
		Status:  403,
		Message: detail,
	}
}

// NewOutOfCredits wraps a server-side credit rejection.
func NewOutOfCredits(detail string) *KaiaError {
	if detail == "" {
		detail = "Insufficient credits. Please upgrade your plan."
	}
	return &KaiaError{
		Code:    ErrOutOfCredits,
		Status:  402,
		Message: detail,
	}
}

// NewBackend creates an error for an unclassified structured backend failure.
// The detail is kept for logging only.
func NewBackend(status int, detail string) *KaiaError {
	return &KaiaError{
		Code:    ErrBackend,
		Status:  502,
		Message: MsgGeneric,
		Details: map[string]any{"backend_status": status, "detail": detail},
	}
}

// NewTransport creates an error for network failures and unparseable responses.
func NewTransport(err error) *KaiaError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &KaiaError{
		Code:    ErrTransport,
		Status:  503,
		Message: MsgTryAgain,
		Details: details,
	}
}

// NewTimeout creates an error for a phase that exceeded its deadline.
func NewTimeout(phase string) *KaiaError {
	return &KaiaError{
		Code:    ErrTimeout,
		Status:  504,
		Message: MsgTryAgain,
		Details: map[string]any{"phase": phase},
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *KaiaError {
	return &KaiaError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error.
func NewNotFound(identifier string) *KaiaError {
	return &KaiaError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileTooLarge creates a 413 error when a chart image exceeds the size limit.
func NewFileTooLarge(max, actual int64) *KaiaError {
	return &KaiaError{
		Code:    ErrFileTooLarge,
		Status:  413,
		Message: fmt.Sprintf("image exceeds maximum size: %d bytes (max %d)", actual, max),
		Details: map[string]any{"max_bytes": max, "actual_bytes": actual},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The original error is kept in Details for logging, never in Message.
func NewInternal(err error) *KaiaError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &KaiaError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error (or anything it wraps) is a KaiaError with the given code.
func Is(err error, code ErrorCode) bool {
	var kErr *KaiaError
	if stderrors.As(err, &kErr) {
		return kErr.Code == code
	}
	return false
}

// As returns the KaiaError in err's chain, if any.
func As(err error) (*KaiaError, bool) {
	var kErr *KaiaError
	if stderrors.As(err, &kErr) {
		return kErr, true
	}
	return nil, false
}

// IsGate reports whether err is a precondition failure raised before any
// network call.
func IsGate(err error) bool {
	kErr, ok := As(err)
	if !ok {
		return false
	}
	switch kErr.Code {
	case ErrNoImage, ErrInvalidImage, ErrNotLoggedIn, ErrNoCredits, ErrBusy:
		return true
	}
	return false
}

// UserMessage returns the text shown to the user for err.
// Unknown errors collapse to a generic message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	kErr, ok := As(err)
	if !ok {
		return MsgGeneric
	}
	switch kErr.Code {
	case ErrInternal:
		return MsgGeneric
	case ErrTransport, ErrTimeout:
		return MsgTryAgain
	}
	return kErr.Message
}
