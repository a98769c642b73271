// Package apperr provides the structured error type returned by HTTP handlers.
// Domain packages return plain sentinel errors; the server maps them onto an
// AppError so clients always receive a code and a human-readable message.
package apperr

import "net/http"

// AppError represents a structured application error with an error code,
// human-readable message, HTTP status code, and optional internal error.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string { return e.Message }

// Unwrap returns the internal error for use with errors.Is/As.
func (e *AppError) Unwrap() error { return e.Internal }

// Wrap creates a new AppError with the same code/message/status but wraps an internal error.
func Wrap(sentinel *AppError, internal error) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		StatusCode: sentinel.StatusCode,
		Internal:   internal,
	}
}

// WithMessage creates a new AppError with a custom message.
func WithMessage(sentinel *AppError, message string) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    message,
		StatusCode: sentinel.StatusCode,
		Internal:   sentinel.Internal,
	}
}

// Authentication & authorization errors.
var (
	ErrUnauthorized    = &AppError{Code: "UNAUTHORIZED", Message: "Authentication required", StatusCode: http.StatusUnauthorized}
	ErrForbidden       = &AppError{Code: "FORBIDDEN", Message: "Access denied", StatusCode: http.StatusForbidden}
	ErrGoogleReconnect = &AppError{Code: "GOOGLE_RECONNECT", Message: "Google access has expired. Please reconnect your Google account", StatusCode: http.StatusUnauthorized}
	ErrGoogleNotLinked = &AppError{Code: "GOOGLE_NOT_CONNECTED", Message: "Connect your Google account first", StatusCode: http.StatusPreconditionFailed}
	ErrOAuthConfig     = &AppError{Code: "OAUTH_NOT_CONFIGURED", Message: "Google OAuth is not configured on the server", StatusCode: http.StatusInternalServerError}
)

// General errors.
var (
	ErrInvalidInput   = &AppError{Code: "INVALID_INPUT", Message: "Invalid input", StatusCode: http.StatusBadRequest}
	ErrNotFound       = &AppError{Code: "NOT_FOUND", Message: "Resource not found", StatusCode: http.StatusNotFound}
	ErrTooLarge       = &AppError{Code: "FILE_TOO_LARGE", Message: "Uploaded file is too large", StatusCode: http.StatusRequestEntityTooLarge}
	ErrInternalServer = &AppError{Code: "INTERNAL_ERROR", Message: "An internal error occurred", StatusCode: http.StatusInternalServerError}
)

// Upload session errors.
var (
	ErrSessionNotFound = &AppError{Code: "SESSION_NOT_FOUND", Message: "Upload session not found", StatusCode: http.StatusNotFound}
	ErrSessionExpired  = &AppError{Code: "SESSION_EXPIRED", Message: "Upload session has expired. Scan a new QR code", StatusCode: http.StatusGone}
	ErrSessionUsed     = &AppError{Code: "SESSION_ALREADY_USED", Message: "This upload session has already been used", StatusCode: http.StatusConflict}
	ErrUploadFailed    = &AppError{Code: "UPLOAD_FAILED", Message: "Failed to store the uploaded file", StatusCode: http.StatusInternalServerError}
)

// Receipt ingestion errors.
var (
	ErrStorage        = &AppError{Code: "STORAGE_ERROR", Message: "Failed to store the receipt image", StatusCode: http.StatusBadGateway}
	ErrAIProcessing   = &AppError{Code: "AI_PROCESSING_FAILED", Message: "Receipt processing failed. Please try again", StatusCode: http.StatusBadGateway}
	ErrDataExtraction = &AppError{Code: "DATA_EXTRACTION_FAILED", Message: "Could not read the receipt. Try a clearer photo", StatusCode: http.StatusUnprocessableEntity}
	ErrAITimeout      = &AppError{Code: "AI_TIMEOUT", Message: "Receipt processing timed out. Please try again", StatusCode: http.StatusGatewayTimeout}
	ErrReceiptSave    = &AppError{Code: "RECEIPT_SAVE_FAILED", Message: "Failed to save the receipt", StatusCode: http.StatusInternalServerError}
	ErrImageFetch     = &AppError{Code: "IMAGE_FETCH_FAILED", Message: "Could not download the receipt image", StatusCode: http.StatusBadGateway}
)

// Google sync errors.
var (
	ErrGoogleAPI         = &AppError{Code: "GOOGLE_API_ERROR", Message: "Google API request failed", StatusCode: http.StatusBadGateway}
	ErrSheetsAPIDisabled = &AppError{Code: "SHEETS_API_DISABLED", Message: "The Google Sheets API is not enabled for this project", StatusCode: http.StatusBadGateway}
	ErrSpreadsheetAccess = &AppError{Code: "SPREADSHEET_NOT_FOUND", Message: "Spreadsheet not found or not shared with this account", StatusCode: http.StatusNotFound}
)

// Category errors.
var (
	ErrCategoryNotFound = &AppError{Code: "CATEGORY_NOT_FOUND", Message: "Category not found", StatusCode: http.StatusNotFound}
	ErrSystemCategory   = &AppError{Code: "SYSTEM_CATEGORY", Message: "Default categories cannot be deleted", StatusCode: http.StatusConflict}
	ErrCategoryExists   = &AppError{Code: "CATEGORY_EXISTS", Message: "A category with this name already exists", StatusCode: http.StatusConflict}
)
