package server

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"google.golang.org/api/googleapi"

	"gitlab.com/yelinaung/receipt-tracker/internal/apperr"
	"gitlab.com/yelinaung/receipt-tracker/internal/gemini"
	"gitlab.com/yelinaung/receipt-tracker/internal/google"
	"gitlab.com/yelinaung/receipt-tracker/internal/ingest"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"gitlab.com/yelinaung/receipt-tracker/internal/repository"
	"gitlab.com/yelinaung/receipt-tracker/internal/storage"
	"gitlab.com/yelinaung/receipt-tracker/internal/uploadsession"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Success        bool             `json:"success"`
	Error          *apperr.AppError `json:"error"`
	RemediationURL string           `json:"remediationUrl,omitempty"`
}

// respondWithError writes a consistent JSON error response. Errors that are
// not already an *AppError are mapped first; unknown ones become a generic
// internal error so details never leak.
func respondWithError(c *gin.Context, err error) {
	appErr := mapError(err)

	if appErr.Internal != nil {
		log := logger.ForRequest(c.GetString(requestIDKey))
		ev := log.Warn()
		if appErr.StatusCode >= 500 {
			ev = log.Error()
		}
		ev.Err(appErr.Internal).
			Str("code", appErr.Code).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}

	body := errorBody{Error: appErr}
	var disabled *google.APIDisabledError
	if errors.As(err, &disabled) {
		body.RemediationURL = disabled.RemediationURL
	}
	c.AbortWithStatusJSON(appErr.StatusCode, body)
}

// mapError translates domain errors into API errors. Order matters where
// one sentinel wraps another.
func mapError(err error) *apperr.AppError {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var disabled *google.APIDisabledError
	var gerr *googleapi.Error

	switch {
	// Upload sessions.
	case errors.Is(err, uploadsession.ErrNotFound):
		return apperr.ErrSessionNotFound
	case errors.Is(err, uploadsession.ErrExpired):
		return apperr.ErrSessionExpired
	case errors.Is(err, uploadsession.ErrAlreadyUsed):
		return apperr.ErrSessionUsed
	case errors.Is(err, uploadsession.ErrEmptyFile):
		return apperr.WithMessage(apperr.ErrInvalidInput, "Uploaded file is empty")
	case errors.Is(err, uploadsession.ErrStorage):
		return apperr.Wrap(apperr.ErrUploadFailed, err)

	// Ingestion.
	case errors.Is(err, storage.ErrTooLarge):
		return apperr.ErrTooLarge
	case errors.Is(err, storage.ErrUnsupportedType):
		return apperr.WithMessage(apperr.ErrInvalidInput, "Unsupported image type")
	case errors.Is(err, storage.ErrHostNotAllowed):
		return apperr.WithMessage(apperr.ErrInvalidInput, "Image URL must point at receipt storage")
	case errors.Is(err, ingest.ErrEmptyImage):
		return apperr.WithMessage(apperr.ErrInvalidInput, "Receipt image is empty")
	case errors.Is(err, ingest.ErrStorage):
		return apperr.Wrap(apperr.ErrStorage, err)
	case errors.Is(err, ingest.ErrFetch):
		return apperr.Wrap(apperr.ErrImageFetch, err)
	case errors.Is(err, gemini.ErrParseTimeout):
		return apperr.Wrap(apperr.ErrAITimeout, err)
	case errors.Is(err, gemini.ErrInvalidResponse), errors.Is(err, gemini.ErrNoData):
		return apperr.Wrap(apperr.ErrDataExtraction, err)
	case errors.Is(err, ingest.ErrExtraction):
		return apperr.Wrap(apperr.ErrAIProcessing, err)
	case errors.Is(err, ingest.ErrSave):
		return saveError(err)

	// Google.
	case errors.Is(err, google.ErrOAuthNotConfigured):
		return apperr.Wrap(apperr.ErrOAuthConfig, err)
	case errors.Is(err, google.ErrReconnect),
		errors.Is(err, google.ErrNoRefreshToken),
		errors.Is(err, google.ErrRefreshRejected):
		return apperr.Wrap(apperr.ErrGoogleReconnect, err)
	case errors.Is(err, google.ErrInvalidInput):
		return apperr.WithMessage(apperr.ErrInvalidInput, err.Error())
	case errors.As(err, &disabled):
		return &apperr.AppError{
			Code:       apperr.ErrSheetsAPIDisabled.Code,
			Message:    disabled.Error(),
			StatusCode: apperr.ErrSheetsAPIDisabled.StatusCode,
			Internal:   err,
		}
	case errors.Is(err, google.ErrSpreadsheetNotFound):
		return apperr.ErrSpreadsheetAccess
	case errors.As(err, &gerr):
		return &apperr.AppError{
			Code:       apperr.ErrGoogleAPI.Code,
			Message:    fmt.Sprintf("%s (status %d)", apperr.ErrGoogleAPI.Message, gerr.Code),
			StatusCode: apperr.ErrGoogleAPI.StatusCode,
			Internal:   err,
		}

	// Storage layer.
	case errors.Is(err, repository.ErrSystemCategory):
		return apperr.ErrSystemCategory
	case errors.Is(err, repository.ErrDuplicateCategory):
		return apperr.ErrCategoryExists
	case errors.Is(err, repository.ErrNotFound):
		return apperr.ErrNotFound
	}

	return apperr.Wrap(apperr.ErrInternalServer, err)
}

// saveError names the violated constraint of a failed receipt insert. The
// server-side detail text is not exposed since it can echo row values.
func saveError(err error) *apperr.AppError {
	appErr := apperr.Wrap(apperr.ErrReceiptSave, err)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return appErr
	}
	reason := pgErr.Message
	if pgErr.ConstraintName != "" {
		reason = "violates " + pgErr.ConstraintName
	}
	appErr.Message = fmt.Sprintf("%s: %s", apperr.ErrReceiptSave.Message, reason)
	return appErr
}
