// Package google talks to Google Drive and Google Sheets on behalf of a
// user, refreshing the user's OAuth access token when it has expired.
package google

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// SheetsAPIEnableURL is where a project owner enables the Sheets API.
const SheetsAPIEnableURL = "https://console.cloud.google.com/apis/library/sheets.googleapis.com"

var (
	// ErrReconnect means the stored Google grant no longer works and the user
	// has to connect their Google account again.
	ErrReconnect = errors.New("google access expired, reconnect required")

	// ErrSpreadsheetNotFound means the spreadsheet does not exist or is not
	// shared with the connected account.
	ErrSpreadsheetNotFound = errors.New("spreadsheet not found")

	// ErrInvalidInput is wrapped by every input validation failure.
	ErrInvalidInput = errors.New("invalid input")
)

// APIDisabledError reports that a Google API is not enabled for the
// OAuth client's project.
type APIDisabledError struct {
	API            string
	RemediationURL string
	Err            error
}

func (e *APIDisabledError) Error() string {
	return fmt.Sprintf("the %s API is not enabled for this project; enable it at %s", e.API, e.RemediationURL)
}

func (e *APIDisabledError) Unwrap() error { return e.Err }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func isUnauthorized(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// isAPIDisabled recognizes the 403 Google returns when an API has not been
// enabled in the Cloud project.
func isAPIDisabled(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range gerr.Errors {
		if item.Reason == "accessNotConfigured" {
			return true
		}
	}
	msg := strings.ToLower(gerr.Message + " " + gerr.Body)
	return strings.Contains(msg, "service_disabled") ||
		strings.Contains(msg, "has not been used in project") ||
		strings.Contains(msg, "it is disabled")
}

// classifySheetsError maps Sheets API failures onto the package errors.
func classifySheetsError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrReconnect):
		return err
	case isAPIDisabled(err):
		return &APIDisabledError{API: "Google Sheets", RemediationURL: SheetsAPIEnableURL, Err: err}
	case isNotFound(err):
		return fmt.Errorf("%s: %w", op, ErrSpreadsheetNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
