package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gitlab.com/yelinaung/receipt-tracker/internal/apperr"
	"gitlab.com/yelinaung/receipt-tracker/internal/google"
	"gitlab.com/yelinaung/receipt-tracker/internal/importer"
	"gitlab.com/yelinaung/receipt-tracker/internal/ledger"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
	"gitlab.com/yelinaung/receipt-tracker/internal/telemetry"
)

// actingUser checks an optional userId from the body against the caller.
// An empty value means the caller.
func actingUser(c *gin.Context, raw string) (uuid.UUID, error) {
	userID, err := google.ParseUserID(raw)
	if err != nil {
		return uuid.Nil, err
	}
	caller := currentUser(c)
	if userID == uuid.Nil {
		return caller, nil
	}
	if userID != caller {
		return uuid.Nil, apperr.ErrForbidden
	}
	return userID, nil
}

// googleAccess returns the token to use: the supplied one, else the one
// stored on the profile.
func (s *Server) googleAccess(ctx context.Context, userID uuid.UUID, supplied string) (string, *models.Profile, error) {
	profile, err := s.deps.Profiles.Get(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if token := strings.TrimSpace(supplied); token != "" {
		return token, profile, nil
	}
	if !profile.GoogleConnected() {
		return "", nil, apperr.ErrGoogleNotLinked
	}
	return profile.GoogleAccessToken, profile, nil
}

type driveUploadRequest struct {
	ImageURL    string `json:"imageUrl" binding:"required"`
	FileName    string `json:"fileName" binding:"required"`
	AccessToken string `json:"accessToken"`
	FolderName  string `json:"folderName"`
	UserID      string `json:"userId"`
}

func (s *Server) driveUpload(c *gin.Context) {
	var req driveUploadRequest
	if err := bindJSON(c, &req); err != nil {
		respondWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	userID, err := actingUser(c, req.UserID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	token, profile, err := s.googleAccess(ctx, userID, req.AccessToken)
	if err != nil {
		respondWithError(c, err)
		return
	}
	folder := req.FolderName
	if folder == "" {
		folder = profile.DriveFolderName
	}

	res, err := s.deps.Drive.Upload(ctx, google.DriveUpload{
		ImageURL:    req.ImageURL,
		FileName:    req.FileName,
		AccessToken: token,
		FolderName:  folder,
		UserID:      userID.String(),
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"fileId":      res.FileID,
		"webViewLink": res.WebViewLink,
		"folderId":    res.FolderID,
		"folderLink":  res.FolderLink,
		"folderName":  res.FolderName,
	})
}

type sheetsReceipt struct {
	Date         string          `json:"date" binding:"required"`
	MerchantName string          `json:"merchant_name"`
	Amount       decimal.Decimal `json:"amount"`
	Category     string          `json:"category"`
	DriveLink    string          `json:"driveLink"`
}

type sheetsSyncRequest struct {
	AccessToken string        `json:"accessToken"`
	ReceiptData sheetsReceipt `json:"receiptData"`
	SheetsID    string        `json:"sheetsId" binding:"omitempty,sheet_id"`
	UserID      string        `json:"userId"`
}

func (s *Server) sheetsSync(c *gin.Context) {
	var req sheetsSyncRequest
	if err := bindJSON(c, &req); err != nil {
		respondWithError(c, err)
		return
	}
	date, ok := ledger.ParseDate(req.ReceiptData.Date)
	if !ok {
		respondWithError(c, apperr.WithMessage(apperr.ErrInvalidInput, "receiptData.date is not a valid date"))
		return
	}
	ctx := c.Request.Context()

	userID, err := actingUser(c, req.UserID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	token, profile, err := s.googleAccess(ctx, userID, req.AccessToken)
	if err != nil {
		respondWithError(c, err)
		return
	}
	sheetsID := req.SheetsID
	if sheetsID == "" {
		sheetsID = profile.SheetsID
	}
	if sheetsID == "" {
		respondWithError(c, apperr.WithMessage(apperr.ErrInvalidInput, "sheetsId is required"))
		return
	}

	row := ledger.Row{
		Date:      date,
		Merchant:  req.ReceiptData.MerchantName,
		Amount:    req.ReceiptData.Amount,
		Category:  req.ReceiptData.Category,
		DriveLink: req.ReceiptData.DriveLink,
	}
	sess := s.deps.Sheets.Session(token, userID)
	if err := s.deps.Sheets.AppendReceipt(ctx, sess, sheetsID, row); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type migrateRequest struct {
	AccessToken string `json:"accessToken"`
	SheetsID    string `json:"sheetsId" binding:"required,sheet_id"`
	UserID      string `json:"userId" binding:"required"`
}

// migrate imports an existing spreadsheet and adopts it as the sync target.
func (s *Server) migrate(c *gin.Context) {
	var req migrateRequest
	if err := bindJSON(c, &req); err != nil {
		respondWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	userID, err := actingUser(c, req.UserID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	token, profile, err := s.googleAccess(ctx, userID, req.AccessToken)
	if err != nil {
		respondWithError(c, err)
		return
	}

	res, err := s.deps.Migrator.Migrate(ctx, s.deps.Sheets.Session(token, userID), req.SheetsID, userID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	telemetry.RecordReceiptIngested(ctx, "migration", res.Imported)

	folder := profile.DriveFolderName
	if folder == "" {
		folder = s.opts.DefaultFolder
	}
	if err := s.deps.Profiles.SaveSetup(ctx, userID, req.SheetsID, folder, models.SetupModeMigrate); err != nil {
		logger.ForUser(userID.String()).Error().Err(err).Msg("Failed to record migration setup")
	}

	var rowErrors []importer.RowError
	if len(res.Errors) > 0 {
		rowErrors = res.Errors
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"imported": res.Imported,
		"skipped":  res.Skipped,
		"errors":   rowErrors,
		"message":  migrationMessage(res),
	})
}

func migrationMessage(res *importer.Result) string {
	msg := fmt.Sprintf("Imported %d receipts, skipped %d already imported", res.Imported, res.Skipped)
	if n := len(res.Errors); n > 0 {
		msg += fmt.Sprintf(", %d rows failed", n)
	}
	return msg
}

type setupRequest struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId" binding:"required"`
	FolderName  string `json:"folderName"`
}

// setup creates the Drive folder and a fresh spreadsheet and stores both on
// the profile.
func (s *Server) setup(c *gin.Context) {
	var req setupRequest
	if err := bindJSON(c, &req); err != nil {
		respondWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	userID, err := actingUser(c, req.UserID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	folder := strings.TrimSpace(req.FolderName)
	if folder == "" {
		folder = s.opts.DefaultFolder
	}
	if err := google.ValidateFolderName(folder); err != nil {
		respondWithError(c, err)
		return
	}
	token, _, err := s.googleAccess(ctx, userID, req.AccessToken)
	if err != nil {
		respondWithError(c, err)
		return
	}

	driveSess := s.deps.Drive.Session(token, userID)
	folderID, err := s.deps.Drive.EnsureFolder(ctx, driveSess, folder)
	if err != nil {
		respondWithError(c, err)
		return
	}

	// Reuse a token the Drive calls may have refreshed.
	sheetsSess := s.deps.Sheets.Session(driveSess.AccessToken(), userID)
	sheet, err := s.deps.Sheets.CreateSpreadsheet(ctx, sheetsSess, s.opts.SpreadsheetTitle)
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := s.deps.Profiles.SaveSetup(ctx, userID, sheet.ID, folder, models.SetupModeNew); err != nil {
		respondWithError(c, err)
		return
	}
	if sheet.URL == "" {
		sheet.URL = google.SpreadsheetURL(sheet.ID)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"spreadsheetId":  sheet.ID,
		"spreadsheetUrl": sheet.URL,
		"folderId":       folderID,
		"folderName":     folder,
		"folderLink":     google.FolderLink(folderID),
	})
}
