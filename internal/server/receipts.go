package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gitlab.com/yelinaung/receipt-tracker/internal/apperr"
	"gitlab.com/yelinaung/receipt-tracker/internal/category"
	"gitlab.com/yelinaung/receipt-tracker/internal/google"
	"gitlab.com/yelinaung/receipt-tracker/internal/ingest"
	"gitlab.com/yelinaung/receipt-tracker/internal/ledger"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
)

type receiptResponse struct {
	ID           string    `json:"id"`
	ImageURL     string    `json:"imageUrl"`
	MerchantName string    `json:"merchantName"`
	Amount       string    `json:"amount"`
	Date         string    `json:"date"`
	Category     string    `json:"category"`
	DriveLink    string    `json:"driveLink,omitempty"`
	Note         *string   `json:"note,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func newReceiptResponse(r *models.Receipt) receiptResponse {
	resp := receiptResponse{
		ID:           r.ID.String(),
		ImageURL:     r.ImageURL,
		MerchantName: r.MerchantName,
		Amount:       ledger.FormatAmount(r.Amount),
		Date:         r.DateString(),
		Category:     r.Category,
		Note:         r.Note,
		CreatedAt:    r.CreatedAt,
	}
	if r.DriveFileID != nil {
		resp.DriveLink = ledger.DriveFileLink(*r.DriveFileID)
	}
	return resp
}

type ingestResponse struct {
	Success      bool             `json:"success"`
	Data         ingest.Extracted `json:"data"`
	Receipt      receiptResponse  `json:"receipt"`
	DateFallback bool             `json:"dateFallback"`
	SyncQueued   bool             `json:"syncQueued"`
}

func newIngestResponse(res *ingest.Result) ingestResponse {
	return ingestResponse{
		Success:      true,
		Data:         res.Extracted,
		Receipt:      newReceiptResponse(res.Receipt),
		DateFallback: res.DateFallback,
		SyncQueued:   res.SyncQueued,
	}
}

// uploadReceipt runs the pipeline on a multipart image.
func (s *Server) uploadReceipt(c *gin.Context) {
	data, contentType, err := s.readUpload(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	res, err := s.deps.Ingestor.Ingest(c.Request.Context(), currentUser(c), data, contentType)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newIngestResponse(res))
}

type processRequest struct {
	ImageURL string `json:"imageUrl" binding:"required"`
	UserID   string `json:"userId" binding:"required"`
}

// processReceipt runs the pipeline on an image that is already stored.
func (s *Server) processReceipt(c *gin.Context) {
	var req processRequest
	if err := bindJSON(c, &req); err != nil {
		respondWithError(c, err)
		return
	}
	userID, err := google.ParseUserID(req.UserID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if userID != currentUser(c) {
		respondWithError(c, apperr.ErrForbidden)
		return
	}

	res, err := s.deps.Ingestor.Process(c.Request.Context(), userID, req.ImageURL)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newIngestResponse(res))
}

func (s *Server) listReceipts(c *gin.Context) {
	receipts, err := s.deps.Receipts.ListByUser(c.Request.Context(), currentUser(c), queryInt(c, "limit", 50, 200))
	if err != nil {
		respondWithError(c, err)
		return
	}

	out := make([]receiptResponse, len(receipts))
	for i := range receipts {
		out[i] = newReceiptResponse(&receipts[i])
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "receipts": out})
}

func (s *Server) getReceipt(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}
	receipt, err := s.deps.Receipts.GetByID(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "receipt": newReceiptResponse(receipt)})
}

type categoryUpdateRequest struct {
	Category string `json:"category" binding:"required,category_name"`
}

// updateReceiptCategory moves a receipt into one of the user's categories.
func (s *Server) updateReceiptCategory(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}
	var req categoryUpdateRequest
	if err := bindJSON(c, &req); err != nil {
		respondWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	userID := currentUser(c)

	cats, err := s.deps.Categories.ListByUser(ctx, userID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	match := category.Match(req.Category, cats)
	if match == nil {
		respondWithError(c, apperr.ErrCategoryNotFound)
		return
	}

	if err := s.deps.Receipts.UpdateCategory(ctx, userID, id, match.Name); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "category": match.Name})
}

type syncJobResponse struct {
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError *string   `json:"lastError,omitempty"`
	ResultURL *string   `json:"resultUrl,omitempty"`
	NextRunAt time.Time `json:"nextRunAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// syncStatus reports the latest job per target of a receipt.
func (s *Server) syncStatus(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}
	ctx := c.Request.Context()
	userID := currentUser(c)

	if _, err := s.deps.Receipts.GetByID(ctx, userID, id); err != nil {
		respondWithError(c, err)
		return
	}
	jobs, err := s.deps.SyncJobs.ListByReceipt(ctx, userID, id)
	if err != nil {
		respondWithError(c, err)
		return
	}

	// Jobs come oldest first, so later ones win.
	targets := make(map[string]syncJobResponse, 2)
	for _, j := range jobs {
		targets[j.Target] = syncJobResponse{
			Status:    j.Status,
			Attempts:  j.Attempts,
			LastError: j.LastError,
			ResultURL: j.ResultURL,
			NextRunAt: j.NextRunAt,
			UpdatedAt: j.UpdatedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "receiptId": id.String(), "targets": targets})
}

func (s *Server) retrySync(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}
	ctx := c.Request.Context()
	userID := currentUser(c)

	if _, err := s.deps.Receipts.GetByID(ctx, userID, id); err != nil {
		respondWithError(c, err)
		return
	}
	n, err := s.deps.SyncJobs.RetryFailed(ctx, userID, id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "requeued": n})
}
