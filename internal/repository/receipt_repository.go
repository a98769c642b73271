package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/receipt-tracker/internal/database"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
)

// ErrNotFound is returned when a row does not exist or belongs to another user.
var ErrNotFound = errors.New("not found")

// ReceiptRepository handles receipt database operations.
type ReceiptRepository struct {
	db database.PGXDB
}

// NewReceiptRepository creates a new ReceiptRepository.
func NewReceiptRepository(db database.PGXDB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

const receiptColumns = `id, user_id, image_url, merchant_name, amount, receipt_date, category, drive_file_id, note, created_at`

// Create inserts a receipt and fills in its generated id and timestamps.
func (r *ReceiptRepository) Create(ctx context.Context, receipt *models.Receipt) error {
	if receipt.Category == "" {
		receipt.Category = models.DefaultCategory
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO receipts (user_id, image_url, merchant_name, amount, receipt_date, category, drive_file_id, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, receipt.UserID, receipt.ImageURL, receipt.MerchantName, receipt.Amount.Round(2),
		receipt.Date, receipt.Category, receipt.DriveFileID, receipt.Note,
	).Scan(&receipt.ID, &receipt.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create receipt: %w", err)
	}
	return nil
}

// GetByID retrieves a receipt owned by userID.
func (r *ReceiptRepository) GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Receipt, error) {
	rec, err := scanReceipt(r.db.QueryRow(ctx, `
		SELECT `+receiptColumns+` FROM receipts WHERE id = $1 AND user_id = $2
	`, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return rec, nil
}

// UpdateCategory reassigns the category of a receipt owned by userID.
func (r *ReceiptRepository) UpdateCategory(ctx context.Context, userID, id uuid.UUID, category string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE receipts SET category = $3 WHERE id = $1 AND user_id = $2
	`, id, userID, category)
	if err != nil {
		return fmt.Errorf("failed to update receipt category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDriveFileID records the Drive file a receipt image was mirrored to.
func (r *ReceiptRepository) SetDriveFileID(ctx context.Context, id uuid.UUID, fileID string) error {
	_, err := r.db.Exec(ctx, `UPDATE receipts SET drive_file_id = $2 WHERE id = $1`, id, fileID)
	if err != nil {
		return fmt.Errorf("failed to set drive file id: %w", err)
	}
	return nil
}

// ExistsMatch reports whether userID already has a receipt with the same
// date, merchant name and amount. Used as the migration dedup key.
func (r *ReceiptRepository) ExistsMatch(
	ctx context.Context,
	userID uuid.UUID,
	date time.Time,
	merchant string,
	amount decimal.Decimal,
) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM receipts
			WHERE user_id = $1 AND receipt_date = $2 AND merchant_name = $3 AND amount = $4
		)
	`, userID, date, merchant, amount.Round(2)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existing receipt: %w", err)
	}
	return exists, nil
}

// ListByUser returns the most recent receipts for a user.
func (r *ReceiptRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Receipt, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+receiptColumns+` FROM receipts
		WHERE user_id = $1
		ORDER BY receipt_date DESC, created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating receipts: %w", err)
	}
	return receipts, nil
}

func scanReceipt(row pgx.Row) (*models.Receipt, error) {
	var rec models.Receipt
	if err := row.Scan(
		&rec.ID, &rec.UserID, &rec.ImageURL, &rec.MerchantName, &rec.Amount,
		&rec.Date, &rec.Category, &rec.DriveFileID, &rec.Note, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.Date = time.Date(rec.Date.Year(), rec.Date.Month(), rec.Date.Day(), 0, 0, 0, 0, time.UTC)
	return &rec, nil
}
