// Package importer backfills receipts from an existing month-tab spreadsheet.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/receipt-tracker/internal/google"
	"gitlab.com/yelinaung/receipt-tracker/internal/ledger"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
)

// SummaryTab is never imported. Tabs starting with "_" are skipped too.
const SummaryTab = "Summary"

// SheetReader reads a spreadsheet tab by tab.
type SheetReader interface {
	ListTabs(ctx context.Context, sess *google.Session, spreadsheetID string) ([]string, error)
	ReadTab(ctx context.Context, sess *google.Session, spreadsheetID, tab string) ([][]any, error)
}

// ReceiptStore persists imported receipts.
type ReceiptStore interface {
	ExistsMatch(ctx context.Context, userID uuid.UUID, date time.Time, merchant string, amount decimal.Decimal) (bool, error)
	Create(ctx context.Context, receipt *models.Receipt) error
}

// RowError identifies a row that could not be imported. Row is the 1-based
// sheet row number; 0 means the whole tab failed.
type RowError struct {
	Sheet   string `json:"sheet"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Result summarizes a migration run.
type Result struct {
	Imported int        `json:"imported"`
	Skipped  int        `json:"skipped"`
	Errors   []RowError `json:"errors"`
}

// Importer copies spreadsheet rows into the receipts table.
type Importer struct {
	sheets   SheetReader
	receipts ReceiptStore
	now      func() time.Time
}

// New creates an Importer.
func New(sheets SheetReader, receipts ReceiptStore) *Importer {
	return &Importer{sheets: sheets, receipts: receipts, now: time.Now}
}

// SkipTab reports whether a tab holds metadata rather than receipts.
func SkipTab(title string) bool {
	return title == SummaryTab || strings.HasPrefix(title, "_")
}

// Migrate imports every receipt row of spreadsheetID for userID. A row that
// matches an existing receipt on date, merchant and amount is skipped.
// Row failures are collected in the result and never stop the run; only a
// failure to list the tabs or a lost Google grant aborts it.
func (im *Importer) Migrate(ctx context.Context, sess *google.Session, spreadsheetID string, userID uuid.UUID) (*Result, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, fmt.Errorf("%w: spreadsheet id is required", google.ErrInvalidInput)
	}
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", google.ErrInvalidInput)
	}

	log := logger.ForUser(userID.String())

	tabs, err := im.sheets.ListTabs(ctx, sess, spreadsheetID)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, tab := range tabs {
		if SkipTab(tab) {
			log.Debug().Str("tab", tab).Msg("Skipping non-ledger tab")
			continue
		}

		rows, err := im.sheets.ReadTab(ctx, sess, spreadsheetID, tab)
		if err != nil {
			if errors.Is(err, google.ErrReconnect) {
				return result, err
			}
			result.Errors = append(result.Errors, RowError{Sheet: tab, Message: err.Error()})
			continue
		}

		// Row 1 is the header.
		for i := 1; i < len(rows); i++ {
			rowNum := i + 1
			if blankRow(rows[i]) {
				continue
			}

			imported, err := im.importRow(ctx, userID, rows[i])
			switch {
			case err != nil:
				log.Warn().Err(err).Str("tab", tab).Int("row", rowNum).Msg("Failed to import row")
				result.Errors = append(result.Errors, RowError{Sheet: tab, Row: rowNum, Message: err.Error()})
			case imported:
				result.Imported++
			default:
				log.Info().Str("tab", tab).Int("row", rowNum).Msg("Row matches an existing receipt, skipped")
				result.Skipped++
			}
		}
	}

	log.Info().
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Msg("Spreadsheet migration finished")

	return result, nil
}

func (im *Importer) importRow(ctx context.Context, userID uuid.UUID, row []any) (imported bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			imported, err = false, fmt.Errorf("unexpected error: %v", r)
		}
	}()

	rec := ParseRow(row, im.now())
	rec.UserID = userID

	exists, err := im.receipts.ExistsMatch(ctx, userID, rec.Date, rec.MerchantName, rec.Amount)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if err := im.receipts.Create(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// ParseRow converts a [Date, Merchant, Amount, Category, DriveLink] row into
// a receipt. Unparsable dates become today and unparsable amounts zero.
func ParseRow(row []any, now time.Time) *models.Receipt {
	date, ok := ledger.ParseDate(cell(row, ledger.ColDate))
	if !ok {
		date = ledger.DateOnly(now)
	}

	merchant := cell(row, ledger.ColMerchant)
	if merchant == "" {
		merchant = models.UnknownMerchant
	}

	category := cell(row, ledger.ColCategory)
	if category == "" {
		category = models.UncategorizedCategory
	}

	rec := &models.Receipt{
		MerchantName: merchant,
		Amount:       ledger.ParseAmount(cell(row, ledger.ColAmount)),
		Date:         date,
		Category:     category,
	}

	link := cell(row, ledger.ColDriveLink)
	if id := ledger.DriveFileIDFromLink(link); id != "" {
		rec.DriveFileID = &id
		rec.ImageURL = linkTarget(link)
	}
	return rec
}

// cell returns column i of row as trimmed text.
func cell(row []any, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func blankRow(row []any) bool {
	for i := range row {
		if cell(row, i) != "" {
			return false
		}
	}
	return true
}

// linkTarget returns the URL of a HYPERLINK formula, or link itself.
func linkTarget(link string) string {
	if !strings.HasPrefix(strings.ToUpper(link), "=HYPERLINK(") {
		return link
	}
	start := strings.Index(link, `"`)
	if start < 0 {
		return link
	}
	rest := link[start+1:]
	var b strings.Builder
	for i := 0; i < len(rest); i++ {
		if rest[i] == '"' {
			if i+1 < len(rest) && rest[i+1] == '"' {
				b.WriteByte('"')
				i++
				continue
			}
			break
		}
		b.WriteByte(rest[i])
	}
	return b.String()
}
