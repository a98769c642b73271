package ledger

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Header is the fixed first row of every month tab.
var Header = []string{"Date", "Merchant", "Amount", "Category", "Drive Link", "Month"}

// Column positions within a ledger row.
const (
	ColDate = iota
	ColMerchant
	ColAmount
	ColCategory
	ColDriveLink
	ColMonth
)

const (
	unknownMerchant  = "Unknown"
	uncategorized    = "Uncategorized"
	hyperlinkCaption = "View Receipt"
)

// Row is one receipt line in a month tab.
type Row struct {
	Date      time.Time
	Merchant  string
	Amount    decimal.Decimal
	Category  string
	DriveLink string
}

// Values renders the row in sheet column order.
func (r Row) Values() []any {
	merchant := strings.TrimSpace(r.Merchant)
	if merchant == "" {
		merchant = unknownMerchant
	}
	category := strings.TrimSpace(r.Category)
	if category == "" {
		category = uncategorized
	}

	link := ""
	if r.DriveLink != "" {
		link = HyperlinkFormula(r.DriveLink)
	}

	return []any{
		FormatSheetDate(r.Date),
		merchant,
		FormatAmount(r.Amount),
		category,
		link,
		MonthName(r.Date),
	}
}

// HyperlinkFormula wraps url in a HYPERLINK formula.
func HyperlinkFormula(url string) string {
	return `=HYPERLINK("` + strings.ReplaceAll(url, `"`, `""`) + `","` + hyperlinkCaption + `")`
}

var driveFileIDPattern = regexp.MustCompile(`/d/([A-Za-z0-9_-]+)`)

// DriveFileIDFromLink extracts the file id from a drive.google.com link or a
// HYPERLINK formula wrapping one. Returns "" when there is none.
func DriveFileIDFromLink(link string) string {
	if !strings.Contains(link, "drive.google.com") {
		return ""
	}
	m := driveFileIDPattern.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}

// DriveFileLink is the browser link of a Drive file.
func DriveFileLink(fileID string) string {
	if fileID == "" {
		return ""
	}
	return "https://drive.google.com/file/d/" + fileID + "/view"
}
