package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRow_Values(t *testing.T) {
	t.Parallel()

	date := time.Date(2025, 11, 28, 0, 0, 0, 0, time.UTC)

	t.Run("full row", func(t *testing.T) {
		row := Row{
			Date:      date,
			Merchant:  "Shell",
			Amount:    decimal.RequireFromString("54.6"),
			Category:  "Fuel",
			DriveLink: "https://drive.google.com/file/d/abc123/view",
		}
		assert.Equal(t, []any{
			"28/11/2025",
			"Shell",
			"54.60",
			"Fuel",
			`=HYPERLINK("https://drive.google.com/file/d/abc123/view","View Receipt")`,
			"November",
		}, row.Values())
	})

	t.Run("defaults", func(t *testing.T) {
		values := Row{Date: date, Amount: decimal.Zero}.Values()
		assert.Equal(t, "Unknown", values[ColMerchant])
		assert.Equal(t, "Uncategorized", values[ColCategory])
		assert.Equal(t, "", values[ColDriveLink])
	})

	assert.Len(t, Header, ColMonth+1)
}

func TestHyperlinkFormula_EscapesQuotes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `=HYPERLINK("https://x/?q=""a""","View Receipt")`, HyperlinkFormula(`https://x/?q="a"`))
}

func TestDriveFileIDFromLink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		link string
		want string
	}{
		{"https://drive.google.com/file/d/1AbC-d_9/view?usp=drivesdk", "1AbC-d_9"},
		{`=HYPERLINK("https://drive.google.com/file/d/xyz/view","View Receipt")`, "xyz"},
		{"https://example.com/d/abc", ""},
		{"https://drive.google.com/drive/folders/abc", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DriveFileIDFromLink(tt.link), tt.link)
	}
}

func TestDriveFileLink(t *testing.T) {
	t.Parallel()

	assert.Empty(t, DriveFileLink(""))
	link := DriveFileLink("abc_123")
	assert.Equal(t, "https://drive.google.com/file/d/abc_123/view", link)
	assert.Equal(t, "abc_123", DriveFileIDFromLink(link))
}
