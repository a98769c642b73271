// Package ledger holds the spreadsheet ledger conventions shared by the
// Sheets sync and the migration importer: month tab names, the row layout,
// date and amount formats.
package ledger

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var amountReplacer = strings.NewReplacer(
	"£", "",
	"$", "",
	"€", "",
	",", "",
	" ", "",
	"\u00a0", "",
)

var plainNumber = regexp.MustCompile(`^-?(\d+(\.\d+)?|\.\d+)$`)

// ParseAmount parses a money cell such as "£1,234.56".
// Currency symbols and thousands separators are ignored.
// Unparsable input yields zero.
func ParseAmount(s string) decimal.Decimal {
	cleaned := amountReplacer.Replace(strings.TrimSpace(s))
	if !plainNumber.MatchString(cleaned) {
		return decimal.Zero
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d.Round(2)
}

// FormatAmount renders an amount the way it is written into the sheet.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
