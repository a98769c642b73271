package ledger

import (
	"strconv"
	"strings"
	"time"
)

// SheetDateLayout is the DD/MM/YYYY form written into the Date column.
const SheetDateLayout = "02/01/2006"

// Day/month forms are tried before month/day ones.
var dateLayouts = []string{
	time.DateOnly,
	"2006/01/02",
	"2006.01.02",
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"1/2/2006",
	"1-2-2006",
	"2/1/06",
	"1/2/06",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"Monday, 2 January 2006",
	"Mon, 2 Jan 2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
}

// Sheets stores dates as days since 1899-12-30.
var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

const (
	minSerialDate = 20000 // 1954-10-03
	maxSerialDate = 80000 // 2119-01-10
)

// ParseDate parses a date written in any of the common receipt or sheet
// forms, including spreadsheet serial numbers. The result is midnight UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if t, ok := parseSerial(s); ok {
		return t, true
	}

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return DateOnly(t), true
		}
	}
	return time.Time{}, false
}

// NormalizeDate returns s as YYYY-MM-DD, or today's date when s cannot be parsed.
func NormalizeDate(s string, now time.Time) (string, bool) {
	if t, ok := ParseDate(s); ok {
		return t.Format(time.DateOnly), true
	}
	return now.Format(time.DateOnly), false
}

// DateOnly truncates t to midnight UTC on the same calendar day.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatSheetDate renders t as DD/MM/YYYY.
func FormatSheetDate(t time.Time) string {
	return t.Format(SheetDateLayout)
}

func parseSerial(s string) (time.Time, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, false
	}
	if f < minSerialDate || f > maxSerialDate {
		return time.Time{}, false
	}
	return serialEpoch.AddDate(0, 0, int(f)), true
}
