package ledger

import (
	"time"
)

// MonthTabLayout names one tab per calendar month, e.g. "November 2025".
const MonthTabLayout = "January 2006"

// MonthTabName returns the tab a receipt dated t belongs to.
func MonthTabName(t time.Time) string {
	return t.Format(MonthTabLayout)
}

// MonthName returns the value of the Month column for t.
func MonthName(t time.Time) string {
	return t.Format("January")
}

// ParseMonthTab parses a tab title of the MonthTabLayout form.
func ParseMonthTab(title string) (time.Time, bool) {
	t, err := time.Parse(MonthTabLayout, title)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// InsertIndex returns the position at which a new month tab should be
// created so month tabs stay in ascending order. The new tab goes right
// after the latest existing month tab that precedes it. Tabs with other
// titles are ignored for ordering.
func InsertIndex(existing []string, newTab string) int {
	target, ok := ParseMonthTab(newTab)
	if !ok {
		return len(existing)
	}

	index := 0
	var latest time.Time
	for i, title := range existing {
		month, ok := ParseMonthTab(title)
		if !ok || !month.Before(target) {
			continue
		}
		if latest.IsZero() || month.After(latest) {
			latest = month
			index = i + 1
		}
	}
	return index
}
