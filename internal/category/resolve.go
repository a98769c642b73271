package category

import (
	"strings"

	"gitlab.com/yelinaung/receipt-tracker/internal/models"
)

// Resolve picks the final category for a receipt. The AI suggestion and
// keyword hits from the merchant name and line items all compete, and the
// highest-precedence taxonomy entry wins. A suggestion outside the taxonomy
// is kept only when nothing in the taxonomy matched.
func Resolve(suggested, merchant string, lineItems []string) string {
	candidates := KeywordMatches(merchant + " " + strings.Join(lineItems, " "))

	var custom string
	if suggested = strings.TrimSpace(suggested); suggested != "" {
		if d, ok := Lookup(suggested); ok {
			candidates = append(candidates, d.Name)
		} else {
			custom = suggested
		}
	}

	best, ok := highestPrecedence(candidates)
	switch {
	case ok && (best.Name != Other || custom == ""):
		return best.Name
	case custom != "":
		return custom
	default:
		return Other
	}
}

// highestPrecedence returns the candidate with the lowest rank. Among peers
// the earliest candidate wins.
func highestPrecedence(names []string) (Definition, bool) {
	var best Definition
	found := false
	for _, name := range names {
		d, ok := Lookup(name)
		if !ok {
			continue
		}
		if !found || d.Rank < best.Rank {
			best = d
			found = true
		}
	}
	return best, found
}

// Match finds the user category that best corresponds to a suggested name.
// Tries an exact case-insensitive match, then substring containment in both
// directions, then shared significant words. Returns nil when nothing fits.
func Match(suggested string, categories []models.Category) *models.Category {
	suggestedLower := strings.ToLower(strings.TrimSpace(suggested))
	if suggestedLower == "" {
		return nil
	}

	for i := range categories {
		if strings.EqualFold(categories[i].Name, strings.TrimSpace(suggested)) {
			return &categories[i]
		}
	}

	// Shortest category containing the suggestion.
	var best *models.Category
	for i := range categories {
		if strings.Contains(strings.ToLower(categories[i].Name), suggestedLower) {
			if best == nil || len(categories[i].Name) < len(best.Name) {
				best = &categories[i]
			}
		}
	}
	if best != nil {
		return best
	}

	// Longest category contained in the suggestion.
	for i := range categories {
		if strings.Contains(suggestedLower, strings.ToLower(categories[i].Name)) {
			if best == nil || len(categories[i].Name) > len(best.Name) {
				best = &categories[i]
			}
		}
	}
	if best != nil {
		return best
	}

	suggestedWords := significantWords(suggested)
	for i := range categories {
		for _, cw := range significantWords(categories[i].Name) {
			for _, sw := range suggestedWords {
				if sw == cw {
					return &categories[i]
				}
			}
		}
	}
	return nil
}

var stopWords = map[string]bool{"and": true, "the": true, "for": true}

func significantWords(s string) []string {
	s = strings.NewReplacer("-", " ", "/", " ", "&", " ").Replace(strings.ToLower(s))

	var words []string
	for _, w := range strings.Fields(s) {
		if len(w) >= 3 && !stopWords[w] {
			words = append(words, w)
		}
	}
	return words
}
