package category

import (
	"strings"
	"unicode"
)

var keywords = map[string][]string{
	Fuel: {
		"fuel", "petrol", "diesel", "unleaded", "gasoline", "shell", "esso", "texaco",
		"bp", "jet", "gulf", "murco", "valero", "chevron", "ev charge", "adblue",
	},
	Materials: {
		"timber", "lumber", "plywood", "cement", "concrete", "screws", "nails", "paint",
		"b&q", "wickes", "screwfix", "toolstation", "travis perkins", "jewson", "homebase",
		"home depot", "lowe's", "plaster", "insulation", "tiles", "sealant",
	},
	Food: {
		"restaurant", "cafe", "coffee", "pizza", "burger", "sandwich", "bakery", "grocer",
		"tesco", "sainsbury", "asda", "aldi", "lidl", "waitrose", "morrisons", "co-op",
		"pret", "greggs", "costa", "starbucks", "mcdonald", "kfc", "nando", "deliveroo",
		"just eat", "uber eats", "meal", "lunch", "dinner", "breakfast", "snack",
	},
	Transportation: {
		"taxi", "uber", "bolt", "train", "rail", "bus", "tube", "tfl", "parking",
		"toll", "ferry", "airline", "flight", "car park", "oyster",
	},
	Shopping: {
		"amazon", "argos", "primark", "zara", "h&m", "ikea", "currys", "john lewis",
		"boots", "clothing", "shoes", "electronics",
	},
	Entertainment: {
		"cinema", "odeon", "vue", "theatre", "concert", "netflix", "spotify", "museum",
		"bowling", "ticketmaster", "steam", "playstation",
	},
	Business: {
		"office", "stationery", "printing", "staples", "software", "subscription",
		"hosting", "postage", "royal mail", "courier", "consulting",
	},
	Health: {
		"pharmacy", "chemist", "dentist", "doctor", "clinic", "hospital", "optician",
		"prescription", "vitamins", "gym", "physio",
	},
}

// KeywordMatches returns every taxonomy name whose keywords occur in text.
func KeywordMatches(text string) []string {
	normalized := " " + normalize(text) + " "
	if strings.TrimSpace(normalized) == "" {
		return nil
	}

	var matches []string
	for _, d := range Taxonomy {
		for _, kw := range keywords[d.Name] {
			if strings.Contains(normalized, " "+kw+" ") {
				matches = append(matches, d.Name)
				break
			}
		}
	}
	return matches
}

// normalize lowercases text and turns punctuation other than the few used
// inside keywords into single spaces, so keywords match on word boundaries.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '&', r == '\'', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
