// Package category holds the fixed receipt taxonomy and decides which
// category a receipt ends up in.
package category

import "strings"

// Taxonomy names.
const (
	Fuel           = "Fuel"
	Materials      = "Materials"
	Food           = "Food"
	Transportation = "Transportation"
	Shopping       = "Shopping"
	Entertainment  = "Entertainment"
	Business       = "Business"
	Health         = "Health"
	Other          = "Other"
)

// Definition is one taxonomy entry.
type Definition struct {
	Name  string
	Emoji string
	// Rank orders precedence; lower wins. Entries sharing a rank are peers.
	Rank int
}

// Taxonomy lists the default categories in precedence order.
var Taxonomy = []Definition{
	{Name: Fuel, Emoji: "⛽", Rank: 0},
	{Name: Materials, Emoji: "🧱", Rank: 1},
	{Name: Food, Emoji: "🍔", Rank: 2},
	{Name: Transportation, Emoji: "🚗", Rank: 3},
	{Name: Shopping, Emoji: "🛍️", Rank: 3},
	{Name: Entertainment, Emoji: "🎬", Rank: 3},
	{Name: Business, Emoji: "💼", Rank: 3},
	{Name: Health, Emoji: "💊", Rank: 3},
	{Name: Other, Emoji: "📦", Rank: 4},
}

// Names returns the taxonomy names in precedence order.
func Names() []string {
	names := make([]string, len(Taxonomy))
	for i, d := range Taxonomy {
		names[i] = d.Name
	}
	return names
}

// Lookup finds a taxonomy entry by name, ignoring case.
func Lookup(name string) (Definition, bool) {
	name = strings.TrimSpace(name)
	for _, d := range Taxonomy {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return Definition{}, false
}
