package domain

import "strings"

// Location is a structured "City, State, Country" value.
type Location struct {
	City    string
	State   string
	Country string
}

// ParseLocation splits free text on commas.
// One token is a city, two are city and country, three or more are
// city, state and country with the country taken from the last token.
func ParseLocation(s string) Location {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	switch len(parts) {
	case 0:
		return Location{}
	case 1:
		return Location{City: parts[0]}
	case 2:
		return Location{City: parts[0], Country: parts[1]}
	default:
		return Location{City: parts[0], State: parts[1], Country: parts[len(parts)-1]}
	}
}
