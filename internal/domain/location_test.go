package domain

import "testing"

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in   string
		want Location
	}{
		{"San Francisco", Location{City: "San Francisco"}},
		{"Austin, USA", Location{City: "Austin", Country: "USA"}},
		{"Paris, TX, USA", Location{City: "Paris", State: "TX", Country: "USA"}},
		{"  Berlin ,  Germany  ", Location{City: "Berlin", Country: "Germany"}},
		{"Springfield, Greene County, MO, USA", Location{City: "Springfield", State: "Greene County", Country: "USA"}},
		{"Lyon,, France", Location{City: "Lyon", Country: "France"}},
		{"", Location{}},
		{" , ", Location{}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLocation(tt.in); got != tt.want {
				t.Errorf("ParseLocation(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
