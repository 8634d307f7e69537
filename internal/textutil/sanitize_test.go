package textutil

import "testing"

func TestSanitizeToken(t *testing.T) {
	tests := map[string]string{
		"":                 "unknown",
		"  ":               "unknown",
		"My Movie (2020)":  "my_movie__2020",
		"episode-01_final": "episode-01_final",
		"***":              "unknown",
	}
	for input, want := range tests {
		if got := SanitizeToken(input); got != want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", input, got, want)
		}
	}
}
