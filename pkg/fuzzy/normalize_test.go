package fuzzy

import (
	"testing"
)

// runStringTransformationTest is a helper to run tests for string transformation functions.
func runStringTransformationTest(t *testing.T, testName string,
	transformFunc func(string) string, testCases []struct {
		name     string
		input    string
		expected string
	}) {
	t.Helper()
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			result := transformFunc(tt.input)
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", testName, result, tt.expected)
			}
		})
	}
}

func TestNormalizer_Key(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Plain title", input: "Yellow Submarine", expected: "yellow submarine"},
		{name: "Accents", input: "Café del Mar", expected: "cafe del mar"},
		{name: "Punctuation", input: "Don't Stop Me Now!", expected: "don t stop me now"},
		{name: "Whitespace", input: "  Hey   Jude ", expected: "hey jude"},
		{name: "Full width", input: "ＡＢＣ", expected: "abc"},
		{name: "Empty", input: "", expected: ""},
	}

	runStringTransformationTest(t, "Key", normalizer.Key, tests)
}

func TestNormalizer_NormalizeArtist(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Simple artist name", input: "The Beatles", expected: "the beatles"},
		{name: "Artist with and", input: "Simon and Garfunkel", expected: "simon & garfunkel"},
		{name: "Artist with feat", input: "Artist feat. Someone", expected: "artist & someone"},
		{name: "Accented artist", input: "Beyoncé", expected: "beyonce"},
	}

	runStringTransformationTest(t, "NormalizeArtist", normalizer.NormalizeArtist, tests)
}

func TestNormalizer_SameTitle(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "Song", "Song", true},
		{"case and accents", "Déjà Vu", "deja vu", true},
		{"different", "Song A", "Song B", false},
		{"both empty", "", "", false},
		{"punctuation only", "!!!", "???", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizer.SameTitle(tt.a, tt.b); got != tt.want {
				t.Errorf("SameTitle(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestNormalizer_SharesArtist(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name string
		a, b []string
		want bool
	}{
		{"one shared", []string{"Alpha", "Beta"}, []string{"beta"}, true},
		{"none shared", []string{"Alpha"}, []string{"Gamma"}, false},
		{"empty", nil, []string{"Alpha"}, false},
		{"accent variant", []string{"Sigur Rós"}, []string{"Sigur Ros"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizer.SharesArtist(tt.a, tt.b); got != tt.want {
				t.Errorf("SharesArtist(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
