// Package fuzzy builds comparison keys for track titles and artist names.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Key folds text into a comparison key: decomposed, marks stripped,
// punctuation dropped, lowercased and whitespace collapsed.
func (n *Normalizer) Key(text string) string {
	text = norm.NFKD.String(text)

	var result strings.Builder
	for _, r := range text {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	text = result.String()

	text = punctRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")

	text = strings.ToLower(text)
	return strings.TrimSpace(text)
}

// SameTitle reports whether two non-empty titles fold to the same key.
func (n *Normalizer) SameTitle(a, b string) bool {
	ka, kb := n.Key(a), n.Key(b)
	return ka != "" && ka == kb
}

// NormalizeArtist folds an artist name and unifies common joiners.
func (n *Normalizer) NormalizeArtist(artist string) string {
	artist = n.Key(artist)

	artist = strings.ReplaceAll(artist, " and ", " & ")
	artist = strings.ReplaceAll(artist, " feat ", " & ")
	artist = strings.ReplaceAll(artist, " ft ", " & ")

	return artist
}

// SharesArtist reports whether the two artist lists have at least one name in common.
func (n *Normalizer) SharesArtist(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}

	keys := make(map[string]struct{}, len(a))
	for _, artist := range a {
		if key := n.NormalizeArtist(artist); key != "" {
			keys[key] = struct{}{}
		}
	}
	for _, artist := range b {
		if _, ok := keys[n.NormalizeArtist(artist)]; ok {
			return true
		}
	}
	return false
}
