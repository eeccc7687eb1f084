package router

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalize folds accents and case and turns punctuation into spaces, so
// "¿Dónde ESTÁN?" and "donde estan" compare equal.
func normalize(message string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, message)
	if err != nil {
		folded = message
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// lexicon entries are normalized words or phrases. A trailing "*" makes a
// single word match as a prefix ("horario*" matches "horarios").
type lexicon []string

type text struct {
	tokens []string
	padded string
}

func newText(normalized string) text {
	return text{tokens: strings.Fields(normalized), padded: " " + normalized + " "}
}

func (l lexicon) matches(t text) []string {
	var hits []string
	for _, entry := range l {
		if t.has(entry) {
			hits = append(hits, strings.TrimSuffix(entry, "*"))
		}
	}
	return hits
}

func (t text) has(entry string) bool {
	switch {
	case strings.Contains(entry, " "):
		if prefix, ok := strings.CutSuffix(entry, "*"); ok {
			return strings.Contains(t.padded, " "+prefix)
		}
		return strings.Contains(t.padded, " "+entry+" ")
	case strings.HasSuffix(entry, "*"):
		prefix := strings.TrimSuffix(entry, "*")
		for _, tok := range t.tokens {
			if strings.HasPrefix(tok, prefix) {
				return true
			}
		}
	default:
		for _, tok := range t.tokens {
			if tok == entry {
				return true
			}
		}
	}
	return false
}
