package router

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hrygo/contextkit/plugin/ai/persona"
)

// MinPrefixLength is the shortest keyword that may match as a token prefix.
const MinPrefixLength = 4

// PrefixFactor scales the weight of a prefix match.
const PrefixFactor = 0.5

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "do": true, "for": true,
	"from": true, "has": true, "have": true, "i": true, "if": true, "in": true,
	"into": true, "is": true, "it": true, "its": true, "me": true, "my": true,
	"of": true, "on": true, "or": true, "our": true, "please": true, "so": true,
	"some": true, "that": true, "the": true, "this": true, "to": true, "we": true,
	"with": true, "you": true, "your": true, "was": true, "were": true, "will": true,
}

func words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, ".-_"); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Normalize returns the lowercase words of text separated by single spaces
// and padded with a space on both ends, for phrase matching.
func Normalize(text string) string {
	return " " + strings.Join(words(text), " ") + " "
}

// Tokenize lowercases text, splits it into words and drops stopwords,
// one-letter words and duplicates, preserving first-seen order.
func Tokenize(text string) []string {
	fields := words(text)
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		if stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// KeywordMatcher scores keyword tables against task tokens.
type KeywordMatcher struct{}

// Score returns the weighted keyword score of p. tokens come from Tokenize
// and normalized from Normalize on the same text. Exact token matches add
// the full weight, a keyword that prefixes a token adds PrefixFactor of it,
// and multi-word keywords match as phrases.
func (KeywordMatcher) Score(p *persona.Persona, tokens []string, normalized string) float64 {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}

	score := 0.0
	for kw, weight := range p.KeywordWeights() {
		switch {
		case strings.Contains(kw, " "):
			if strings.Contains(normalized, Normalize(kw)) {
				score += weight
			}
		case set[kw]:
			score += weight
		case len(kw) >= MinPrefixLength && hasPrefixToken(tokens, kw):
			score += weight * PrefixFactor
		}
	}
	return score
}

func hasPrefixToken(tokens []string, prefix string) bool {
	for _, t := range tokens {
		if len(t) > len(prefix) && strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}
