// Package compression reduces context content to fit a token budget using
// importance-aware strategies.
package compression

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStrategy is returned for an unrecognized strategy name.
var ErrUnknownStrategy = errors.New("unknown compression strategy")

// Strategy names a compression level. Higher levels remove more.
type Strategy string

const (
	Minimal    Strategy = "minimal"
	Balanced   Strategy = "balanced"
	Aggressive Strategy = "aggressive"
)

// Strategies lists every strategy from least to most aggressive.
var Strategies = []Strategy{Minimal, Balanced, Aggressive}

// ParseStrategy parses a strategy name.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	switch s {
	case Minimal, Balanced, Aggressive:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Metadata describes a compression run.
type Metadata struct {
	Strategy            Strategy `json:"strategy"`
	PersonaID           string   `json:"persona_id,omitempty"`
	OriginalTokens      int      `json:"original_tokens"`
	CompressedTokens    int      `json:"compressed_tokens"`
	Ratio               float64  `json:"ratio"`
	SectionsKept        int      `json:"sections_kept"`
	SectionsDropped     int      `json:"sections_dropped"`
	HeadersMerged       int      `json:"headers_merged"`
	DuplicatesRemoved   int      `json:"duplicates_removed"`
	ParagraphsShortened int      `json:"paragraphs_shortened"`
	LogLinesPruned      int      `json:"log_lines_pruned"`
	Reverted            bool     `json:"reverted,omitempty"`
}

// Result is compressed content with its metadata.
type Result struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Default reduction bands used by SelectStrategy.
const (
	MinimalBand  = 0.30
	BalancedBand = 0.50
)

// Bands are the largest reductions minimal and balanced are expected to
// achieve. Anything beyond Balanced goes straight to aggressive.
type Bands struct {
	Minimal  float64 `json:"minimal"`
	Balanced float64 `json:"balanced"`
}

// DefaultBands returns the default reduction bands.
func DefaultBands() Bands {
	return Bands{Minimal: MinimalBand, Balanced: BalancedBand}
}

// Validate requires 0 < Minimal < Balanced < 1.
func (b Bands) Validate() error {
	if b.Minimal <= 0 || b.Balanced <= b.Minimal || b.Balanced >= 1 {
		return fmt.Errorf("invalid compression bands: want 0 < minimal (%v) < balanced (%v) < 1", b.Minimal, b.Balanced)
	}
	return nil
}

// Select picks the least aggressive strategy whose band covers the
// reduction needed to bring originalTokens down to budget.
func (b Bands) Select(originalTokens, budget int) Strategy {
	if originalTokens <= 0 || budget >= originalTokens {
		return Minimal
	}
	if budget <= 0 {
		return Aggressive
	}
	switch {
	case withinBand(originalTokens, budget, b.Minimal):
		return Minimal
	case withinBand(originalTokens, budget, b.Balanced):
		return Balanced
	default:
		return Aggressive
	}
}

// bandEpsilon absorbs float error so that a reduction of exactly band
// stays inside it.
const bandEpsilon = 1e-9

// withinBand reports whether shrinking original to budget takes at most
// band of original. It compares the budget against the band floor instead
// of computing 1-budget/original, which overshoots at the edges.
func withinBand(original, budget int, band float64) bool {
	return float64(budget) >= float64(original)*(1-band)-bandEpsilon
}

// SelectStrategy selects with the default bands.
func SelectStrategy(originalTokens, budget int) Strategy {
	return DefaultBands().Select(originalTokens, budget)
}

func (s Strategy) next() (Strategy, bool) {
	for i, st := range Strategies {
		if st == s && i+1 < len(Strategies) {
			return Strategies[i+1], true
		}
	}
	return "", false
}
