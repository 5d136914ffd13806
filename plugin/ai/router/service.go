package router

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hrygo/contextkit/plugin/ai/persona"
)

// Service implements TaskAnalyzer with keyword tables and contextual boosts.
type Service struct {
	catalog persona.Catalog
	matcher KeywordMatcher
	boosts  *BoostEvaluator
	logger  *slog.Logger
}

// Config contains the configuration for the analyzer service.
type Config struct {
	Catalog persona.Catalog
	Logger  *slog.Logger
}

// NewService creates a new analyzer service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("router: catalog is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	boosts, err := NewBoostEvaluator()
	if err != nil {
		return nil, err
	}
	return &Service{
		catalog: cfg.Catalog,
		boosts:  boosts,
		logger:  cfg.Logger,
	}, nil
}

// Analyze scores text against every persona in the catalog.
// A boost whose expression fails to compile or evaluate is skipped and logged.
func (s *Service) Analyze(ctx context.Context, text string, signals Signals) (*Analysis, error) {
	start := time.Now()

	personas, err := s.catalog.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}

	keywords := Tokenize(text)
	normalized := Normalize(text)
	lower := strings.ToLower(text)

	scores := make(map[string]float64, len(personas))
	for _, p := range personas {
		score := s.matcher.Score(p, keywords, normalized)
		for _, b := range p.Boosts {
			ok, err := s.boosts.Eval(b.When, lower, keywords, signals)
			if err != nil {
				s.logger.WarnContext(ctx, "persona boost skipped", "persona", p.ID, "error", err)
				continue
			}
			if ok {
				score += b.Weight
			}
		}
		if score < 0 {
			score = 0
		}
		scores[p.ID] = score
	}

	ranked := Rank(scores)
	a := &Analysis{
		Keywords: keywords,
		Scores:   scores,
		Ranked:   ranked,
	}
	if len(ranked) > 0 && ranked[0].Score > 0 {
		a.PrimaryPersonaID = ranked[0].PersonaID
	}

	s.logger.Debug("task analyzed",
		"input", truncate(text, 50),
		"primary", a.PrimaryPersonaID,
		"keywords", len(keywords),
		"latency_ms", time.Since(start).Milliseconds())
	return a, nil
}

// Rank orders scores from best to worst. Equal scores are ordered by
// persona.DefaultPriority, then by id.
func Rank(scores map[string]float64) []TaskScore {
	out := make([]TaskScore, 0, len(scores))
	for id, score := range scores {
		out = append(out, TaskScore{PersonaID: id, Score: score})
	}
	slices.SortFunc(out, func(a, b TaskScore) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(persona.PriorityRank(a.PersonaID), persona.PriorityRank(b.PersonaID)); c != 0 {
			return c
		}
		return strings.Compare(a.PersonaID, b.PersonaID)
	})
	return out
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

var _ TaskAnalyzer = (*Service)(nil)
