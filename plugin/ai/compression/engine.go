package compression

import (
	"time"

	"github.com/hrygo/contextkit/plugin/ai/importance"
	"github.com/hrygo/contextkit/plugin/ai/persona"
	"github.com/hrygo/contextkit/plugin/ai/tokens"
)

// Config configures the compression engine.
type Config struct {
	LogRetention             time.Duration // Log lines older than this are pruned (default: 7 days)
	BalancedParagraphLimit   int           // Paragraphs longer than this are shortened (default: 400)
	AggressiveParagraphLimit int           // Paragraphs longer than this are collapsed (default: 200)
	Bands                    Bands         // Reduction bands for strategy selection (default: 0.30, 0.50)
	Now                      func() time.Time
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		LogRetention:             7 * 24 * time.Hour,
		BalancedParagraphLimit:   400,
		AggressiveParagraphLimit: 200,
		Bands:                    DefaultBands(),
		Now:                      time.Now,
	}
}

// Engine applies compression strategies. Every strategy is a pure function
// of content, persona and the configured clock.
type Engine struct {
	cfg        Config
	classifier *importance.Classifier
	estimator  *tokens.Estimator
}

// NewEngine creates an engine. Nil dependencies fall back to defaults.
func NewEngine(cfg Config, classifier *importance.Classifier, estimator *tokens.Estimator) *Engine {
	def := DefaultConfig()
	if cfg.LogRetention <= 0 {
		cfg.LogRetention = def.LogRetention
	}
	if cfg.BalancedParagraphLimit <= 0 {
		cfg.BalancedParagraphLimit = def.BalancedParagraphLimit
	}
	if cfg.AggressiveParagraphLimit <= 0 {
		cfg.AggressiveParagraphLimit = def.AggressiveParagraphLimit
	}
	if cfg.Bands.Validate() != nil {
		cfg.Bands = def.Bands
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if classifier == nil {
		classifier = importance.NewClassifier(nil)
	}
	if estimator == nil {
		estimator = tokens.NewEstimator()
	}
	return &Engine{cfg: cfg, classifier: classifier, estimator: estimator}
}

// Classifier returns the engine's classifier.
func (e *Engine) Classifier() *importance.Classifier {
	return e.classifier
}

// Estimator returns the engine's token estimator.
func (e *Engine) Estimator() *tokens.Estimator {
	return e.estimator
}

// Compress applies strategy s. The returned content never estimates above
// the input; when a strategy would grow it, the input is returned and
// Metadata.Reverted is set. p may be nil.
func (e *Engine) Compress(content string, s Strategy, p *persona.Persona) Result {
	md := Metadata{Strategy: s, OriginalTokens: e.estimator.EstimateText(content)}
	if p != nil {
		md.PersonaID = p.ID
	}

	var out string
	switch s {
	case Balanced:
		out = e.balanced(content, p, &md)
	case Aggressive:
		out = e.aggressive(content, p, &md)
	default:
		md.Strategy = Minimal
		out = e.minimal(content, &md)
	}

	md.CompressedTokens = e.estimator.EstimateText(out)
	if md.CompressedTokens > md.OriginalTokens {
		out = content
		md.CompressedTokens = md.OriginalTokens
		md.Reverted = true
	}
	if md.OriginalTokens > 0 {
		md.Ratio = float64(md.CompressedTokens) / float64(md.OriginalTokens)
	} else {
		md.Ratio = 1
	}
	return Result{Content: out, Metadata: md}
}

// CompressNamed parses name and applies that strategy.
func (e *Engine) CompressNamed(content, name string, p *persona.Persona) (Result, error) {
	s, err := ParseStrategy(name)
	if err != nil {
		return Result{}, err
	}
	return e.Compress(content, s, p), nil
}

// FitResult is the outcome of Fit.
type FitResult struct {
	Result
	Attempts   []Strategy `json:"attempts"`
	OverBudget bool       `json:"over_budget"`
}

// Fit compresses content with the strategy the configured bands select and
// escalates until the result fits budget or aggressive has been tried.
// OverBudget reports that even aggressive did not fit.
func (e *Engine) Fit(content string, budget int, p *persona.Persona) FitResult {
	original := e.estimator.EstimateText(content)
	s := e.cfg.Bands.Select(original, budget)

	var fr FitResult
	for {
		fr.Result = e.Compress(content, s, p)
		fr.Attempts = append(fr.Attempts, s)
		if fr.Metadata.CompressedTokens <= budget {
			return fr
		}
		next, ok := s.next()
		if !ok {
			fr.OverBudget = true
			return fr
		}
		s = next
	}
}

func (e *Engine) minimal(content string, md *Metadata) string {
	cutoff := e.cfg.Now().Add(-e.cfg.LogRetention)
	pruned, n := pruneLogs(normalize(content), cutoff)
	md.LogLinesPruned = n
	return normalize(pruned)
}

func (e *Engine) balanced(content string, p *persona.Persona, md *Metadata) string {
	sections := e.classifier.ClassifyText(e.minimal(content, md), p)
	total := len(sections)

	kept := make([]importance.Section, 0, len(sections))
	for _, s := range sections {
		if s.Importance > importance.Low {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		kept = sections
	}

	kept, md.HeadersMerged = mergeHeaders(kept)
	md.DuplicatesRemoved = dedupeLines(kept, true)
	for i := range kept {
		var n int
		kept[i].Lines, n = shortenParagraphs(kept[i].Lines, e.cfg.BalancedParagraphLimit, firstTwo)
		md.ParagraphsShortened += n
	}

	md.SectionsKept = len(kept)
	md.SectionsDropped = total - len(kept) - md.HeadersMerged
	return normalize(importance.Render(kept))
}

func (e *Engine) aggressive(content string, p *persona.Persona, md *Metadata) string {
	sections := e.classifier.ClassifyText(e.minimal(content, md), p)
	total := len(sections)

	kept := make([]importance.Section, 0, len(sections))
	for _, s := range sections {
		if s.Importance >= importance.High {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 && len(sections) > 0 {
		best := sections[0]
		for _, s := range sections[1:] {
			if s.Score > best.Score {
				best = s
			}
		}
		kept = append(kept, best)
	}

	kept, md.HeadersMerged = mergeHeaders(kept)
	md.DuplicatesRemoved = dedupeLines(kept, false)
	for i := range kept {
		var n int
		kept[i].Lines, n = shortenParagraphs(kept[i].Lines, e.cfg.AggressiveParagraphLimit, firstAndLast)
		md.ParagraphsShortened += n
	}

	md.SectionsKept = len(kept)
	md.SectionsDropped = total - len(kept) - md.HeadersMerged
	return normalize(importance.Render(kept))
}
