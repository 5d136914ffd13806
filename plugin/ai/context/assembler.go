package context

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hrygo/contextkit/plugin/ai/compression"
	"github.com/hrygo/contextkit/plugin/ai/importance"
	"github.com/hrygo/contextkit/plugin/ai/persona"
	"github.com/hrygo/contextkit/plugin/ai/resource"
	"github.com/hrygo/contextkit/plugin/ai/tokens"
)

// ProjectResourceName is the optional project document merged into the base context.
const ProjectResourceName = "context"

// OverlaySource loads optional markdown resources.
type OverlaySource interface {
	LoadOptional(ctx context.Context, kind, name string) (string, bool, error)
}

// Bundle is an assembled context. It is built fresh for every request and
// never modified afterwards.
type Bundle struct {
	PersonaID             string                 `json:"persona_id"`
	Task                  string                 `json:"task,omitempty"`
	BaseContent           string                 `json:"base_content"`
	PersonaOverlaySummary string                 `json:"persona_overlay_summary"`
	Sections              []importance.Section   `json:"sections"`
	EstimatedTokens       int                    `json:"estimated_tokens"`
	OriginalTokens        int                    `json:"original_tokens"`
	Budget                TokenBudget            `json:"budget"`
	Strategy              compression.Strategy   `json:"strategy"`
	Attempts              []compression.Strategy `json:"attempts"`
	Truncated             bool                   `json:"truncated"`
	Excluded              int                    `json:"excluded_sections"`
	AssembledAt           time.Time              `json:"assembled_at"`
}

// Text renders the bundle as the assistant sees it.
func (b *Bundle) Text() string {
	parts := []string{b.PersonaOverlaySummary}
	if b.Task != "" {
		parts = append(parts, "## Current Task\n"+b.Task)
	}
	if b.BaseContent != "" {
		parts = append(parts, b.BaseContent)
	}
	return strings.Join(parts, "\n\n")
}

// Config configures the assembler.
type Config struct {
	MaxContextTokens int // Context window shared by all personas (default: 8000)
	Now              func() time.Time
	Logger           *slog.Logger
}

// Assembler merges the project snapshot with a persona overlay and fits the
// result into the persona's token budget.
type Assembler struct {
	cfg       Config
	snapshots SnapshotProvider
	overlays  OverlaySource
	engine    *compression.Engine
	estimator *tokens.Estimator
	allocator *BudgetAllocator
	ranker    *PriorityRanker
}

// NewAssembler creates an assembler. overlays may be nil.
func NewAssembler(cfg Config, snapshots SnapshotProvider, overlays OverlaySource, engine *compression.Engine) *Assembler {
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = DefaultMaxTokens
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assembler{
		cfg:       cfg,
		snapshots: snapshots,
		overlays:  overlays,
		engine:    engine,
		estimator: engine.Estimator(),
		allocator: NewBudgetAllocator(cfg.MaxContextTokens),
		ranker:    NewPriorityRanker(engine.Estimator()),
	}
}

// Apply prepares p for activation: it assembles the persona's base bundle,
// which loads its overlay resources into the cache. An error means the
// persona cannot be activated.
func (a *Assembler) Apply(ctx context.Context, p *persona.Persona) error {
	_, err := a.Assemble(ctx, p, "")
	return err
}

// Assemble builds the bundle for p and the optional task text.
func (a *Assembler) Assemble(ctx context.Context, p *persona.Persona, task string) (*Bundle, error) {
	if p == nil {
		return nil, fmt.Errorf("assemble: persona is required")
	}
	snap, err := a.snapshots.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("read project snapshot: %w", err)
	}

	overlay, err := a.loadResource(ctx, resource.KindPersona, p.ID)
	if err != nil {
		return nil, err
	}
	project, err := a.loadResource(ctx, resource.KindProject, ProjectResourceName)
	if err != nil {
		return nil, err
	}

	task = strings.TrimSpace(task)
	summary := OverlaySummary(p, overlay)
	fixed := summary
	if task != "" {
		fixed += "\n\n## Current Task\n" + task
	}

	sections := importance.Parse(BaseDocument(snap, project))
	sections, excluded := applyOverlay(sections, p.Overlay)
	content := importance.Render(sections)

	budget := a.allocator.Allocate(p, a.estimator.EstimateText(fixed)+2)
	fit := a.engine.Fit(content, budget.Content, p)

	b := &Bundle{
		PersonaID:             p.ID,
		Task:                  task,
		PersonaOverlaySummary: summary,
		BaseContent:           fit.Content,
		Budget:                *budget,
		Strategy:              fit.Metadata.Strategy,
		Attempts:              fit.Attempts,
		Excluded:              excluded,
		AssembledAt:           a.cfg.Now(),
	}
	if fit.OverBudget {
		b.BaseContent = a.truncate(fit.Content, budget.Content, p)
		b.Truncated = true
	}

	b.Sections = a.engine.Classifier().ClassifyText(b.BaseContent, p)
	b.EstimatedTokens = a.estimator.EstimateText(b.Text())
	b.OriginalTokens = a.estimator.EstimateText(strings.Join([]string{fixed, content}, "\n\n"))

	a.cfg.Logger.DebugContext(ctx, "context assembled",
		"persona", p.ID,
		"strategy", b.Strategy,
		"original_tokens", b.OriginalTokens,
		"estimated_tokens", b.EstimatedTokens,
		"budget", budget.Total,
		"truncated", b.Truncated,
	)
	return b, nil
}

func (a *Assembler) loadResource(ctx context.Context, kind, name string) (string, error) {
	if a.overlays == nil {
		return "", nil
	}
	s, _, err := a.overlays.LoadOptional(ctx, kind, name)
	if err != nil {
		return "", fmt.Errorf("load %s resource %q: %w", kind, name, err)
	}
	return s, nil
}

// truncate ranks the sections of content by importance, overlay priority
// patterns included, and keeps what fits budget.
func (a *Assembler) truncate(content string, budget int, p *persona.Persona) string {
	sections := a.engine.Classifier().ClassifyText(content, p)
	segments := make([]*ContextSegment, 0, len(sections))
	for i, s := range sections {
		prio := PriorityOf(s.Importance)
		if i == 0 {
			prio = PriorityPreamble
		} else if matchesAny(s.Text(), p.Overlay.PriorityPatterns) {
			prio += PriorityPatternBonus
		}
		text := s.Text()
		segments = append(segments, &ContextSegment{
			Content:   text,
			Priority:  prio,
			TokenCost: SegmentCost(a.estimator, text),
			Order:     i,
		})
	}

	kept := a.ranker.RankAndTruncate(segments, budget)
	parts := make([]string, 0, len(kept))
	for _, seg := range kept {
		parts = append(parts, seg.Content)
	}
	return strings.Join(parts, "\n")
}

// OverlaySummary describes the persona for the assistant. extra is the
// persona's overlay resource, appended verbatim when present.
func OverlaySummary(p *persona.Persona, extra string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Persona: %s (%s)\n", p.Name, p.ID)
	if p.Description != "" {
		sb.WriteString(p.Description + "\n")
	}
	if len(p.FocusAreas) > 0 {
		sb.WriteString("Focus areas: " + strings.Join(p.FocusAreas, ", ") + "\n")
	}
	if len(p.PreservePatterns) > 0 {
		sb.WriteString("Always preserve: " + strings.Join(p.PreservePatterns, ", ") + "\n")
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		sb.WriteString("\n" + extra + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// BaseDocument renders the snapshot, followed by the project document, as markdown.
func BaseDocument(snap *Snapshot, project string) string {
	var sb strings.Builder
	sb.WriteString("# Project Context\n")
	if snap.HasError() {
		sb.WriteString("\n## Error State\n" + strings.TrimSpace(snap.ErrorState) + "\n")
	}
	if len(snap.RecentFiles) > 0 {
		sb.WriteString("\n## Recent Changes\n")
		for _, f := range snap.RecentFiles {
			sb.WriteString("- " + f + "\n")
		}
	}
	if fs := strings.TrimSpace(snap.FileStructure); fs != "" {
		sb.WriteString("\n## File Structure\n```text\n" + fs + "\n```\n")
	}
	if project = strings.TrimSpace(project); project != "" {
		sb.WriteString("\n" + project + "\n")
	}
	return sb.String()
}

// applyOverlay drops sections matching an exclusion pattern and moves
// sections matching a priority pattern forward. The first section, the
// document title, never moves or drops. Relative order is otherwise preserved.
func applyOverlay(sections []importance.Section, o persona.Overlay) ([]importance.Section, int) {
	if len(sections) == 0 {
		return nil, 0
	}
	head := sections[0]
	var priority, rest []importance.Section
	excluded := 0
	for _, s := range sections[1:] {
		text := s.Text()
		switch {
		case matchesAny(text, o.ExclusionPatterns):
			excluded++
		case matchesAny(text, o.PriorityPatterns):
			priority = append(priority, s)
		default:
			rest = append(rest, s)
		}
	}
	kept := append([]importance.Section{head}, priority...)
	return append(kept, rest...), excluded
}

// matchesAny reports whether text matches one of the patterns. Patterns are
// case-insensitive regular expressions; invalid ones match literally.
func matchesAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if overlayPattern(p).MatchString(text) {
			return true
		}
	}
	return false
}

func overlayPattern(p string) *regexp.Regexp {
	if re, err := regexp.Compile("(?i)" + p); err == nil {
		return re
	}
	return regexp.MustCompile("(?i)" + regexp.QuoteMeta(p))
}
