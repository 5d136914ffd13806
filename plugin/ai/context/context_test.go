package context

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/contextkit/plugin/ai/cache"
	"github.com/hrygo/contextkit/plugin/ai/compression"
	"github.com/hrygo/contextkit/plugin/ai/importance"
	"github.com/hrygo/contextkit/plugin/ai/persona"
	"github.com/hrygo/contextkit/plugin/ai/resource"
	"github.com/hrygo/contextkit/plugin/ai/tokens"
)

func newEngine() *compression.Engine {
	return compression.NewEngine(compression.DefaultConfig(), importance.NewClassifier(nil), tokens.NewEstimator())
}

func testSnapshot() *StaticSnapshot {
	return &StaticSnapshot{Snapshot: Snapshot{
		FileStructure: "cmd/\n  main.go\ninternal/\n  server.go",
		RecentFiles:   []string{"internal/server.go"},
		ErrorState:    "panic: nil map write in server.go:42",
	}}
}

func backend() *persona.Persona {
	return &persona.Persona{
		ID:              "backend",
		Name:            "Backend Engineer",
		Description:     "Server-side reliability.",
		FocusAreas:      []string{"api", "database"},
		TokenAllocation: 0.5,
	}
}

func newLoader(t *testing.T, st *resource.MockStorage) (*resource.Loader, *cache.Service) {
	t.Helper()
	c := cache.NewService(cache.DefaultServiceConfig())
	t.Cleanup(c.Close)
	return resource.NewLoader(st, c, 0, nil), c
}

func TestAssembler_Assemble(t *testing.T) {
	ctx := context.Background()
	a := NewAssembler(Config{MaxContextTokens: 8000}, testSnapshot(), nil, newEngine())

	b, err := a.Assemble(ctx, backend(), "  add a health endpoint  ")
	require.NoError(t, err)

	assert.Equal(t, "backend", b.PersonaID)
	assert.Equal(t, "add a health endpoint", b.Task)
	assert.Contains(t, b.PersonaOverlaySummary, "## Persona: Backend Engineer (backend)")
	assert.Contains(t, b.PersonaOverlaySummary, "Focus areas: api, database")
	assert.Contains(t, b.BaseContent, "## Error State")
	assert.Contains(t, b.BaseContent, "- internal/server.go")
	assert.Contains(t, b.Text(), "## Current Task\nadd a health endpoint")
	assert.Equal(t, compression.Minimal, b.Strategy)
	assert.False(t, b.Truncated)
	assert.Equal(t, 4000, b.Budget.Total)
	assert.NotEmpty(t, b.Sections)
	assert.Equal(t, tokens.Estimate(b.Text()), b.EstimatedTokens)
	assert.LessOrEqual(t, b.EstimatedTokens, b.OriginalTokens)
}

func TestAssembler_Resources(t *testing.T) {
	ctx := context.Background()
	st := resource.NewMockStorage()
	st.Put(resource.KindPersona, "backend", "Prefer idempotent handlers.")
	st.Put(resource.KindProject, ProjectResourceName, "## Conventions\nUse table-driven tests.")
	loader, c := newLoader(t, st)

	a := NewAssembler(Config{}, testSnapshot(), loader, newEngine())
	b, err := a.Assemble(ctx, backend(), "")
	require.NoError(t, err)
	assert.Contains(t, b.PersonaOverlaySummary, "Prefer idempotent handlers.")
	assert.Contains(t, b.BaseContent, "## Conventions")

	require.NoError(t, a.Apply(ctx, backend()))
	assert.Equal(t, 2, st.Reads(), "resources are served from the cache")
	assert.Equal(t, int64(2), c.Stats().Hits)

	t.Run("StorageFailure", func(t *testing.T) {
		loader.Invalidate(ctx, "")
		st.Err = errors.New("disk gone")
		_, err := a.Assemble(ctx, backend(), "")
		assert.Error(t, err)
		assert.Error(t, a.Apply(ctx, backend()))
	})
}

func TestAssembler_SnapshotFailure(t *testing.T) {
	snap := &StaticSnapshot{Err: errors.New("walk failed")}
	a := NewAssembler(Config{}, snap, nil, newEngine())
	_, err := a.Assemble(context.Background(), backend(), "task")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "walk failed")
}

func TestAssembler_Overlay(t *testing.T) {
	p := backend()
	p.Overlay = persona.Overlay{
		PriorityPatterns:  []string{"^## Recent"},
		ExclusionPatterns: []string{"file structure", "[invalid"},
	}
	a := NewAssembler(Config{}, testSnapshot(), nil, newEngine())

	b, err := a.Assemble(context.Background(), p, "")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Excluded)
	assert.NotContains(t, b.BaseContent, "File Structure")
	assert.True(t, strings.HasPrefix(b.BaseContent, "# Project Context"))
	assert.Less(t, strings.Index(b.BaseContent, "## Recent Changes"), strings.Index(b.BaseContent, "## Error State"))
}

func TestAssembler_Truncates(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("## Security Requirements\n```text\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "must validate input field number %d before use\n", i)
	}
	sb.WriteString("```\n")

	st := resource.NewMockStorage()
	st.Put(resource.KindProject, ProjectResourceName, sb.String())
	loader, _ := newLoader(t, st)

	a := NewAssembler(Config{MaxContextTokens: 400}, testSnapshot(), loader, newEngine())
	b, err := a.Assemble(context.Background(), backend(), "")
	require.NoError(t, err)

	assert.True(t, b.Truncated)
	assert.Equal(t, compression.Aggressive, b.Strategy)
	assert.Contains(t, b.BaseContent, "## Security Requirements")
	assert.LessOrEqual(t, tokens.Estimate(b.BaseContent), b.Budget.Content)
	assert.Less(t, b.EstimatedTokens, b.OriginalTokens)
}

func TestBudgetAllocator(t *testing.T) {
	a := NewBudgetAllocator(0)

	b := a.Allocate(&persona.Persona{TokenAllocation: 0.25}, 100)
	assert.Equal(t, TokenBudget{Total: 2000, Fixed: 100, Content: 1900}, *b)

	b = a.Allocate(nil, 0)
	assert.Equal(t, DefaultMaxTokens, b.Total)

	b = NewBudgetAllocator(1000).Allocate(&persona.Persona{TokenAllocation: 1}, 900)
	assert.Equal(t, 500, b.Content, "fixed part is capped at half the budget")
}

func TestPriorityRanker(t *testing.T) {
	est := tokens.NewEstimator()
	r := NewPriorityRanker(est)

	seg := func(content string, prio ContextPriority, order int) *ContextSegment {
		return &ContextSegment{Content: content, Priority: prio, TokenCost: SegmentCost(est, content), Order: order}
	}

	t.Run("KeepsPriorityInDocumentOrder", func(t *testing.T) {
		segments := []*ContextSegment{
			seg(strings.Repeat("low ", 40), PriorityLow, 0),
			seg("critical part", PriorityCritical, 1),
			seg("high part", PriorityHigh, 2),
		}
		budget := segments[1].TokenCost + segments[2].TokenCost
		kept := r.RankAndTruncate(segments, budget)
		require.Len(t, kept, 2)
		assert.Equal(t, "critical part", kept[0].Content)
		assert.Equal(t, "high part", kept[1].Content)
	})

	t.Run("TruncatesPartialSegment", func(t *testing.T) {
		var lines []string
		for i := 0; i < 50; i++ {
			lines = append(lines, fmt.Sprintf("line %d of a long section", i))
		}
		long := strings.Join(lines, "\n")
		kept := r.RankAndTruncate([]*ContextSegment{seg(long, PriorityHigh, 0)}, 40)
		require.Len(t, kept, 1)
		assert.True(t, strings.HasSuffix(kept[0].Content, "…"))
		assert.LessOrEqual(t, kept[0].TokenCost, 40)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Nil(t, r.RankAndTruncate(nil, 100))
	})
}
