package router

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/contextkit/plugin/ai/persona"
)

func newCatalog(t *testing.T, personas ...*persona.Persona) persona.Catalog {
	t.Helper()
	c, err := persona.NewMemoryCatalog(personas...)
	require.NoError(t, err)
	return c
}

func debuggerAndArchitect() []*persona.Persona {
	return []*persona.Persona{
		{
			ID:              "debugger",
			TokenAllocation: 1,
			Keywords:        map[string]float64{"fix": 20, "exception": 20, "debug": 20},
			Boosts:          []persona.Boost{{When: "error_state", Weight: 30}},
		},
		{
			ID:              "architect",
			TokenAllocation: 1,
			Keywords:        map[string]float64{"design": 20, "structure": 20},
		},
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Fix the null pointer exception in login", []string{"fix", "null", "pointer", "exception", "login"}},
		{"Refactor   auth_service.go; refactor it!", []string{"refactor", "auth_service.go"}},
		{"Is a CI/CD pipeline ok?", []string{"ci", "cd", "pipeline", "ok"}},
		{"...", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Tokenize(tt.in)); diff != "" {
				t.Errorf("Tokenize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestKeywordMatcher_Score(t *testing.T) {
	var m KeywordMatcher
	p := &persona.Persona{
		ID:         "qa",
		FocusAreas: []string{"edge cases"},
		Keywords:   map[string]float64{"test": 20, "mock": 10, "ci": 10},
	}

	score := func(text string) float64 {
		return m.Score(p, Tokenize(text), Normalize(text))
	}

	assert.Equal(t, 20.0, score("add a test"))
	assert.Equal(t, 10.0, score("more testing"), "prefix match scores half")
	assert.Equal(t, 0.0, score("cite sources"), "short keywords never prefix-match")
	assert.Equal(t, 20.0, score("cover the Edge  Cases"))
	assert.Equal(t, 30.0, score("test with a mock"))
}

func TestService_Analyze(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(Config{Catalog: newCatalog(t, debuggerAndArchitect()...)})
	require.NoError(t, err)

	t.Run("DebuggerScenario", func(t *testing.T) {
		a, err := svc.Analyze(ctx, "fix the null pointer exception in login", Signals{})
		require.NoError(t, err)
		assert.Equal(t, 40.0, a.Score("debugger"))
		assert.Equal(t, 0.0, a.Score("architect"))
		assert.Equal(t, "debugger", a.PrimaryPersonaID)
		assert.Equal(t, []string{"fix", "null", "pointer", "exception", "login"}, a.Keywords)
	})

	t.Run("ErrorStateBoost", func(t *testing.T) {
		a, err := svc.Analyze(ctx, "review the design", Signals{ErrorState: true})
		require.NoError(t, err)
		assert.Equal(t, 30.0, a.Score("debugger"))
		assert.Equal(t, 20.0, a.Score("architect"))
		assert.Equal(t, "debugger", a.PrimaryPersonaID)
	})

	t.Run("NoMatchHasNoPrimary", func(t *testing.T) {
		a, err := svc.Analyze(ctx, "hello there", Signals{})
		require.NoError(t, err)
		assert.Empty(t, a.PrimaryPersonaID)
		assert.Len(t, a.Ranked, 2)
	})

	t.Run("TieBrokenByPriority", func(t *testing.T) {
		a, err := svc.Analyze(ctx, "fix the design", Signals{})
		require.NoError(t, err)
		assert.Equal(t, a.Score("debugger"), a.Score("architect"))
		assert.Equal(t, "debugger", a.PrimaryPersonaID)
	})
}

func TestService_BoostFailuresAreSkipped(t *testing.T) {
	p := &persona.Persona{
		ID:              "qa",
		TokenAllocation: 1,
		Keywords:        map[string]float64{"test": 20},
		Boosts: []persona.Boost{
			{When: "this is not cel", Weight: 100},
			{When: "keywords.size()", Weight: 100},
			{When: `recent_files.exists(f, f.endsWith("_test.go"))`, Weight: 5},
		},
	}
	svc, err := NewService(Config{Catalog: newCatalog(t, p)})
	require.NoError(t, err)

	a, err := svc.Analyze(context.Background(), "write a test", Signals{RecentFiles: []string{"main.go", "x_test.go"}})
	require.NoError(t, err)
	assert.Equal(t, 25.0, a.Score("qa"))
}

func TestService_CatalogError(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)

	svc, err := NewService(Config{Catalog: failingCatalog{}})
	require.NoError(t, err)
	_, err = svc.Analyze(context.Background(), "x", Signals{})
	assert.Error(t, err)
}

type failingCatalog struct{}

func (failingCatalog) GetAll(context.Context) ([]*persona.Persona, error) {
	return nil, errors.New("catalog down")
}

func (failingCatalog) Get(context.Context, string) (*persona.Persona, error) {
	return nil, errors.New("catalog down")
}

func TestRank(t *testing.T) {
	ranked := Rank(map[string]float64{
		"scribe":   10,
		"custom-b": 10,
		"security": 10,
		"custom-a": 10,
		"qa":       50,
	})
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.PersonaID
	}
	assert.Equal(t, []string{"qa", "security", "scribe", "custom-a", "custom-b"}, ids)
}

func TestBoostEvaluator(t *testing.T) {
	b, err := NewBoostEvaluator()
	require.NoError(t, err)

	assert.NoError(t, b.Compile("error_state && text.contains(\"panic\")"))
	assert.Error(t, b.Compile("text"), "non-boolean expressions are rejected")
	assert.Error(t, b.Compile("unknown_var"))

	ok, err := b.Eval(`"fix" in keywords`, "", []string{"fix"}, Signals{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Eval("recent_files.size() > 0", "", nil, Signals{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDefaultCatalogScenarios(t *testing.T) {
	catalog, err := persona.DefaultCatalog()
	require.NoError(t, err)
	svc, err := NewService(Config{Catalog: catalog})
	require.NoError(t, err)

	tests := []struct {
		text string
		want string
	}{
		{"fix the crash when the login handler throws an exception", "debugger"},
		{"design the module boundaries for the new architecture", "architect"},
		{"the dashboard is slow, find the bottleneck and optimize memory", "performance"},
		{"add regression tests and raise coverage", "qa"},
		{"audit the password storage for injection vulnerability", "security"},
		{"deploy the service with docker and kubernetes", "devops"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			a, err := svc.Analyze(context.Background(), tt.text, Signals{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.PrimaryPersonaID, "scores: %v", a.Scores)
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		max    int
		expect string
	}{
		{"Short", "fix bug", 50, "fix bug"},
		{"ASCII", "abcdef", 3, "abc..."},
		{"MultiByteBoundary", "修复登录", 4, "修..."},
		{"MultiByteExact", "修复登录", 6, "修复..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			assert.Equal(t, tt.expect, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestMockTaskAnalyzer(t *testing.T) {
	m := NewMockTaskAnalyzer(map[string]float64{"qa": 10})
	m.Overrides["special"] = map[string]float64{"architect": 50}

	a, err := m.Analyze(context.Background(), "anything", Signals{})
	require.NoError(t, err)
	assert.Equal(t, "qa", a.PrimaryPersonaID)

	a, err = m.Analyze(context.Background(), "special", Signals{})
	require.NoError(t, err)
	assert.Equal(t, "architect", a.PrimaryPersonaID)
	assert.Equal(t, 2, m.Calls)
}
