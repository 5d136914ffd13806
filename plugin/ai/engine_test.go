package ai

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hrygo/contextkit/internal/profile"
	"github.com/hrygo/contextkit/plugin/ai/compression"
	aicontext "github.com/hrygo/contextkit/plugin/ai/context"
	"github.com/hrygo/contextkit/plugin/ai/metrics"
	"github.com/hrygo/contextkit/plugin/ai/persona"
	"github.com/hrygo/contextkit/plugin/ai/resource"
	"github.com/hrygo/contextkit/plugin/ai/session"
	"github.com/hrygo/contextkit/plugin/ai/usage"
	"github.com/hrygo/contextkit/store"
	"github.com/hrygo/contextkit/store/db/sqlite"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const crashTask = "fix the crash when the login handler throws an exception"

type engineFixture struct {
	engine   *Engine
	storage  *resource.MockStorage
	snapshot *aicontext.StaticSnapshot
}

func newTestDeps(t *testing.T, st *store.Store) (Dependencies, *resource.MockStorage, *aicontext.StaticSnapshot) {
	t.Helper()
	catalog, err := persona.DefaultCatalog()
	require.NoError(t, err)

	storage := resource.NewMockStorage()
	storage.Put(resource.KindProject, aicontext.ProjectResourceName, "## Conventions\nAll handlers must validate input.")
	storage.Put(resource.KindPersona, "debugger", "Reproduce before fixing.")
	storage.Put(resource.KindPersona, "architect", "Prefer small interfaces.")
	storage.Put(resource.KindPersona, "security", "Treat all input as hostile.")

	snap := &aicontext.StaticSnapshot{Snapshot: aicontext.Snapshot{
		FileStructure: "cmd/\n  main.go\ninternal/\n  login.go",
		RecentFiles:   []string{"internal/login.go"},
		ErrorState:    "panic: nil pointer dereference in login.go:12",
	}}
	return Dependencies{
		Store:     st,
		Catalog:   catalog,
		Snapshots: snap,
		Storage:   storage,
		Now:       func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}, storage, snap
}

func newTestEngine(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()
	deps, storage, snap := newTestDeps(t, nil)
	cfg := DefaultConfig()
	cfg.ProjectKey = "demo"
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(context.Background(), cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return &engineFixture{engine: e, storage: storage, snapshot: snap}
}

func TestEngine_AnalyzeAndDetect(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, nil)

	t.Run("Analyze", func(t *testing.T) {
		a, err := f.engine.AnalyzeTask(ctx, crashTask)
		require.NoError(t, err)
		assert.Equal(t, "debugger", a.PrimaryPersonaID)
		assert.Contains(t, a.Keywords, "crash")
		assert.True(t, f.engine.State().Idle(), "analysis never switches")
	})

	t.Run("DetectSwitches", func(t *testing.T) {
		var events []session.SwitchEvent
		f.engine.OnSwitch(func(e session.SwitchEvent) { events = append(events, e) })

		d, err := f.engine.DetectOptimalPersona(ctx, crashTask)
		require.NoError(t, err)
		assert.True(t, d.Switched)
		assert.Equal(t, "debugger", f.engine.State().CurrentPersonaID)
		require.Len(t, events, 1)
		assert.False(t, events[0].Manual)
	})

	t.Run("SnapshotFailure", func(t *testing.T) {
		f.snapshot.Err = errors.New("walk failed")
		defer func() { f.snapshot.Err = nil }()

		_, err := f.engine.AnalyzeTask(ctx, crashTask)
		assert.Error(t, err)
	})
}

func TestEngine_SwitchPersona(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, nil)

	s, err := f.engine.SwitchPersona(ctx, "architect", session.SwitchOptions{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, "architect", s.CurrentPersonaID)

	_, err = f.engine.SwitchPersona(ctx, "wizard", session.SwitchOptions{Manual: true})
	var invalid *session.InvalidPersonaError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "architect", f.engine.State().CurrentPersonaID)

	f.storage.Err = errors.New("disk unavailable")
	_, err = f.engine.SwitchPersona(ctx, "qa", session.SwitchOptions{Manual: true})
	var failed *session.PersonaSwitchFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "architect", f.engine.State().CurrentPersonaID)
}

func TestEngine_AssembleContext(t *testing.T) {
	ctx := context.Background()

	t.Run("DetectsPersonaWhenIdle", func(t *testing.T) {
		f := newTestEngine(t, nil)
		b, err := f.engine.AssembleContext(ctx, crashTask)
		require.NoError(t, err)
		assert.Equal(t, "debugger", b.PersonaID)
		assert.Equal(t, crashTask, b.Task)
		assert.Contains(t, b.PersonaOverlaySummary, "Reproduce before fixing.")
		assert.Contains(t, b.Text(), "## Current Task")

		report := f.engine.UsageReport(usage.Filter{})
		assert.Equal(t, 1, report.Records)
		assert.Equal(t, 1, report.ByPersona["debugger"].Records)
		records := f.engine.UsageRecords()
		require.Len(t, records, 1)
		rec := records[0]
		assert.Equal(t, "debugger", rec.PersonaID)
		assert.Equal(t, rec.OriginalTokens+rec.ContextTokens, rec.TotalTokens)
		assert.Positive(t, rec.OriginalTokens)
	})

	t.Run("DefaultPersonaWithoutTask", func(t *testing.T) {
		f := newTestEngine(t, nil)
		b, err := f.engine.AssembleContext(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "architect", b.PersonaID)
		assert.True(t, f.engine.State().Idle())
	})

	t.Run("ActivePersona", func(t *testing.T) {
		f := newTestEngine(t, nil)
		_, err := f.engine.SwitchPersona(ctx, "qa", session.SwitchOptions{Manual: true})
		require.NoError(t, err)

		b, err := f.engine.AssembleContext(ctx, crashTask)
		require.NoError(t, err)
		assert.Equal(t, "qa", b.PersonaID)
	})

	t.Run("CachesResources", func(t *testing.T) {
		f := newTestEngine(t, nil)
		_, err := f.engine.AssembleContext(ctx, "")
		require.NoError(t, err)
		reads := f.storage.Reads()
		_, err = f.engine.AssembleContext(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, reads, f.storage.Reads(), "project context is served from the cache")
		assert.Positive(t, f.engine.CacheStats().Hits)
	})
}

func TestEngine_Compress(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, nil)
	content := "# Notes\n\n\nSome   text.   \n\n\n\n## Requirements\nMust keep this."

	r, err := f.engine.Compress(ctx, content, "minimal", "")
	require.NoError(t, err)
	assert.Equal(t, compression.Minimal, r.Metadata.Strategy)
	assert.LessOrEqual(t, r.Metadata.CompressedTokens, r.Metadata.OriginalTokens)

	r, err = f.engine.Compress(ctx, content, "aggressive", "qa")
	require.NoError(t, err)
	assert.Equal(t, "qa", r.Metadata.PersonaID)
	assert.Contains(t, r.Content, "Must keep this.")

	_, err = f.engine.Compress(ctx, content, "extreme", "")
	assert.ErrorIs(t, err, compression.ErrUnknownStrategy)

	_, err = f.engine.Compress(ctx, content, "minimal", "wizard")
	assert.ErrorIs(t, err, persona.ErrNotFound)
}

func TestEngine_UsageAlerts(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, nil)

	var alerts []usage.Record
	f.engine.OnAlert(func(r usage.Record) { alerts = append(alerts, r) })

	_, err := f.engine.RecordUsage(ctx, "backend", 100, 2500)
	require.NoError(t, err)
	_, err = f.engine.RecordUsage(ctx, "backend", 100, 3200)
	require.NoError(t, err)
	_, err = f.engine.RecordUsage(ctx, "backend", 100, 10)
	require.NoError(t, err)

	require.Len(t, alerts, 2)
	assert.Equal(t, usage.AlertWarning, alerts[0].AlertLevel)
	assert.Equal(t, usage.AlertCritical, alerts[1].AlertLevel)

	_, err = f.engine.RecordUsage(ctx, "backend", -1, 0)
	assert.ErrorIs(t, err, usage.ErrInvalidUsage)

	report := f.engine.UsageReport(usage.Filter{PersonaID: "backend"})
	assert.Equal(t, 3, report.Records)
	assert.Equal(t, 1, report.Alerts[usage.AlertWarning])
	assert.Equal(t, 1, report.Alerts[usage.AlertCritical])
	assert.Len(t, f.engine.UsageRecords(), 3)

	stats := f.engine.OperationStats()
	require.NotEmpty(t, stats)
	var recordUsage int64
	for _, s := range stats {
		if s.Operation == "record_usage" {
			recordUsage = s.Calls
			assert.Equal(t, int64(1), s.Failures)
		}
	}
	assert.Equal(t, int64(4), recordUsage)
}

func TestEngine_SessionOutcome(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, nil)

	err := f.engine.RecordSessionOutcome(ctx, metrics.SessionRecord{PersonaID: "qa", Quality: 0.9, Duration: time.Minute})
	require.NoError(t, err)
	err = f.engine.RecordSessionOutcome(ctx, metrics.SessionRecord{PersonaID: "wizard", Quality: 0.9})
	assert.ErrorIs(t, err, persona.ErrNotFound)

	summary := f.engine.PersonaSummary()
	require.Contains(t, summary, "qa")
	assert.Equal(t, 1, summary["qa"].Sessions)
}

func newSQLiteStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{Mode: "dev", Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "engine.db")}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	s := store.New(driver, p)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestEngine_Persistence(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStore(t)
	cfg := DefaultConfig()
	cfg.ProjectKey = "demo"

	deps, _, _ := newTestDeps(t, st)
	first, err := NewEngine(ctx, cfg, deps)
	require.NoError(t, err)

	_, err = first.SwitchPersona(ctx, "security", session.SwitchOptions{Manual: true})
	require.NoError(t, err)
	_, err = first.AssembleContext(ctx, "review the auth flow")
	require.NoError(t, err)
	require.NoError(t, first.RecordSessionOutcome(ctx, metrics.SessionRecord{PersonaID: "security", Quality: 0.8}))
	sessionID := first.State().SessionID
	require.NoError(t, first.Close(ctx))

	deps, storage, _ := newTestDeps(t, st)
	second, err := NewEngine(ctx, cfg, deps)
	require.NoError(t, err)
	defer second.Close(ctx)

	state := second.State()
	assert.Equal(t, sessionID, state.SessionID)
	assert.Equal(t, "security", state.CurrentPersonaID)
	assert.Equal(t, 1, second.UsageReport(usage.Filter{}).Records)
	assert.Len(t, second.UsageRecords(), 1)
	assert.Contains(t, second.PersonaSummary(), "security")
	assert.Positive(t, second.CacheStats().Size)

	_, err = second.AssembleContext(ctx, "review the auth flow")
	require.NoError(t, err)
	assert.Zero(t, storage.Reads(), "resources come from the restored cache")
}

func TestEngine_InvalidConfig(t *testing.T) {
	deps, _, _ := newTestDeps(t, nil)
	cfg := DefaultConfig()
	cfg.Cache.MaxSize = 0
	_, err := NewEngine(context.Background(), cfg, deps)
	assert.Error(t, err)
}
