// Package ai wires the context engineering components into one engine.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/contextkit/internal/observability"
	"github.com/hrygo/contextkit/plugin/ai/cache"
	"github.com/hrygo/contextkit/plugin/ai/compression"
	aicontext "github.com/hrygo/contextkit/plugin/ai/context"
	"github.com/hrygo/contextkit/plugin/ai/importance"
	"github.com/hrygo/contextkit/plugin/ai/metrics"
	"github.com/hrygo/contextkit/plugin/ai/persona"
	"github.com/hrygo/contextkit/plugin/ai/project"
	"github.com/hrygo/contextkit/plugin/ai/resource"
	"github.com/hrygo/contextkit/plugin/ai/router"
	"github.com/hrygo/contextkit/plugin/ai/session"
	"github.com/hrygo/contextkit/plugin/ai/tokens"
	"github.com/hrygo/contextkit/plugin/ai/usage"
	"github.com/hrygo/contextkit/store"
)

// Dependencies are the collaborators of the engine. Nil fields fall back to
// the filesystem implementations described by Config.
type Dependencies struct {
	// Store persists session state, usage, metrics and the cache. Nil keeps
	// everything in memory.
	Store *store.Store
	// Catalog defaults to a file catalog over PersonaDir and the built-ins.
	Catalog persona.Catalog
	// Snapshots defaults to a filesystem walk of ProjectRoot.
	Snapshots aicontext.SnapshotProvider
	// Storage defaults to markdown files under ResourceDir.
	Storage resource.Storage
	Logger  *slog.Logger
	Now     func() time.Time
}

// Engine is the context engineering engine.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	store  *store.Store
	now    func() time.Time

	catalog     persona.Catalog
	fileCatalog *persona.FileCatalog
	cache       *cache.Service
	loader      *resource.Loader
	snapshots   aicontext.SnapshotProvider
	compressor  *compression.Engine
	analyzer    *router.Service
	assembler   *aicontext.Assembler
	history     *metrics.Service
	usage       *usage.Monitor
	machine     *session.Machine
	counters    *observability.Counters
}

// NewEngine builds the engine, restores persisted state and starts the
// background workers. Close releases them.
func NewEngine(ctx context.Context, cfg Config, deps Dependencies) (_ *Engine, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	e := &Engine{
		cfg:      cfg,
		logger:   deps.Logger,
		store:    deps.Store,
		now:      deps.Now,
		counters: observability.NewCounters(),
	}
	defer func() {
		if err != nil {
			e.shutdown()
		}
	}()

	e.catalog = deps.Catalog
	if e.catalog == nil {
		fc, err := persona.NewFileCatalog(cfg.PersonaDir, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load personas: %w", err)
		}
		e.fileCatalog, e.catalog = fc, fc
	}

	e.cache = cache.NewService(cache.ServiceConfig{
		Capacity:      cfg.Cache.MaxSize,
		DefaultTTL:    cfg.Cache.TTL,
		SweepInterval: cfg.Cache.SweepInterval,
		Logger:        deps.Logger,
	})
	e.cache.LRU().SetClock(deps.Now)
	if err := e.restoreCache(ctx); err != nil {
		return nil, err
	}

	storage := deps.Storage
	if storage == nil {
		storage = resource.NewFileStorage(cfg.ResourceDir)
	}
	e.loader = resource.NewLoader(storage, e.cache, cfg.Cache.TTL, deps.Logger)

	if e.fileCatalog != nil {
		e.fileCatalog.OnReload(func(n int) {
			dropped := e.loader.Invalidate(context.Background(), resource.KindPersona)
			deps.Logger.Info("personas reloaded", "count", n, "resources_invalidated", dropped)
		})
		if cfg.WatchPersonas {
			if err := e.fileCatalog.Start(context.Background()); err != nil {
				return nil, fmt.Errorf("failed to watch personas: %w", err)
			}
		}
	}

	e.snapshots = deps.Snapshots
	if e.snapshots == nil {
		pc := project.DefaultConfig(cfg.ProjectRoot)
		pc.Now = deps.Now
		e.snapshots = project.NewFSSnapshot(pc)
	}

	estimator := tokens.NewEstimator()
	e.compressor = compression.NewEngine(compression.Config{
		LogRetention: cfg.LogRetention,
		Bands:        cfg.CompressionBands,
		Now:          deps.Now,
	}, importance.NewClassifier(nil), estimator)

	e.analyzer, err = router.NewService(router.Config{Catalog: e.catalog, Logger: deps.Logger})
	if err != nil {
		return nil, err
	}

	e.assembler = aicontext.NewAssembler(aicontext.Config{
		MaxContextTokens: cfg.MaxContextTokens,
		Now:              deps.Now,
		Logger:           deps.Logger,
	}, e.snapshots, e.loader, e.compressor)

	var (
		metricStore metrics.Store
		usageStore  usage.Store
		stateStore  session.StateStore
	)
	if deps.Store != nil {
		metricStore, usageStore, stateStore = deps.Store, deps.Store, deps.Store
	}

	e.history = metrics.NewService(metrics.Config{
		ProjectKey: cfg.ProjectKey,
		Now:        deps.Now,
		Logger:     deps.Logger,
	}, metricStore)
	if cfg.MetricsRetention > 0 {
		if n, err := e.history.Prune(ctx, cfg.MetricsRetention); err != nil {
			deps.Logger.WarnContext(ctx, "failed to prune persona metrics", "error", err)
		} else if n > 0 {
			deps.Logger.DebugContext(ctx, "pruned persona metrics", "count", n)
		}
	}
	if err := e.history.Load(ctx); err != nil {
		return nil, err
	}

	e.usage = usage.NewMonitor(usage.Config{
		ProjectKey:  cfg.ProjectKey,
		Thresholds:  cfg.Thresholds(),
		HistorySize: cfg.Usage.HistorySize,
		Now:         deps.Now,
		Logger:      deps.Logger,
	}, usageStore)
	if err := e.usage.Load(ctx); err != nil {
		return nil, err
	}

	e.machine = session.NewMachine(session.Config{
		ProjectKey:           cfg.ProjectKey,
		SwitchThreshold:      cfg.Persona.SwitchThreshold,
		AutoDetectionEnabled: cfg.Persona.AutoDetectionEnabled,
		UseHistory:           cfg.Persona.UseHistory,
		AutoSwitchBurst:      cfg.Persona.AutoSwitchBurst,
		AutoSwitchEvery:      cfg.Persona.AutoSwitchEvery,
		Now:                  deps.Now,
		Logger:               deps.Logger,
	}, e.catalog, e.assembler, e.analyzer, e.history, stateStore)
	if _, err := e.machine.Restore(ctx); err != nil {
		return nil, err
	}

	return e, nil
}

func (e *Engine) restoreCache(ctx context.Context) error {
	if !e.cfg.PersistCache || e.store == nil {
		return nil
	}
	snap, err := e.store.GetCacheSnapshot(ctx, &store.FindCacheSnapshot{ProjectKey: e.cfg.ProjectKey})
	if err != nil {
		return fmt.Errorf("failed to load cache snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}
	n, err := e.cache.Restore(ctx, snap.Payload)
	if err != nil {
		return err
	}
	e.logger.DebugContext(ctx, "resource cache restored", "entries", n, "saved", snap.EntryCount)
	return nil
}

func (e *Engine) saveCache(ctx context.Context) error {
	if !e.cfg.PersistCache || e.store == nil {
		return nil
	}
	payload, err := e.cache.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to export cache: %w", err)
	}
	if _, err := e.store.UpsertCacheSnapshot(ctx, &store.CacheSnapshot{
		ProjectKey: e.cfg.ProjectKey,
		Payload:    payload,
		EntryCount: e.cache.Size(),
		UpdatedTs:  e.now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("failed to save cache snapshot: %w", err)
	}
	return nil
}

// Close saves the cache snapshot and stops the background workers.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	if e.cache != nil {
		err = e.saveCache(ctx)
	}
	e.shutdown()
	return err
}

func (e *Engine) shutdown() {
	if e.machine != nil {
		e.machine.Close()
	}
	if e.fileCatalog != nil {
		e.fileCatalog.Stop()
	}
	if e.cache != nil {
		e.cache.Close()
	}
}

func (e *Engine) begin(ctx context.Context, operation string) (context.Context, *observability.OperationContext) {
	op := observability.NewOperationContext(e.logger, operation, e.machine.State().CurrentPersonaID)
	return observability.WithOperation(ctx, op), op
}

func (e *Engine) signals(ctx context.Context) (router.Signals, error) {
	snap, err := e.snapshots.Current(ctx)
	if err != nil {
		return router.Signals{}, fmt.Errorf("failed to read project snapshot: %w", err)
	}
	return router.Signals{ErrorState: snap.HasError(), RecentFiles: snap.RecentFiles}, nil
}

// AnalyzeTask scores text against every persona.
func (e *Engine) AnalyzeTask(ctx context.Context, text string) (_ *router.Analysis, err error) {
	ctx, op := e.begin(ctx, "analyze_task")
	defer func() { op.Finish(ctx, e.counters, err) }()

	sig, err := e.signals(ctx)
	if err != nil {
		return nil, err
	}
	return e.analyzer.Analyze(ctx, text, sig)
}

// SwitchPersona activates personaID.
func (e *Engine) SwitchPersona(ctx context.Context, personaID string, opts session.SwitchOptions) (_ session.State, err error) {
	ctx, op := e.begin(ctx, "switch_persona")
	defer func() { op.Finish(ctx, e.counters, err) }()

	return e.machine.Switch(ctx, personaID, opts)
}

// DetectOptimalPersona finds the best persona for text and switches to it
// when the state machine allows.
func (e *Engine) DetectOptimalPersona(ctx context.Context, text string) (_ *session.Detection, err error) {
	ctx, op := e.begin(ctx, "detect_persona")
	defer func() { op.Finish(ctx, e.counters, err) }()

	sig, err := e.signals(ctx)
	if err != nil {
		return nil, err
	}
	return e.machine.DetectOptimal(ctx, text, sig)
}

// AssembleContext builds the context bundle for the active persona and
// records its usage. When no persona is active, a task first goes through
// detection; without a candidate the default persona is used.
func (e *Engine) AssembleContext(ctx context.Context, task string) (_ *aicontext.Bundle, err error) {
	ctx, op := e.begin(ctx, "assemble_context")
	defer func() { op.Finish(ctx, e.counters, err) }()

	personaID, err := e.resolvePersona(ctx, task)
	if err != nil {
		return nil, err
	}
	p, err := e.persona(ctx, personaID)
	if err != nil {
		return nil, err
	}

	bundle, err := e.assembler.Assemble(ctx, p, task)
	if err != nil {
		return nil, err
	}

	original := e.compressor.Estimator().EstimateText(task)
	added := max(bundle.EstimatedTokens-original, 0)
	if _, err := e.usage.Record(ctx, p.ID, original, added); err != nil {
		op.Warn(ctx, "failed to record usage", slog.String("error", err.Error()))
	}
	return bundle, nil
}

func (e *Engine) resolvePersona(ctx context.Context, task string) (string, error) {
	if id := e.machine.State().CurrentPersonaID; id != "" {
		return id, nil
	}
	if task != "" {
		sig, err := e.signals(ctx)
		if err != nil {
			return "", err
		}
		d, err := e.machine.DetectOptimal(ctx, task, sig)
		if err != nil {
			return "", err
		}
		if d.State.CurrentPersonaID != "" {
			return d.State.CurrentPersonaID, nil
		}
		if d.CandidateID != "" {
			return d.CandidateID, nil
		}
	}
	return e.cfg.Persona.DefaultPersonaID, nil
}

func (e *Engine) persona(ctx context.Context, id string) (*persona.Persona, error) {
	p, err := e.catalog.Get(ctx, id)
	if errors.Is(err, persona.ErrNotFound) {
		return nil, &session.InvalidPersonaError{PersonaID: id}
	}
	return p, err
}

// Compress applies the named strategy to content. personaID may be empty.
func (e *Engine) Compress(ctx context.Context, content, strategy, personaID string) (_ compression.Result, err error) {
	ctx, op := e.begin(ctx, "compress")
	defer func() { op.Finish(ctx, e.counters, err) }()

	var p *persona.Persona
	if personaID != "" {
		if p, err = e.persona(ctx, personaID); err != nil {
			return compression.Result{}, err
		}
	}
	return e.compressor.CompressNamed(content, strategy, p)
}

// RecordUsage records token usage for personaID.
func (e *Engine) RecordUsage(ctx context.Context, personaID string, originalTokens, contextTokens int) (_ *usage.Record, err error) {
	ctx, op := e.begin(ctx, "record_usage")
	defer func() { op.Finish(ctx, e.counters, err) }()

	return e.usage.Record(ctx, personaID, originalTokens, contextTokens)
}

// UsageReport aggregates the usage history matching f.
func (e *Engine) UsageReport(f usage.Filter) *usage.Report {
	return e.usage.Report(f)
}

// UsageRecords returns the bounded usage history, oldest first.
func (e *Engine) UsageRecords() []usage.Record {
	return e.usage.Records()
}

// CacheStats returns the resource cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// RecordSessionOutcome adds a session result to the persona history.
func (e *Engine) RecordSessionOutcome(ctx context.Context, r metrics.SessionRecord) (err error) {
	ctx, op := e.begin(ctx, "record_session")
	defer func() { op.Finish(ctx, e.counters, err) }()

	if _, err := e.persona(ctx, r.PersonaID); err != nil {
		return err
	}
	return e.history.Record(ctx, r)
}

// PersonaSummary returns the aggregated history of every persona.
func (e *Engine) PersonaSummary() map[string]*metrics.PersonaSummary {
	return e.history.Summary()
}

// Personas lists the catalog.
func (e *Engine) Personas(ctx context.Context) ([]*persona.Persona, error) {
	return e.catalog.GetAll(ctx)
}

// State returns the persona session state.
func (e *Engine) State() session.State {
	return e.machine.State()
}

// OnSwitch registers a persona switch listener.
func (e *Engine) OnSwitch(fn func(session.SwitchEvent)) {
	e.machine.OnSwitch(fn)
}

// OnAlert registers a usage alert listener.
func (e *Engine) OnAlert(fn func(usage.Record)) {
	e.usage.OnAlert(fn)
}

// OperationStats returns per-operation call counters.
func (e *Engine) OperationStats() []observability.OperationStats {
	return e.counters.Snapshot()
}
