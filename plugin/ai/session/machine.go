package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hrygo/contextkit/plugin/ai/metrics"
	"github.com/hrygo/contextkit/plugin/ai/persona"
	"github.com/hrygo/contextkit/plugin/ai/router"
	"github.com/hrygo/contextkit/store"
)

// Config configures the state machine.
type Config struct {
	ProjectKey           string        // Scope of the persisted state
	SwitchThreshold      float64       // Minimum confidence for an automatic switch (default: 20)
	AutoDetectionEnabled bool          // Allow DetectOptimal to switch
	UseHistory           bool          // Re-weight scores by historical effectiveness
	AutoSwitchBurst      int           // Automatic switches allowed in a burst (default: 5)
	AutoSwitchEvery      time.Duration // Refill interval of the auto-switch limiter (default: 10s)
	QueueSize            int           // Pending switch requests (default: 64)
	Now                  func() time.Time
	Logger               *slog.Logger
}

// DefaultConfig returns the default state machine configuration.
func DefaultConfig() Config {
	return Config{
		SwitchThreshold:      20,
		AutoDetectionEnabled: true,
		UseHistory:           true,
		AutoSwitchBurst:      5,
		AutoSwitchEvery:      10 * time.Second,
		QueueSize:            64,
		Now:                  time.Now,
	}
}

// Reasons reported by DetectOptimal when it does not switch.
const (
	ReasonNoCandidate    = "no persona matched"
	ReasonAlreadyActive  = "already active"
	ReasonDisabled       = "auto detection disabled"
	ReasonBelowThreshold = "confidence below threshold"
	ReasonRateLimited    = "auto switch rate limited"
)

// Detection is the outcome of DetectOptimal.
type Detection struct {
	Analysis         *router.Analysis   `json:"analysis"`
	Scores           map[string]float64 `json:"scores"`
	CandidateID      string             `json:"candidate_id,omitempty"`
	CurrentPersonaID string             `json:"current_persona_id,omitempty"`
	Confidence       float64            `json:"confidence"`
	Switched         bool               `json:"switched"`
	Reason           string             `json:"reason,omitempty"`
	State            State              `json:"state"`
}

// Machine is the persona state machine. Switches are applied by a single
// worker goroutine in arrival order.
type Machine struct {
	cfg      Config
	catalog  persona.Catalog
	applier  Applier
	analyzer router.TaskAnalyzer
	history  metrics.Reweighter
	store    StateStore
	limiter  *rate.Limiter

	ops    chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	state State

	listenerMu sync.RWMutex
	listeners  []func(SwitchEvent)
}

// NewMachine creates a machine and starts its worker. Close stops it.
// applier, history and st may be nil.
func NewMachine(cfg Config, catalog persona.Catalog, applier Applier, analyzer router.TaskAnalyzer, history metrics.Reweighter, st StateStore) *Machine {
	def := DefaultConfig()
	if cfg.SwitchThreshold <= 0 {
		cfg.SwitchThreshold = def.SwitchThreshold
	}
	if cfg.AutoSwitchBurst <= 0 {
		cfg.AutoSwitchBurst = def.AutoSwitchBurst
	}
	if cfg.AutoSwitchEvery <= 0 {
		cfg.AutoSwitchEvery = def.AutoSwitchEvery
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		cfg:      cfg,
		catalog:  catalog,
		applier:  applier,
		analyzer: analyzer,
		history:  history,
		store:    st,
		limiter:  rate.NewLimiter(rate.Every(cfg.AutoSwitchEvery), cfg.AutoSwitchBurst),
		ops:      make(chan func(), cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		state: State{
			SessionID:  uuid.New(),
			ProjectKey: cfg.ProjectKey,
			History:    []HistoryEntry{},
		},
	}
	m.wg.Add(1)
	go m.run()
	return m
}

func (m *Machine) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case op := <-m.ops:
			op()
		}
	}
}

// Close stops the worker. Pending requests fail with ErrClosed.
func (m *Machine) Close() {
	m.cancel()
	m.wg.Wait()
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// OnSwitch registers fn to be called after every committed switch.
// Listeners run on the worker and must not call Switch.
func (m *Machine) OnSwitch(fn func(SwitchEvent)) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

type switchResult struct {
	state State
	err   error
}

// submit runs fn on the worker and waits for its result. A caller whose ctx
// ends keeps waiting for nothing; the queued work still runs to completion.
func (m *Machine) submit(ctx context.Context, fn func() switchResult) (State, error) {
	done := make(chan switchResult, 1)
	op := func() { done <- fn() }

	select {
	case <-m.ctx.Done():
		return State{}, ErrClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	case m.ops <- op:
	}

	select {
	case res := <-done:
		return res.state, res.err
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-m.ctx.Done():
		select {
		case res := <-done:
			return res.state, res.err
		default:
			return State{}, ErrClosed
		}
	}
}

// Switch activates personaID. An unknown id fails with *InvalidPersonaError
// and switching to the active persona is a no-op. If the applier or the
// store fails the switch is rolled back and *PersonaSwitchFailedError is
// returned.
func (m *Machine) Switch(ctx context.Context, personaID string, opts SwitchOptions) (State, error) {
	return m.submit(ctx, func() switchResult {
		return m.doSwitch(ctx, personaID, opts)
	})
}

func (m *Machine) doSwitch(ctx context.Context, personaID string, opts SwitchOptions) switchResult {
	p, err := m.catalog.Get(ctx, personaID)
	if err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			return switchResult{err: &InvalidPersonaError{PersonaID: personaID}}
		}
		return switchResult{err: fmt.Errorf("failed to get persona %s: %w", personaID, err)}
	}

	cur := m.State()
	if cur.CurrentPersonaID == p.ID {
		return switchResult{state: cur}
	}

	if m.applier != nil {
		if err := m.applier.Apply(ctx, p); err != nil {
			return switchResult{err: &PersonaSwitchFailedError{FromPersonaID: cur.CurrentPersonaID, ToPersonaID: p.ID, Err: err}}
		}
	}

	now := m.cfg.Now()
	if now.Before(cur.ActivatedAt) {
		now = cur.ActivatedAt
	}
	next := cur.clone()
	if !cur.Idle() {
		next.History = append(next.History, HistoryEntry{
			PersonaID:     cur.CurrentPersonaID,
			ActivatedAt:   cur.ActivatedAt,
			DeactivatedAt: now,
		})
	}
	next.CurrentPersonaID = p.ID
	next.ActivatedAt = now

	if err := m.persist(ctx, next); err != nil {
		return switchResult{err: &PersonaSwitchFailedError{FromPersonaID: cur.CurrentPersonaID, ToPersonaID: p.ID, Err: err}}
	}

	m.mu.Lock()
	m.state = next
	m.mu.Unlock()

	event := SwitchEvent{
		ID:            uuid.NewString(),
		SessionID:     next.SessionID,
		FromPersonaID: cur.CurrentPersonaID,
		ToPersonaID:   p.ID,
		Manual:        opts.Manual,
		Reason:        opts.Reason,
		At:            now,
	}
	m.cfg.Logger.InfoContext(ctx, "persona switched",
		"session_id", next.SessionID,
		"from", event.FromPersonaID,
		"to", event.ToPersonaID,
		"manual", opts.Manual)
	m.notify(event)

	return switchResult{state: next.clone()}
}

func (m *Machine) notify(event SwitchEvent) {
	m.listenerMu.RLock()
	listeners := append([]func(SwitchEvent){}, m.listeners...)
	m.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(event)
	}
}

// persist writes s to the store. The active persona is stored as the last,
// still open history entry.
func (m *Machine) persist(ctx context.Context, s State) error {
	if m.store == nil {
		return nil
	}
	entries := s.History
	if !s.Idle() {
		entries = append(append([]HistoryEntry{}, s.History...), HistoryEntry{
			PersonaID:   s.CurrentPersonaID,
			ActivatedAt: s.ActivatedAt,
		})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if _, err := m.store.UpsertPersonaSession(ctx, &store.PersonaSession{
		SessionID:        s.SessionID.String(),
		ProjectKey:       s.ProjectKey,
		CurrentPersonaID: s.CurrentPersonaID,
		History:          string(data),
	}); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// Restore loads the latest persisted state of the project. It reports
// whether a state was found. A persisted persona that no longer exists in
// the catalog is not restored as active.
func (m *Machine) Restore(ctx context.Context) (bool, error) {
	if m.store == nil {
		return false, nil
	}
	var found bool
	_, err := m.submit(ctx, func() switchResult {
		projectKey := m.cfg.ProjectKey
		row, err := m.store.GetPersonaSession(ctx, &store.FindPersonaSession{ProjectKey: &projectKey})
		if err != nil {
			return switchResult{err: fmt.Errorf("failed to load session: %w", err)}
		}
		if row == nil {
			return switchResult{}
		}
		s, err := m.decode(ctx, row)
		if err != nil {
			return switchResult{err: err}
		}
		m.mu.Lock()
		m.state = s
		m.mu.Unlock()
		found = true
		m.cfg.Logger.DebugContext(ctx, "persona session restored",
			"session_id", s.SessionID,
			"persona_id", s.CurrentPersonaID,
			"history", len(s.History))
		return switchResult{state: s}
	})
	return found, err
}

func (m *Machine) decode(ctx context.Context, row *store.PersonaSession) (State, error) {
	id, err := uuid.Parse(row.SessionID)
	if err != nil {
		return State{}, fmt.Errorf("invalid session id %q: %w", row.SessionID, err)
	}
	var entries []HistoryEntry
	if row.History != "" {
		if err := json.Unmarshal([]byte(row.History), &entries); err != nil {
			return State{}, fmt.Errorf("failed to decode history of session %s: %w", row.SessionID, err)
		}
	}

	s := State{SessionID: id, ProjectKey: row.ProjectKey, History: []HistoryEntry{}}
	if n := len(entries); n > 0 && entries[n-1].DeactivatedAt.IsZero() {
		open := entries[n-1]
		entries = entries[:n-1]
		if open.PersonaID == row.CurrentPersonaID {
			s.CurrentPersonaID = open.PersonaID
			s.ActivatedAt = open.ActivatedAt
		}
	}
	s.History = append(s.History, entries...)

	if s.CurrentPersonaID != "" {
		if _, err := m.catalog.Get(ctx, s.CurrentPersonaID); errors.Is(err, persona.ErrNotFound) {
			m.cfg.Logger.WarnContext(ctx, "persisted persona no longer exists", "persona_id", s.CurrentPersonaID)
			s.CurrentPersonaID = ""
			s.ActivatedAt = time.Time{}
		} else if err != nil {
			return State{}, fmt.Errorf("failed to get persona %s: %w", s.CurrentPersonaID, err)
		}
	}
	return s, nil
}

// DetectOptimal scores text against every persona and switches to the best
// one when automatic detection is enabled, the confidence (best score minus
// the active persona's score) exceeds the threshold and the auto-switch
// limiter allows it. Otherwise the candidate is only reported.
func (m *Machine) DetectOptimal(ctx context.Context, text string, signals router.Signals) (*Detection, error) {
	analysis, err := m.analyzer.Analyze(ctx, text, signals)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze task: %w", err)
	}

	scores := analysis.Scores
	if m.cfg.UseHistory && m.history != nil {
		scores = m.history.Reweight(scores)
	}

	cur := m.State()
	d := &Detection{
		Analysis:         analysis,
		Scores:           scores,
		CurrentPersonaID: cur.CurrentPersonaID,
		State:            cur,
	}
	if ranked := router.Rank(scores); len(ranked) > 0 && ranked[0].Score > 0 {
		d.CandidateID = ranked[0].PersonaID
		d.Confidence = ranked[0].Score - scores[cur.CurrentPersonaID]
	}

	switch {
	case d.CandidateID == "":
		d.Reason = ReasonNoCandidate
	case d.CandidateID == cur.CurrentPersonaID:
		d.Reason = ReasonAlreadyActive
	case !m.cfg.AutoDetectionEnabled:
		d.Reason = ReasonDisabled
	case d.Confidence <= m.cfg.SwitchThreshold:
		d.Reason = ReasonBelowThreshold
	case !m.limiter.AllowN(m.cfg.Now(), 1):
		d.Reason = ReasonRateLimited
	}
	if d.Reason != "" {
		m.cfg.Logger.DebugContext(ctx, "persona detection kept current persona",
			"candidate", d.CandidateID,
			"current", cur.CurrentPersonaID,
			"confidence", d.Confidence,
			"reason", d.Reason)
		return d, nil
	}

	state, err := m.Switch(ctx, d.CandidateID, SwitchOptions{
		Reason: fmt.Sprintf("auto-detected with confidence %.1f", d.Confidence),
	})
	if err != nil {
		return nil, err
	}
	d.Switched = true
	d.State = state
	return d, nil
}
