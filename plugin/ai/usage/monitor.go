package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/contextkit/store"
)

// ErrInvalidUsage is returned for negative token counts.
var ErrInvalidUsage = errors.New("invalid usage record")

// Config configures the usage monitor.
type Config struct {
	ProjectKey  string     // Scope of persisted records
	Thresholds  Thresholds // Alert thresholds (default: 2000 / 3000)
	HistorySize int        // Records kept (default: 100)
	Now         func() time.Time
	Logger      *slog.Logger
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds:  Thresholds{Warning: 2000, Critical: 3000},
		HistorySize: 100,
		Now:         time.Now,
	}
}

// Validate reports inconsistent thresholds.
func (t Thresholds) Validate() error {
	if t.Warning < 0 || t.Critical < 0 {
		return fmt.Errorf("thresholds must be non-negative")
	}
	if t.Warning > 0 && t.Critical > 0 && t.Critical < t.Warning {
		return fmt.Errorf("critical threshold %d is below warning threshold %d", t.Critical, t.Warning)
	}
	return nil
}

// Monitor keeps a bounded usage history and raises alerts.
// If store is nil, records are kept in memory only.
type Monitor struct {
	cfg   Config
	store Store

	mu        sync.RWMutex
	records   []Record // oldest first
	listeners []func(Record)
}

// NewMonitor creates a usage monitor.
func NewMonitor(cfg Config, st Store) *Monitor {
	def := DefaultConfig()
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{cfg: cfg, store: st}
}

// Thresholds returns the alert thresholds in use.
func (m *Monitor) Thresholds() Thresholds {
	return m.cfg.Thresholds
}

// OnAlert registers fn to be called for every record whose level is not
// AlertNone. Listeners run synchronously after the record is committed.
func (m *Monitor) OnAlert(fn func(Record)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Load replaces the in-memory history with the newest persisted records.
func (m *Monitor) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	limit := m.cfg.HistorySize
	rows, err := m.store.ListUsageRecords(ctx, &store.FindUsageRecord{
		ProjectKey: &m.cfg.ProjectKey,
		Limit:      &limit,
	})
	if err != nil {
		return fmt.Errorf("load usage records: %w", err)
	}

	recs := make([]Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, Record{
			ID:             row.UID,
			PersonaID:      row.PersonaID,
			Timestamp:      time.UnixMilli(row.CreatedTs),
			OriginalTokens: row.OriginalTokens,
			ContextTokens:  row.ContextTokens,
			TotalTokens:    row.TotalTokens,
			AlertLevel:     AlertLevel(row.AlertLevel),
		})
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })

	m.mu.Lock()
	m.records = m.bound(recs)
	m.mu.Unlock()
	return nil
}

// Record stores a measurement of contextTokens added on top of
// originalTokens for personaID and returns it with its alert level.
func (m *Monitor) Record(ctx context.Context, personaID string, originalTokens, contextTokens int) (*Record, error) {
	if originalTokens < 0 || contextTokens < 0 {
		m.cfg.Logger.WarnContext(ctx, "Invalid usage record",
			"persona", personaID,
			"original_tokens", originalTokens,
			"context_tokens", contextTokens,
		)
		return nil, fmt.Errorf("%w: negative token count (original=%d, context=%d)", ErrInvalidUsage, originalTokens, contextTokens)
	}

	r := Record{
		ID:             shortuuid.New(),
		PersonaID:      personaID,
		Timestamp:      m.cfg.Now(),
		OriginalTokens: originalTokens,
		ContextTokens:  contextTokens,
		TotalTokens:    originalTokens + contextTokens,
		AlertLevel:     m.cfg.Thresholds.Level(contextTokens),
	}

	if m.store != nil {
		_, err := m.store.CreateUsageRecord(ctx, &store.UsageRecord{
			UID:            r.ID,
			ProjectKey:     m.cfg.ProjectKey,
			PersonaID:      r.PersonaID,
			OriginalTokens: r.OriginalTokens,
			ContextTokens:  r.ContextTokens,
			TotalTokens:    r.TotalTokens,
			AlertLevel:     string(r.AlertLevel),
			CreatedTs:      r.Timestamp.UnixMilli(),
		})
		if err != nil {
			return nil, fmt.Errorf("persist usage record: %w", err)
		}
		if err := m.store.DeleteUsageRecords(ctx, &store.DeleteUsageRecord{
			ProjectKey: m.cfg.ProjectKey,
			KeepLatest: m.cfg.HistorySize,
		}); err != nil {
			m.cfg.Logger.WarnContext(ctx, "Failed to prune usage records", "error", err)
		}
	}

	m.mu.Lock()
	m.records = m.bound(append(m.records, r))
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	m.cfg.Logger.DebugContext(ctx, "Usage recorded",
		"persona", r.PersonaID,
		"context_tokens", r.ContextTokens,
		"total_tokens", r.TotalTokens,
		"alert", r.AlertLevel,
	)

	if r.AlertLevel != AlertNone {
		m.cfg.Logger.WarnContext(ctx, "Context token usage alert",
			"level", r.AlertLevel,
			"persona", r.PersonaID,
			"context_tokens", r.ContextTokens,
			"warning", m.cfg.Thresholds.Warning,
			"critical", m.cfg.Thresholds.Critical,
		)
		for _, fn := range listeners {
			fn(r)
		}
	}

	out := r
	return &out, nil
}

func (m *Monitor) bound(recs []Record) []Record {
	if over := len(recs) - m.cfg.HistorySize; over > 0 {
		recs = append([]Record(nil), recs[over:]...)
	}
	return recs
}

// Records returns a copy of the history, oldest first.
func (m *Monitor) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Record(nil), m.records...)
}

// Len returns the number of records in the history.
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Report aggregates the records matching f. The trend is computed over
// the total tokens of the matching records in time order.
func (m *Monitor) Report(f Filter) *Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rep := &Report{
		Filter:    f,
		ByPersona: make(map[string]*PersonaUsage),
		Alerts:    map[AlertLevel]int{AlertWarning: 0, AlertCritical: 0},
	}
	var series []float64
	for _, r := range m.records {
		if !f.match(r) {
			continue
		}
		rep.Records++
		rep.OriginalTokens += r.OriginalTokens
		rep.ContextTokens += r.ContextTokens
		rep.TotalTokens += r.TotalTokens
		series = append(series, float64(r.TotalTokens))

		pu, ok := rep.ByPersona[r.PersonaID]
		if !ok {
			pu = &PersonaUsage{PersonaID: r.PersonaID}
			rep.ByPersona[r.PersonaID] = pu
		}
		pu.Records++
		pu.OriginalTokens += r.OriginalTokens
		pu.ContextTokens += r.ContextTokens
		pu.TotalTokens += r.TotalTokens

		switch r.AlertLevel {
		case AlertWarning:
			rep.Alerts[AlertWarning]++
			pu.Warnings++
		case AlertCritical:
			rep.Alerts[AlertCritical]++
			pu.Criticals++
		}
	}

	if rep.Records > 0 {
		rep.AverageTotal = float64(rep.TotalTokens) / float64(rep.Records)
	}
	for _, pu := range rep.ByPersona {
		pu.AverageTotal = float64(pu.TotalTokens) / float64(pu.Records)
	}
	rep.Trend = Trend(series)
	return rep
}
