package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hrygo/contextkit/store"
)

// ErrInvalidRecord is returned for a record outside the accepted ranges.
var ErrInvalidRecord = errors.New("invalid session record")

// Config configures the history service.
type Config struct {
	ProjectKey    string        // Scope of persisted records
	MaxPerPersona int           // Records kept per persona (default: 50)
	HalfLife      time.Duration // Recency half-life for effectiveness (default: 7 days)
	Now           func() time.Time
	Logger        *slog.Logger
}

// DefaultConfig returns the default history configuration.
func DefaultConfig() Config {
	return Config{
		MaxPerPersona: 50,
		HalfLife:      7 * 24 * time.Hour,
		Now:           time.Now,
	}
}

// Service keeps session records per persona.
// If store is nil, records are kept in memory only.
type Service struct {
	cfg   Config
	store Store

	mu      sync.RWMutex
	records map[string][]SessionRecord // oldest first
}

// NewService creates a history service.
func NewService(cfg Config, st Store) *Service {
	def := DefaultConfig()
	if cfg.MaxPerPersona <= 0 {
		cfg.MaxPerPersona = def.MaxPerPersona
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = def.HalfLife
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if st == nil {
		cfg.Logger.Debug("metrics history initialized without store (persistence disabled)")
	}
	return &Service{
		cfg:     cfg,
		store:   st,
		records: make(map[string][]SessionRecord),
	}
}

// Load replaces the in-memory records with the persisted ones.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	rows, err := s.store.ListPersonaMetrics(ctx, &store.FindPersonaMetric{ProjectKey: &s.cfg.ProjectKey})
	if err != nil {
		return fmt.Errorf("load persona metrics: %w", err)
	}

	next := make(map[string][]SessionRecord)
	for _, row := range rows {
		next[row.PersonaID] = append(next[row.PersonaID], SessionRecord{
			PersonaID:       row.PersonaID,
			Quality:         row.Quality,
			Duration:        time.Duration(row.DurationMs) * time.Millisecond,
			TokenEfficiency: row.TokenEfficiency,
			RecordedAt:      time.UnixMilli(row.CreatedTs),
		})
	}
	for id, recs := range next {
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].RecordedAt.Before(recs[j].RecordedAt) })
		next[id] = s.bound(recs)
	}

	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
	return nil
}

// Record validates and stores r. The record is persisted before it becomes
// visible; a store failure leaves the history unchanged.
func (s *Service) Record(ctx context.Context, r SessionRecord) error {
	if r.PersonaID == "" {
		return fmt.Errorf("%w: persona id is required", ErrInvalidRecord)
	}
	if r.Quality < 0 || r.Quality > 1 {
		return fmt.Errorf("%w: quality %v out of range [0,1]", ErrInvalidRecord, r.Quality)
	}
	if r.Duration < 0 || r.TokenEfficiency < 0 {
		return fmt.Errorf("%w: negative duration or efficiency", ErrInvalidRecord)
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = s.cfg.Now()
	}

	if s.store != nil {
		_, err := s.store.CreatePersonaMetric(ctx, &store.PersonaMetric{
			ProjectKey:      s.cfg.ProjectKey,
			PersonaID:       r.PersonaID,
			Quality:         r.Quality,
			DurationMs:      r.Duration.Milliseconds(),
			TokenEfficiency: r.TokenEfficiency,
			CreatedTs:       r.RecordedAt.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("persist session record: %w", err)
		}
	}

	s.mu.Lock()
	s.records[r.PersonaID] = s.bound(append(s.records[r.PersonaID], r))
	s.mu.Unlock()
	return nil
}

func (s *Service) bound(recs []SessionRecord) []SessionRecord {
	if over := len(recs) - s.cfg.MaxPerPersona; over > 0 {
		recs = append([]SessionRecord(nil), recs[over:]...)
	}
	return recs
}

// Effectiveness returns the recency-weighted quality of personaID and
// whether any history exists.
func (s *Service) Effectiveness(personaID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[personaID]
	if len(recs) == 0 {
		return 0, false
	}
	return effectiveness(recs, s.cfg.Now(), s.cfg.HalfLife), true
}

// Weight returns the score multiplier of personaID: 0.5 + effectiveness,
// or 1 when the persona has no history.
func (s *Service) Weight(personaID string) float64 {
	eff, ok := s.Effectiveness(personaID)
	if !ok {
		return 1
	}
	return 0.5 + eff
}

// Reweight returns a copy of scores multiplied by each persona's weight.
func (s *Service) Reweight(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for id, score := range scores {
		out[id] = score * s.Weight(id)
	}
	return out
}

// Summary aggregates the history of every persona.
func (s *Service) Summary() map[string]*PersonaSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.cfg.Now()
	out := make(map[string]*PersonaSummary, len(s.records))
	for id, recs := range s.records {
		out[id] = aggregate(id, recs, now, s.cfg.HalfLife)
	}
	return out
}

// Prune deletes persisted records older than retention.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.cfg.Now().Add(-retention)

	if s.store != nil {
		n, err := s.store.DeletePersonaMetrics(ctx, &store.DeletePersonaMetric{
			ProjectKey: s.cfg.ProjectKey,
			BeforeTs:   cutoff.UnixMilli(),
		})
		if err != nil {
			return 0, fmt.Errorf("prune persona metrics: %w", err)
		}
		s.dropBefore(cutoff)
		return n, nil
	}
	return s.dropBefore(cutoff), nil
}

func (s *Service) dropBefore(cutoff time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped int64
	for id, recs := range s.records {
		kept := recs[:0]
		for _, r := range recs {
			if r.RecordedAt.Before(cutoff) {
				dropped++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.records, id)
		} else {
			s.records[id] = kept
		}
	}
	return dropped
}

var _ Reweighter = (*Service)(nil)
