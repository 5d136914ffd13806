package observability

import (
	"sort"
	"sync"
	"time"
)

// Counters aggregates calls, failures and durations per operation.
type Counters struct {
	mu  sync.Mutex
	ops map[string]*OperationStats
}

// OperationStats is the aggregate of one operation.
type OperationStats struct {
	Operation     string `json:"operation"`
	Calls         int64  `json:"calls"`
	Failures      int64  `json:"failures"`
	TotalDuration int64  `json:"total_duration_ms"`
	MaxDuration   int64  `json:"max_duration_ms"`
}

// AverageDuration returns the mean duration in milliseconds.
func (s OperationStats) AverageDuration() int64 {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalDuration / s.Calls
}

// NewCounters creates an empty collector.
func NewCounters() *Counters {
	return &Counters{ops: make(map[string]*OperationStats)}
}

// Record adds one call of operation.
func (c *Counters) Record(operation string, d time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.ops[operation]
	if !ok {
		s = &OperationStats{Operation: operation}
		c.ops[operation] = s
	}
	s.Calls++
	if err != nil {
		s.Failures++
	}
	ms := d.Milliseconds()
	s.TotalDuration += ms
	if ms > s.MaxDuration {
		s.MaxDuration = ms
	}
}

// Snapshot returns the stats of every operation ordered by name.
func (c *Counters) Snapshot() []OperationStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]OperationStats, 0, len(c.ops))
	for _, s := range c.ops {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// Reset clears all stats.
func (c *Counters) Reset() {
	c.mu.Lock()
	c.ops = make(map[string]*OperationStats)
	c.mu.Unlock()
}
