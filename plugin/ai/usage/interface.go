// Package usage records token consumption per context assembly, raises
// threshold alerts and reports totals and trends.
package usage

import (
	"context"
	"time"

	"github.com/hrygo/contextkit/store"
)

// AlertLevel grades context token usage against thresholds.
type AlertLevel string

const (
	AlertNone     AlertLevel = "none"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Thresholds are context token counts at which alerts fire.
type Thresholds struct {
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
}

// Level grades contextTokens. Critical is checked first.
func (t Thresholds) Level(contextTokens int) AlertLevel {
	switch {
	case t.Critical > 0 && contextTokens >= t.Critical:
		return AlertCritical
	case t.Warning > 0 && contextTokens >= t.Warning:
		return AlertWarning
	default:
		return AlertNone
	}
}

// Record is one usage measurement.
// ContextTokens = TotalTokens - OriginalTokens.
type Record struct {
	ID             string     `json:"id"`
	PersonaID      string     `json:"persona_id"`
	Timestamp      time.Time  `json:"timestamp"`
	OriginalTokens int        `json:"original_tokens"`
	ContextTokens  int        `json:"context_tokens"`
	TotalTokens    int        `json:"total_tokens"`
	AlertLevel     AlertLevel `json:"alert_level"`
}

// Filter selects records for a report. Zero fields match everything.
type Filter struct {
	Since     time.Time `json:"since"`
	Until     time.Time `json:"until"`
	PersonaID string    `json:"persona_id,omitempty"`
}

func (f Filter) match(r Record) bool {
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	return f.PersonaID == "" || r.PersonaID == f.PersonaID
}

// PersonaUsage aggregates the records of one persona.
type PersonaUsage struct {
	PersonaID      string  `json:"persona_id"`
	Records        int     `json:"records"`
	OriginalTokens int     `json:"original_tokens"`
	ContextTokens  int     `json:"context_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	AverageTotal   float64 `json:"average_total"`
	Warnings       int     `json:"warnings"`
	Criticals      int     `json:"criticals"`
}

// Report aggregates records matching a filter.
type Report struct {
	Filter         Filter                   `json:"filter"`
	Records        int                      `json:"records"`
	OriginalTokens int                      `json:"original_tokens"`
	ContextTokens  int                      `json:"context_tokens"`
	TotalTokens    int                      `json:"total_tokens"`
	AverageTotal   float64                  `json:"average_total"`
	ByPersona      map[string]*PersonaUsage `json:"by_persona"`
	Alerts         map[AlertLevel]int       `json:"alerts"`
	Trend          TrendResult              `json:"trend"`
}

// Store persists usage records.
type Store interface {
	CreateUsageRecord(ctx context.Context, create *store.UsageRecord) (*store.UsageRecord, error)
	ListUsageRecords(ctx context.Context, find *store.FindUsageRecord) ([]*store.UsageRecord, error)
	DeleteUsageRecords(ctx context.Context, delete *store.DeleteUsageRecord) error
}
