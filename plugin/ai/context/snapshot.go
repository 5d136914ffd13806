// Package context assembles persona-specific, token-bounded context bundles
// from a project snapshot and the persona's overlay.
package context

import (
	"context"
	"time"
)

// Snapshot describes the project at one point in time.
type Snapshot struct {
	FileStructure string    `json:"file_structure"`
	RecentFiles   []string  `json:"recent_files,omitempty"`
	ErrorState    string    `json:"error_state,omitempty"`
	TakenAt       time.Time `json:"taken_at"`
}

// HasError reports whether the project is in an error state.
func (s *Snapshot) HasError() bool {
	return s != nil && s.ErrorState != ""
}

// SnapshotProvider returns the current project snapshot.
type SnapshotProvider interface {
	Current(ctx context.Context) (*Snapshot, error)
}

// StaticSnapshot is a SnapshotProvider returning a fixed snapshot.
type StaticSnapshot struct {
	Snapshot Snapshot
	Err      error
}

// Current returns a copy of the fixed snapshot.
func (s *StaticSnapshot) Current(context.Context) (*Snapshot, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	snap := s.Snapshot
	snap.RecentFiles = append([]string(nil), s.Snapshot.RecentFiles...)
	return &snap, nil
}

var _ SnapshotProvider = (*StaticSnapshot)(nil)
