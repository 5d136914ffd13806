// Package project builds context snapshots from a project directory.
package project

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	aicontext "github.com/hrygo/contextkit/plugin/ai/context"
)

// ErrorStateFile is the file, relative to the project root, whose content
// is reported as the project's error state.
const ErrorStateFile = ".contextkit/error_state"

// Config configures the filesystem snapshot.
type Config struct {
	Root         string
	MaxDepth     int           // Directory depth of the file structure (default: 3)
	MaxEntries   int           // Entries listed in the file structure (default: 200)
	RecentWindow time.Duration // Files modified within the window are recent (default: 24h)
	MaxRecent    int           // Recent files reported (default: 10)
	Skip         []string      // Directory names never walked
	Now          func() time.Time
}

// DefaultConfig returns the default snapshot configuration for root.
func DefaultConfig(root string) Config {
	return Config{
		Root:         root,
		MaxDepth:     3,
		MaxEntries:   200,
		RecentWindow: 24 * time.Hour,
		MaxRecent:    10,
		Skip:         []string{".git", ".contextkit", "node_modules", "vendor", "dist", "build"},
		Now:          time.Now,
	}
}

// FSSnapshot walks a project directory on every call to Current.
type FSSnapshot struct {
	cfg  Config
	skip map[string]bool
}

// NewFSSnapshot creates a filesystem snapshot provider.
func NewFSSnapshot(cfg Config) *FSSnapshot {
	def := DefaultConfig(cfg.Root)
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = def.RecentWindow
	}
	if cfg.MaxRecent <= 0 {
		cfg.MaxRecent = def.MaxRecent
	}
	if cfg.Skip == nil {
		cfg.Skip = def.Skip
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	skip := make(map[string]bool, len(cfg.Skip))
	for _, s := range cfg.Skip {
		skip[s] = true
	}
	return &FSSnapshot{cfg: cfg, skip: skip}
}

type recentFile struct {
	path    string
	modTime time.Time
}

// Current walks the project and returns its snapshot.
func (s *FSSnapshot) Current(ctx context.Context) (*aicontext.Snapshot, error) {
	root := s.cfg.Root
	if info, err := os.Stat(root); err != nil {
		return nil, errors.Wrapf(err, "failed to stat project root %s", root)
	} else if !info.IsDir() {
		return nil, errors.Errorf("project root %s is not a directory", root)
	}

	now := s.cfg.Now()
	cutoff := now.Add(-s.cfg.RecentWindow)
	var (
		tree      []string
		recent    []recentFile
		truncated bool
	)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		depth := strings.Count(rel, "/")

		if d.IsDir() {
			if s.skip[d.Name()] {
				return filepath.SkipDir
			}
			if depth < s.cfg.MaxDepth {
				tree, truncated = s.appendEntry(tree, truncated, depth, d.Name()+"/")
			}
			return nil
		}

		if depth < s.cfg.MaxDepth {
			tree, truncated = s.appendEntry(tree, truncated, depth, d.Name())
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			recent = append(recent, recentFile{path: rel, modTime: info.ModTime()})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to walk project")
	}

	if truncated {
		tree = append(tree, "…")
	}
	sort.SliceStable(recent, func(i, j int) bool {
		if !recent[i].modTime.Equal(recent[j].modTime) {
			return recent[i].modTime.After(recent[j].modTime)
		}
		return recent[i].path < recent[j].path
	})
	if len(recent) > s.cfg.MaxRecent {
		recent = recent[:s.cfg.MaxRecent]
	}
	files := make([]string, 0, len(recent))
	for _, r := range recent {
		files = append(files, r.path)
	}

	errorState, err := s.errorState()
	if err != nil {
		return nil, err
	}

	return &aicontext.Snapshot{
		FileStructure: strings.Join(tree, "\n"),
		RecentFiles:   files,
		ErrorState:    errorState,
		TakenAt:       now,
	}, nil
}

func (s *FSSnapshot) appendEntry(tree []string, truncated bool, depth int, name string) ([]string, bool) {
	if len(tree) >= s.cfg.MaxEntries {
		return tree, true
	}
	return append(tree, strings.Repeat("  ", depth)+name), truncated
}

func (s *FSSnapshot) errorState() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.cfg.Root, filepath.FromSlash(ErrorStateFile)))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read error state")
	}
	return strings.TrimSpace(string(data)), nil
}

var _ aicontext.SnapshotProvider = (*FSSnapshot)(nil)
