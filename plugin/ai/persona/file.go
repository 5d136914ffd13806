package persona

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileCatalog serves personas from YAML files in a directory layered over
// the built-in defaults. Start enables hot reload on file changes.
type FileCatalog struct {
	*MemoryCatalog

	dir         string
	logger      *slog.Logger
	debounceDur time.Duration
	onReload    func(n int)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	pending time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewFileCatalog loads dir and returns the catalog. A missing directory
// yields the built-in defaults only.
func NewFileCatalog(dir string, logger *slog.Logger) (*FileCatalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &FileCatalog{
		MemoryCatalog: &MemoryCatalog{},
		dir:           dir,
		logger:        logger,
		debounceDur:   200 * time.Millisecond,
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// OnReload registers a callback invoked after every successful reload.
func (c *FileCatalog) OnReload(fn func(n int)) {
	c.mu.Lock()
	c.onReload = fn
	c.mu.Unlock()
}

// Reload re-reads the directory. On error the previous personas are kept.
func (c *FileCatalog) Reload() error {
	personas, err := loadDefaults()
	if err != nil {
		return err
	}

	fromDir, err := LoadDir(c.dir)
	if err != nil {
		return err
	}
	personas = append(personas, fromDir...)

	if err := c.Replace(personas); err != nil {
		return errors.Wrapf(err, "failed to load personas from %s", c.dir)
	}

	c.mu.Lock()
	fn := c.onReload
	c.mu.Unlock()
	if fn != nil {
		fn(c.Len())
	}
	return nil
}

// LoadDir parses every *.yaml and *.yml file in dir, in name order.
func LoadDir(dir string) ([]*Persona, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read persona dir %s", dir)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && isPersonaFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*Persona
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", name)
		}
		p, err := Parse(data)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", name)
		}
		out = append(out, p)
	}
	return out, nil
}

// Parse decodes a single YAML persona definition.
func Parse(data []byte) (*Persona, error) {
	var p Persona
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	return &p, nil
}

func isPersonaFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// Start watches the directory and reloads after changes settle.
// This method is non-blocking.
func (c *FileCatalog) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if c.dir == "" {
		return errors.New("persona dir not configured")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}
	if err := w.Add(c.dir); err != nil {
		w.Close()
		return errors.Wrapf(err, "failed to watch %s", c.dir)
	}

	c.watcher = w
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.running = true
	go c.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit.
func (c *FileCatalog) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stopCh, doneCh, w := c.stopCh, c.doneCh, c.watcher
	c.mu.Unlock()

	close(stopCh)
	<-doneCh
	if err := w.Close(); err != nil {
		c.logger.Warn("failed to close persona watcher", "error", err)
	}
}

func (c *FileCatalog) run(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.debounceDur / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if !isPersonaFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			c.mu.Lock()
			c.pending = time.Now()
			c.mu.Unlock()
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("persona watcher error", "error", err)
		case <-ticker.C:
			c.mu.Lock()
			due := !c.pending.IsZero() && time.Since(c.pending) >= c.debounceDur
			if due {
				c.pending = time.Time{}
			}
			c.mu.Unlock()
			if !due {
				continue
			}
			if err := c.Reload(); err != nil {
				c.logger.Warn("persona reload failed, keeping previous catalog", "dir", c.dir, "error", err)
				continue
			}
			c.logger.Debug("persona catalog reloaded", "dir", c.dir, "count", c.Len())
		}
	}
}
