package ai

import (
	"errors"
	"fmt"
	"time"

	"github.com/hrygo/contextkit/internal/profile"
	"github.com/hrygo/contextkit/plugin/ai/compression"
	"github.com/hrygo/contextkit/plugin/ai/usage"
)

// Config enumerates every engine option.
type Config struct {
	// ProjectKey scopes persisted state.
	ProjectKey string
	// ProjectRoot is the directory described by the project snapshot.
	ProjectRoot string
	// PersonaDir holds YAML persona overrides layered over the built-ins.
	PersonaDir string
	// ResourceDir holds persona and project markdown resources.
	ResourceDir string
	// WatchPersonas reloads PersonaDir on change.
	WatchPersonas bool

	Cache   CacheConfig
	Persona PersonaConfig
	Usage   UsageConfig

	MaxContextTokens int               // Context window shared by personas (default: 8000)
	CompressionBands compression.Bands // Reductions covered by minimal and balanced (default: 0.30, 0.50)
	LogRetention     time.Duration     // Log lines older than this are pruned (default: 7 days)
	MetricsRetention time.Duration     // Persona metrics older than this are pruned on start (default: 90 days)
	PersistCache     bool              // Save the cache to the store on Close and restore it on start
}

// CacheConfig configures the resource cache.
type CacheConfig struct {
	MaxSize       int           // default: 500
	TTL           time.Duration // default: 30m
	SweepInterval time.Duration // default: 5m
}

// PersonaConfig configures persona detection and switching.
type PersonaConfig struct {
	DefaultPersonaID     string        // Used when no persona is active or detected (default: architect)
	SwitchThreshold      float64       // default: 20
	AutoDetectionEnabled bool          // default: true
	UseHistory           bool          // default: true
	AutoSwitchBurst      int           // default: 5
	AutoSwitchEvery      time.Duration // default: 10s
}

// UsageConfig configures the usage monitor.
type UsageConfig struct {
	WarningTokens  int // default: 2000
	CriticalTokens int // default: 3000
	HistorySize    int // default: 100
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ProjectRoot: ".",
		Cache: CacheConfig{
			MaxSize:       500,
			TTL:           30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Persona: PersonaConfig{
			DefaultPersonaID:     "architect",
			SwitchThreshold:      20,
			AutoDetectionEnabled: true,
			UseHistory:           true,
			AutoSwitchBurst:      5,
			AutoSwitchEvery:      10 * time.Second,
		},
		Usage: UsageConfig{
			WarningTokens:  2000,
			CriticalTokens: 3000,
			HistorySize:    100,
		},
		MaxContextTokens: 8000,
		CompressionBands: compression.DefaultBands(),
		LogRetention:     7 * 24 * time.Hour,
		MetricsRetention: 90 * 24 * time.Hour,
		PersistCache:     true,
	}
}

// NewConfigFromProfile creates the engine config from a validated profile.
func NewConfigFromProfile(p *profile.Profile) Config {
	cfg := DefaultConfig()
	cfg.ProjectKey = p.ProjectKey
	cfg.ProjectRoot = p.ProjectRoot
	cfg.PersonaDir = p.PersonaDir
	cfg.ResourceDir = p.ResourceDir
	cfg.WatchPersonas = p.WatchPersona
	return cfg
}

// Thresholds returns the usage alert thresholds.
func (c *Config) Thresholds() usage.Thresholds {
	return usage.Thresholds{Warning: c.Usage.WarningTokens, Critical: c.Usage.CriticalTokens}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ProjectRoot == "" {
		return errors.New("project root is required")
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache max size must be positive, got %d", c.Cache.MaxSize)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Persona.SwitchThreshold <= 0 {
		return fmt.Errorf("switch threshold must be positive, got %v", c.Persona.SwitchThreshold)
	}
	if c.Persona.AutoSwitchBurst <= 0 || c.Persona.AutoSwitchEvery <= 0 {
		return errors.New("auto switch limiter needs a positive burst and interval")
	}
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	if c.Usage.HistorySize <= 0 {
		return fmt.Errorf("usage history size must be positive, got %d", c.Usage.HistorySize)
	}
	if c.MaxContextTokens <= 0 {
		return fmt.Errorf("max context tokens must be positive, got %d", c.MaxContextTokens)
	}
	if err := c.CompressionBands.Validate(); err != nil {
		return err
	}
	return nil
}
