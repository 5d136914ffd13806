package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/contextkit/internal/profile"
)

func TestNewConfigFromProfile(t *testing.T) {
	prof := &profile.Profile{
		ProjectRoot:  "/work/app",
		ProjectKey:   "app",
		PersonaDir:   "/data/personas",
		ResourceDir:  "/data/resources",
		WatchPersona: true,
	}

	cfg := NewConfigFromProfile(prof)
	assert.Equal(t, "app", cfg.ProjectKey)
	assert.Equal(t, "/work/app", cfg.ProjectRoot)
	assert.Equal(t, "/data/personas", cfg.PersonaDir)
	assert.Equal(t, "/data/resources", cfg.ResourceDir)
	assert.True(t, cfg.WatchPersonas)
	assert.Equal(t, 500, cfg.Cache.MaxSize)
	assert.Equal(t, 20.0, cfg.Persona.SwitchThreshold)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"Defaults", func(*Config) {}, false},
		{"NoRoot", func(c *Config) { c.ProjectRoot = "" }, true},
		{"ZeroCache", func(c *Config) { c.Cache.MaxSize = 0 }, true},
		{"ZeroTTL", func(c *Config) { c.Cache.TTL = 0 }, true},
		{"NegativeThreshold", func(c *Config) { c.Persona.SwitchThreshold = -1 }, true},
		{"ZeroThreshold", func(c *Config) { c.Persona.SwitchThreshold = 0 }, true},
		{"NoLimiter", func(c *Config) { c.Persona.AutoSwitchEvery = 0 }, true},
		{"CriticalBelowWarning", func(c *Config) { c.Usage.CriticalTokens = 1000 }, true},
		{"ZeroHistory", func(c *Config) { c.Usage.HistorySize = 0 }, true},
		{"ZeroWindow", func(c *Config) { c.MaxContextTokens = 0 }, true},
		{"InvertedBands", func(c *Config) { c.CompressionBands.Minimal = 0.6 }, true},
		{"ShortRetention", func(c *Config) { c.LogRetention = time.Hour }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
