package profile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"CONTEXTKIT_MODE", "CONTEXTKIT_DRIVER", "CONTEXTKIT_DSN", "CONTEXTKIT_DATA",
		"CONTEXTKIT_PROJECT_ROOT", "CONTEXTKIT_PROJECT_KEY", "CONTEXTKIT_PERSONA_DIR",
		"CONTEXTKIT_RESOURCE_DIR", "CONTEXTKIT_WATCH_PERSONAS",
	} {
		t.Setenv(key, "")
	}
}

func TestProfileFromEnv(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		clearEnv(t)
		p := &Profile{}
		p.FromEnv()
		assert.Equal(t, "dev", p.Mode)
		assert.Equal(t, "sqlite", p.Driver)
		assert.False(t, p.WatchPersona)
	})

	t.Run("Overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CONTEXTKIT_DRIVER", "postgres")
		t.Setenv("CONTEXTKIT_DSN", "postgres://localhost/ck")
		t.Setenv("CONTEXTKIT_WATCH_PERSONAS", "true")
		p := &Profile{}
		p.FromEnv()
		assert.Equal(t, "postgres", p.Driver)
		assert.Equal(t, "postgres://localhost/ck", p.DSN)
		assert.True(t, p.WatchPersona)
	})

	t.Run("ExplicitFieldsWin", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CONTEXTKIT_MODE", "prod")
		p := &Profile{Mode: "demo"}
		p.FromEnv()
		assert.Equal(t, "demo", p.Mode)
	})
}

func TestProfileValidate(t *testing.T) {
	t.Run("SQLiteDefaults", func(t *testing.T) {
		root := t.TempDir()
		p := &Profile{Mode: "bogus", ProjectRoot: root}
		require.NoError(t, p.Validate())

		assert.Equal(t, "dev", p.Mode)
		assert.Equal(t, "sqlite", p.Driver)
		assert.Equal(t, filepath.Base(root), p.ProjectKey)
		assert.Equal(t, filepath.Join(root, ".contextkit"), p.Data)
		assert.Equal(t, filepath.Join(p.Data, "contextkit_dev.db"), p.DSN)
		assert.Equal(t, filepath.Join(p.Data, "personas"), p.PersonaDir)
		assert.DirExists(t, p.Data)
	})

	t.Run("PostgresRequiresDSN", func(t *testing.T) {
		p := &Profile{Driver: "postgres", ProjectRoot: t.TempDir()}
		assert.Error(t, p.Validate())
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		p := &Profile{Driver: "mysql", ProjectRoot: t.TempDir()}
		assert.Error(t, p.Validate())
	})

	t.Run("IsDev", func(t *testing.T) {
		assert.True(t, (&Profile{Mode: "dev"}).IsDev())
		assert.False(t, (&Profile{Mode: "prod"}).IsDev())
	})
}
