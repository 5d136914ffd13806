package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the runtime configuration of a contextkit process.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// ProjectRoot is the directory the engine describes
	ProjectRoot string
	// ProjectKey scopes persisted state; defaults to the base name of ProjectRoot
	ProjectKey string
	// Data is the data directory
	Data string
	// DSN points to where contextkit stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of the binary
	Version string

	PersonaDir   string // CONTEXTKIT_PERSONA_DIR (default: <data>/personas)
	ResourceDir  string // CONTEXTKIT_RESOURCE_DIR (default: <data>/resources)
	WatchPersona bool   // CONTEXTKIT_WATCH_PERSONAS (default: false)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from CONTEXTKIT_* environment variables.
// Values already set on p take precedence.
func (p *Profile) FromEnv() {
	setIfEmpty := func(field *string, key, defaultValue string) {
		if *field == "" {
			*field = getEnvOrDefault(key, defaultValue)
		}
	}

	setIfEmpty(&p.Mode, "CONTEXTKIT_MODE", "dev")
	setIfEmpty(&p.Driver, "CONTEXTKIT_DRIVER", "sqlite")
	setIfEmpty(&p.DSN, "CONTEXTKIT_DSN", "")
	setIfEmpty(&p.Data, "CONTEXTKIT_DATA", "")
	setIfEmpty(&p.ProjectRoot, "CONTEXTKIT_PROJECT_ROOT", "")
	setIfEmpty(&p.ProjectKey, "CONTEXTKIT_PROJECT_KEY", "")
	setIfEmpty(&p.PersonaDir, "CONTEXTKIT_PERSONA_DIR", "")
	setIfEmpty(&p.ResourceDir, "CONTEXTKIT_RESOURCE_DIR", "")
	if !p.WatchPersona {
		p.WatchPersona = os.Getenv("CONTEXTKIT_WATCH_PERSONAS") == "true"
	}
}

func checkDataDir(dataDir string) (string, error) {
	absDir, err := filepath.Abs(dataDir)
	if err != nil {
		return "", err
	}
	// Trim trailing \ or / in case user supplies
	absDir = strings.TrimRight(absDir, "\\/")
	if err := os.MkdirAll(absDir, 0o770); err != nil {
		return "", errors.Wrapf(err, "unable to create data folder %s", absDir)
	}
	if _, err := os.Stat(absDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", absDir)
	}
	return absDir, nil
}

// Validate fills derived defaults and checks the data directory.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.ProjectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return errors.Wrap(err, "failed to get working directory")
		}
		p.ProjectRoot = wd
	}
	root, err := filepath.Abs(p.ProjectRoot)
	if err != nil {
		return errors.Wrapf(err, "invalid project root %s", p.ProjectRoot)
	}
	p.ProjectRoot = root
	if p.ProjectKey == "" {
		p.ProjectKey = filepath.Base(root)
	}

	if p.Data == "" {
		p.Data = filepath.Join(root, ".contextkit")
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("contextkit_%s.db", p.Mode))
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}
	if p.PersonaDir == "" {
		p.PersonaDir = filepath.Join(dataDir, "personas")
	}
	if p.ResourceDir == "" {
		p.ResourceDir = filepath.Join(dataDir, "resources")
	}
	return nil
}
