package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/mod/semver"
)

// Migration files live in migration/{driver}/{minor}/NN__description.sql.
// LATEST.sql is the full schema at the newest version and initializes
// empty databases; incremental files upgrade older ones. The applied
// version is tracked in system_setting under schemaVersionKey.

//go:embed migration
var migrationFS embed.FS

const (
	// MigrateFileNameSplit separates the patch number from the description.
	MigrateFileNameSplit = "__"
	// LatestSchemaFileName is the full schema for fresh installations.
	LatestSchemaFileName = "LATEST.sql"

	defaultSchemaVersion = "0.0.0"
	schemaVersionKey     = "schema_version"
)

// Migrate brings the schema up to GetCurrentSchemaVersion.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.preMigrate(ctx); err != nil {
		return errors.Wrap(err, "failed to pre-migrate")
	}

	dbVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get database schema version")
	}
	target, err := s.GetCurrentSchemaVersion()
	if err != nil {
		return errors.Wrap(err, "failed to get current schema version")
	}

	switch c := compareVersion(dbVersion, target); {
	case c > 0:
		slog.Error("cannot downgrade schema version",
			slog.String("databaseVersion", dbVersion),
			slog.String("currentVersion", target),
		)
		return errors.Errorf("cannot downgrade schema version from %s to %s", dbVersion, target)
	case c < 0:
		if err := s.applyMigrations(ctx, dbVersion, target); err != nil {
			return errors.Wrap(err, "failed to apply migrations")
		}
	}
	return nil
}

// applyMigrations applies every migration file newer than current and not
// newer than target in a single transaction.
func (s *Store) applyMigrations(ctx context.Context, current, target string) error {
	filePaths, err := fs.Glob(migrationFS, fmt.Sprintf("%s*/*.sql", s.getMigrationBasePath()))
	if err != nil {
		return errors.Wrap(err, "failed to read migration files")
	}
	sort.Strings(filePaths)

	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	slog.Info("start migration",
		slog.String("currentSchemaVersion", current),
		slog.String("targetSchemaVersion", target))

	applied := 0
	for _, filePath := range filePaths {
		fileVersion, err := getSchemaVersionOfMigrateScript(filePath)
		if err != nil {
			return errors.Wrap(err, "failed to get schema version of migrate script")
		}
		if compareVersion(fileVersion, current) <= 0 || compareVersion(fileVersion, target) > 0 {
			continue
		}

		slog.Info("applying migration", slog.String("file", filePath), slog.String("version", fileVersion))
		bytes, err := migrationFS.ReadFile(filePath)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration file: %s", filePath)
		}
		if err := execute(ctx, tx, string(bytes)); err != nil {
			return errors.Wrapf(err, "failed to execute migration %s", filePath)
		}
		applied++
	}

	if err := s.setSchemaVersion(ctx, tx, target); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit migration transaction")
	}
	slog.Info("migration completed", slog.Int("migrationsApplied", applied))
	return nil
}

// preMigrate applies LATEST.sql to an uninitialized database.
func (s *Store) preMigrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if initialized {
		return nil
	}

	filePath := s.getMigrationBasePath() + LatestSchemaFileName
	bytes, err := migrationFS.ReadFile(filePath)
	if err != nil {
		return errors.Errorf("failed to read latest schema file: %s", err)
	}
	schemaVersion, err := s.GetCurrentSchemaVersion()
	if err != nil {
		return errors.Wrap(err, "failed to get current schema version")
	}

	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	slog.Info("initializing new database with latest schema", slog.String("file", filePath))
	if err := execute(ctx, tx, string(bytes)); err != nil {
		return errors.Wrapf(err, "failed to execute SQL file %s", filePath)
	}
	if err := s.setSchemaVersion(ctx, tx, schemaVersion); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	slog.Info("database initialized successfully", slog.String("schemaVersion", schemaVersion))
	return nil
}

func (s *Store) getMigrationBasePath() string {
	return fmt.Sprintf("migration/%s/", s.profile.Driver)
}

// GetCurrentSchemaVersion returns the version of the newest migration file
// for the configured driver.
func (s *Store) GetCurrentSchemaVersion() (string, error) {
	filePaths, err := fs.Glob(migrationFS, fmt.Sprintf("%s*/*.sql", s.getMigrationBasePath()))
	if err != nil {
		return "", errors.Wrap(err, "failed to read migration files")
	}
	latest := defaultSchemaVersion
	for _, filePath := range filePaths {
		v, err := getSchemaVersionOfMigrateScript(filePath)
		if err != nil {
			return "", err
		}
		if compareVersion(v, latest) > 0 {
			latest = v
		}
	}
	return latest, nil
}

func (s *Store) getSchemaVersion(ctx context.Context) (string, error) {
	var value string
	query := "SELECT value FROM system_setting WHERE name = " + s.placeholder(1)
	err := s.driver.GetDB().QueryRowContext(ctx, query, schemaVersionKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) || value == "" {
		return defaultSchemaVersion, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read schema version")
	}
	return value, nil
}

// SetSchemaVersion overwrites the recorded schema version.
func (s *Store) SetSchemaVersion(ctx context.Context, version string) error {
	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()
	if err := s.setSchemaVersion(ctx, tx, version); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) setSchemaVersion(ctx context.Context, tx *sql.Tx, version string) error {
	query := fmt.Sprintf(
		"INSERT INTO system_setting (name, value) VALUES (%s, %s) ON CONFLICT (name) DO UPDATE SET value = excluded.value",
		s.placeholder(1), s.placeholder(2),
	)
	if _, err := tx.ExecContext(ctx, query, schemaVersionKey, version); err != nil {
		return errors.Wrap(err, "failed to update schema version")
	}
	return nil
}

func (s *Store) placeholder(n int) string {
	if s.profile.Driver == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// getSchemaVersionOfMigrateScript maps migration/{driver}/0.2/00__x.sql to 0.2.1.
func getSchemaVersionOfMigrateScript(filePath string) (string, error) {
	elements := strings.Split(filepath.ToSlash(filePath), "/")
	if len(elements) < 2 {
		return "", errors.Errorf("invalid file path: %s", filePath)
	}
	filename := elements[len(elements)-1]
	if filename == LatestSchemaFileName {
		return defaultSchemaVersion, nil
	}
	if !strings.Contains(filename, MigrateFileNameSplit) {
		return "", errors.Errorf("invalid migration filename format (missing %s): %s", MigrateFileNameSplit, filename)
	}
	minorVersion := elements[len(elements)-2]
	rawPatchVersion := strings.Split(filename, MigrateFileNameSplit)[0]
	patchVersion, err := strconv.Atoi(rawPatchVersion)
	if err != nil {
		return "", errors.Wrapf(err, "failed to convert patch version to int: %s", rawPatchVersion)
	}
	return fmt.Sprintf("%s.%d", minorVersion, patchVersion+1), nil
}

func compareVersion(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}

// execute runs each statement of a script separately, since the
// PostgreSQL driver rejects multiple statements in one call with arguments.
func execute(ctx context.Context, tx *sql.Tx, script string) error {
	for i, stmt := range splitSQL(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute statement %d: %s", i+1, stmt)
		}
	}
	return nil
}

// splitSQL splits a script on statement-terminating semicolons and drops
// comment-only lines. Scripts must not contain semicolons inside literals.
func splitSQL(script string) []string {
	var (
		statements []string
		current    strings.Builder
	)
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
