package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/contextkit/internal/profile"
	"github.com/hrygo/contextkit/plugin/ai"
)

// version is the current version of the binary.
const version = "0.2.2"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "contextkit",
		Short:         "Persona-aware context assembly for coding assistants",
		Long:          "contextkit picks a persona for a task, assembles the project context that persona needs, fits it into a token budget and tracks usage.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if path := v.GetString("config"); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config %s: %w", path, err)
				}
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, toml or json)")
	flags.String("mode", "dev", `mode of the data files, "prod", "dev" or "demo"`)
	flags.String("log-level", "warn", "log level: debug, info, warn or error")
	flags.String("data", "", "data directory (default: <project-root>/.contextkit)")
	flags.String("driver", "sqlite", `database driver, "sqlite" or "postgres"`)
	flags.String("dsn", "", "database source name")
	flags.String("project-root", "", "project directory (default: working directory)")
	flags.String("project-key", "", "key scoping persisted state (default: project directory name)")
	flags.String("persona-dir", "", "directory of YAML persona overrides")
	flags.String("resource-dir", "", "directory of persona and project markdown resources")

	def := ai.DefaultConfig()
	flags.Int("max-context-tokens", def.MaxContextTokens, "context window shared by personas")
	flags.Int("cache-size", def.Cache.MaxSize, "resource cache capacity")
	flags.Duration("cache-ttl", def.Cache.TTL, "resource cache entry lifetime")
	flags.Bool("persist-cache", def.PersistCache, "keep the resource cache between invocations")
	flags.Float64("switch-threshold", def.Persona.SwitchThreshold, "confidence required for an automatic persona switch")
	flags.Bool("auto-detect", def.Persona.AutoDetectionEnabled, "allow detection to switch personas")
	flags.Bool("use-history", def.Persona.UseHistory, "weight persona scores by past session quality")
	flags.String("default-persona", def.Persona.DefaultPersonaID, "persona used when none is active or detected")
	flags.Int("warning-tokens", def.Usage.WarningTokens, "context tokens raising a warning alert")
	flags.Int("critical-tokens", def.Usage.CriticalTokens, "context tokens raising a critical alert")
	flags.Int("usage-history", def.Usage.HistorySize, "usage records kept")
	flags.Float64("minimal-band", def.CompressionBands.Minimal, "largest reduction handled by minimal compression")
	flags.Float64("balanced-band", def.CompressionBands.Balanced, "largest reduction handled by balanced compression")
	flags.Duration("log-retention", def.LogRetention, "log lines older than this are pruned by compression")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}
	v.SetEnvPrefix("contextkit")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.AddCommand(
		newVersionCmd(),
		newPersonasCmd(v),
		newAnalyzeCmd(v),
		newDetectCmd(v),
		newSwitchCmd(v),
		newStateCmd(v),
		newAssembleCmd(v),
		newCompressCmd(v),
		newUsageCmd(v),
		newOutcomeCmd(v),
		newCacheStatsCmd(v),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

func profileFromViper(v *viper.Viper) (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:        v.GetString("mode"),
		Data:        v.GetString("data"),
		Driver:      v.GetString("driver"),
		DSN:         v.GetString("dsn"),
		ProjectRoot: v.GetString("project-root"),
		ProjectKey:  v.GetString("project-key"),
		PersonaDir:  v.GetString("persona-dir"),
		ResourceDir: v.GetString("resource-dir"),
		Version:     version,
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func configFromViper(v *viper.Viper, p *profile.Profile) ai.Config {
	cfg := ai.NewConfigFromProfile(p)
	cfg.MaxContextTokens = v.GetInt("max-context-tokens")
	cfg.Cache.MaxSize = v.GetInt("cache-size")
	cfg.Cache.TTL = v.GetDuration("cache-ttl")
	cfg.PersistCache = v.GetBool("persist-cache")
	cfg.Persona.SwitchThreshold = v.GetFloat64("switch-threshold")
	cfg.Persona.AutoDetectionEnabled = v.GetBool("auto-detect")
	cfg.Persona.UseHistory = v.GetBool("use-history")
	cfg.Persona.DefaultPersonaID = v.GetString("default-persona")
	cfg.Usage.WarningTokens = v.GetInt("warning-tokens")
	cfg.Usage.CriticalTokens = v.GetInt("critical-tokens")
	cfg.Usage.HistorySize = v.GetInt("usage-history")
	cfg.CompressionBands.Minimal = v.GetFloat64("minimal-band")
	cfg.CompressionBands.Balanced = v.GetFloat64("balanced-band")
	cfg.LogRetention = v.GetDuration("log-retention")
	return cfg
}

func newLogger(cmd *cobra.Command, level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: l}))
}

func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use a duration like 24h or an RFC 3339 timestamp", s)
	}
	return t, nil
}
