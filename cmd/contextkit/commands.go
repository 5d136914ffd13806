package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/contextkit/plugin/ai/compression"
	"github.com/hrygo/contextkit/plugin/ai/metrics"
	"github.com/hrygo/contextkit/plugin/ai/session"
	"github.com/hrygo/contextkit/plugin/ai/usage"
)

func newPersonasCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the persona catalog with session history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				personas, err := a.engine.Personas(ctx)
				if err != nil {
					return err
				}
				type entry struct {
					ID          string                  `json:"id"`
					Name        string                  `json:"name"`
					Description string                  `json:"description,omitempty"`
					Allocation  float64                 `json:"token_allocation"`
					Active      bool                    `json:"active"`
					History     *metrics.PersonaSummary `json:"history,omitempty"`
				}
				current := a.engine.State().CurrentPersonaID
				summary := a.engine.PersonaSummary()
				out := make([]entry, 0, len(personas))
				for _, p := range personas {
					out = append(out, entry{
						ID:          p.ID,
						Name:        p.Name,
						Description: p.Description,
						Allocation:  p.TokenAllocation,
						Active:      p.ID == current,
						History:     summary[p.ID],
					})
				}
				sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
				return writeJSON(cmd, out)
			})
		},
	}
}

func newAnalyzeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <task>...",
		Short: "Score a task description against every persona",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				analysis, err := a.engine.AnalyzeTask(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return writeJSON(cmd, analysis)
			})
		},
	}
}

func newDetectCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "detect <task>...",
		Short: "Detect the best persona for a task and switch when confident",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				d, err := a.engine.DetectOptimalPersona(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return writeJSON(cmd, d)
			})
		},
	}
}

func newSwitchCmd(v *viper.Viper) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "switch <persona-id>",
		Short: "Activate a persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				st, err := a.engine.SwitchPersona(ctx, args[0], session.SwitchOptions{Manual: true, Reason: reason})
				if err != nil {
					return err
				}
				return writeJSON(cmd, st)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual switch", "reason recorded with the switch")
	return cmd
}

func newStateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the active persona and switch history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, v, func(_ context.Context, a *app) error {
				return writeJSON(cmd, a.engine.State())
			})
		},
	}
}

func newAssembleCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "assemble [task]...",
		Short: "Assemble the context for the active persona",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				bundle, err := a.engine.AssembleContext(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, bundle)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), bundle.Text())
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the bundle with its metadata as JSON")
	return cmd
}

func newCompressCmd(v *viper.Viper) *cobra.Command {
	var (
		strategy  string
		personaID string
	)
	cmd := &cobra.Command{
		Use:   "compress [file]",
		Short: "Compress a markdown document, read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				res, err := a.engine.Compress(ctx, content, strategy, personaID)
				if err != nil {
					return err
				}
				return writeJSON(cmd, res)
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", string(compression.Balanced), "minimal, balanced or aggressive")
	cmd.Flags().StringVar(&personaID, "persona", "", "persona whose preserve patterns apply")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

func newUsageCmd(v *viper.Viper) *cobra.Command {
	var (
		since     string
		personaID string
	)
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Report token usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, v, func(_ context.Context, a *app) error {
				from, err := parseSince(since, time.Now())
				if err != nil {
					return err
				}
				return writeJSON(cmd, a.engine.UsageReport(usage.Filter{Since: from, PersonaID: personaID}))
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only records after this duration ago (24h) or RFC 3339 time")
	cmd.Flags().StringVar(&personaID, "persona", "", "only records of this persona")
	cmd.AddCommand(newUsageRecordCmd(v))
	return cmd
}

func newUsageRecordCmd(v *viper.Viper) *cobra.Command {
	var (
		personaID      string
		originalTokens int
		contextTokens  int
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the tokens of one request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				id := personaID
				if id == "" {
					id = a.engine.State().CurrentPersonaID
				}
				if id == "" {
					return fmt.Errorf("no active persona: pass --persona")
				}
				rec, err := a.engine.RecordUsage(ctx, id, originalTokens, contextTokens)
				if err != nil {
					return err
				}
				return writeJSON(cmd, rec)
			})
		},
	}
	cmd.Flags().StringVar(&personaID, "persona", "", "persona the tokens belong to (default: active persona)")
	cmd.Flags().IntVar(&originalTokens, "original", 0, "tokens of the user request")
	cmd.Flags().IntVar(&contextTokens, "context", 0, "tokens added by the assembled context")
	return cmd
}

func newOutcomeCmd(v *viper.Viper) *cobra.Command {
	var (
		personaID  string
		quality    float64
		duration   time.Duration
		efficiency float64
	)
	cmd := &cobra.Command{
		Use:   "outcome",
		Short: "Record the result of a session for persona weighting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				id := personaID
				if id == "" {
					id = a.engine.State().CurrentPersonaID
				}
				if id == "" {
					return fmt.Errorf("no active persona: pass --persona")
				}
				err := a.engine.RecordSessionOutcome(ctx, metrics.SessionRecord{
					PersonaID:       id,
					Quality:         quality,
					Duration:        duration,
					TokenEfficiency: efficiency,
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd, a.engine.PersonaSummary()[id])
			})
		},
	}
	cmd.Flags().StringVar(&personaID, "persona", "", "persona of the session (default: active persona)")
	cmd.Flags().Float64Var(&quality, "quality", 0, "session quality in [0,1]")
	cmd.Flags().DurationVar(&duration, "duration", 0, "session length")
	cmd.Flags().Float64Var(&efficiency, "efficiency", 0, "token efficiency in [0,1]")
	_ = cmd.MarkFlagRequired("quality")
	return cmd
}

func newCacheStatsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "cache-stats",
		Short: "Show resource cache counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, v, func(_ context.Context, a *app) error {
				return writeJSON(cmd, struct {
					Cache      any `json:"cache"`
					Operations any `json:"operations"`
				}{a.engine.CacheStats(), a.engine.OperationStats()})
			})
		},
	}
}
