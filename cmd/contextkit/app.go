package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/contextkit/plugin/ai"
	"github.com/hrygo/contextkit/store"
	"github.com/hrygo/contextkit/store/db"
)

// app is one engine bound to the store of the current project.
type app struct {
	engine *ai.Engine
	store  *store.Store
	logger *slog.Logger
}

func openApp(ctx context.Context, cmd *cobra.Command, v *viper.Viper) (*app, error) {
	logger := newLogger(cmd, v.GetString("log-level"))
	slog.SetDefault(logger)

	p, err := profileFromViper(v)
	if err != nil {
		return nil, err
	}
	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	st := store.New(driver, p)
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	engine, err := ai.NewEngine(ctx, configFromViper(v, p), ai.Dependencies{Store: st, Logger: logger})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &app{engine: engine, store: st, logger: logger}, nil
}

func (a *app) close(ctx context.Context) error {
	return errors.Join(a.engine.Close(ctx), a.store.Close())
}

// withApp opens the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cmd, v)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.close(ctx))
	}()
	return fn(ctx, a)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
