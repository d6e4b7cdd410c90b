package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bosai-one/shelter-search/internal/config"
	"github.com/bosai-one/shelter-search/internal/db"
	"github.com/bosai-one/shelter-search/internal/observability"
	"github.com/bosai-one/shelter-search/internal/schema"
	"github.com/bosai-one/shelter-search/internal/search"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "shelter-search",
	Short: "Schema-adaptive shelter nearby-search engine",
	Long:  "Finds the closest evacuation shelters in a relational store whose physical schema and coordinate encoding are discovered at runtime.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// buildEngine wires pool, schema cache, and engine from config. A missing
// database URL is not fatal here: the engine starts degraded and reports
// ENV_MISSING through its own payloads.
func buildEngine(ctx context.Context, metrics *observability.Metrics) (*search.Engine, func(), error) {
	var pool db.Pool
	closeFn := func() {}

	if cfg.Database.URL != "" {
		p, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		pool = p
		closeFn = p.Close
	} else {
		zap.L().Warn("no database url configured, engine starts degraded")
	}

	var recorder schema.Recorder
	if metrics != nil {
		recorder = metrics
	}
	cache := schema.NewCache(pool, cfg.Search.SchemaTTL, cfg.Search.SampleSize,
		clockwork.NewRealClock(), recorder)
	return search.NewEngine(pool, cache, cfg.Search, metrics), closeFn, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
