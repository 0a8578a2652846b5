package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neetlogiq/datapack/internal/app"
	"github.com/neetlogiq/datapack/internal/config"
	"github.com/neetlogiq/datapack/internal/manifest"
	"github.com/neetlogiq/datapack/internal/naming"
	"github.com/neetlogiq/datapack/internal/partition"
	"github.com/neetlogiq/datapack/internal/source"
	"github.com/neetlogiq/datapack/internal/storage"
	"github.com/neetlogiq/datapack/pkg/types"
)

type planOptions struct {
	statsFile string
	out       string
}

func newPlanCommand(root *rootOptions) *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan partitions and print the layout without writing chunks",
		Long: `Plan reads dataset statistics from --stats (or source.stats_file), or counts
the master database when neither is set, and prints one line per planned
partition. It fails when a single round cannot fit the chunk ceiling.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(func(c *config.Config) {
				if opts.statsFile != "" {
					c.Source.StatsFile = opts.statsFile
				}
			})
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()

			stats, err := loadStats(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if cfg.Planner.PreviousVersion == "" {
				if fetcher, err := app.OpenFetcher(ctx, cfg); err == nil {
					cfg.Planner.PreviousVersion = publishedVersion(ctx, fetcher, logger)
				}
			}

			planner, err := partition.NewPlanner(cfg.PlannerConfig(), partition.WithLogger(logger))
			if err != nil {
				return err
			}
			m, err := planner.Plan(stats)
			if err != nil {
				return err
			}
			if err := partition.WriteReport(cmd.OutOrStdout(), m); err != nil {
				return err
			}
			if opts.out != "" {
				data, err := manifest.Marshal(m)
				if err != nil {
					return err
				}
				if err := os.WriteFile(opts.out, data, 0644); err != nil {
					return fmt.Errorf("write planned manifest: %w", err)
				}
			}
			return partition.CheckFeasible(m)
		},
	}
	cmd.Flags().StringVar(&opts.statsFile, "stats", "", "YAML or JSON dataset statistics file")
	cmd.Flags().StringVar(&opts.out, "out", "", "Write the planned manifest to this file")
	return cmd
}

// loadStats reads the stats file when configured, otherwise counts the
// master database. Configured record costs fill kinds the file leaves unset.
func loadStats(ctx context.Context, cfg *config.Config, logger *zap.Logger) (partition.DatasetStats, error) {
	if cfg.Source.StatsFile == "" {
		src, err := openSource(ctx, cfg, logger)
		if err != nil {
			return partition.DatasetStats{}, err
		}
		return src.Stats(cfg.RecordCost()), nil
	}

	stats, err := partition.LoadStatsFile(cfg.Source.StatsFile)
	if err != nil {
		return partition.DatasetStats{}, err
	}
	for kind, n := range cfg.Planner.RecordCost {
		if stats.RecordCost == nil {
			stats.RecordCost = make(map[types.RecordKind]int64)
		}
		if _, ok := stats.RecordCost[kind]; !ok {
			stats.RecordCost[kind] = n
		}
	}
	return stats, nil
}

// openSource loads and indexes the master database.
func openSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*partition.SliceSource, error) {
	db, err := source.Open(ctx, cfg.Source.Path, logger.Named("source"))
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Index(ctx, cfg.Policy())
}

// publishedVersion returns the version of the manifest already in the store,
// or "" when there is none.
func publishedVersion(ctx context.Context, fetcher storage.Fetcher, logger *zap.Logger) string {
	data, err := fetcher.Fetch(ctx, naming.ManifestName)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return ""
	}
	if err != nil {
		logger.Warn("cannot read published manifest", zap.Error(err))
		return ""
	}
	m, err := manifest.Parse(data)
	if err != nil {
		logger.Warn("published manifest is invalid", zap.Error(err))
		return ""
	}
	return m.Version
}
