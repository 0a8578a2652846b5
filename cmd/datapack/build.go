package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neetlogiq/datapack/internal/app"
	"github.com/neetlogiq/datapack/internal/config"
	"github.com/neetlogiq/datapack/internal/partition"
)

type buildOptions struct {
	source  string
	quiet   bool
	version string
}

func newBuildCommand(root *rootOptions) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build chunks and manifest.json from the master database",
		Long: `Build plans partitions from the master database, writes every chunk and
precomputed filter to the configured store and publishes manifest.json last.
The manifest version continues from the one already published unless
--previous-version is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(func(c *config.Config) {
				if opts.source != "" {
					c.Source.Path = opts.source
				}
				if opts.version != "" {
					c.Planner.PreviousVersion = opts.version
				}
			})
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()
			start := time.Now()

			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			store, err := app.OpenChunkStore(ctx, cfg)
			if err != nil {
				return err
			}
			if cfg.Planner.PreviousVersion == "" {
				cfg.Planner.PreviousVersion = publishedVersion(ctx, store, logger)
			}

			src, err := openSource(ctx, cfg, logger)
			if err != nil {
				return err
			}
			planner, err := partition.NewPlanner(cfg.PlannerConfig(), partition.WithLogger(logger))
			if err != nil {
				return err
			}
			planned, err := planner.Plan(src.Stats(cfg.RecordCost()))
			if err != nil {
				return err
			}

			builder := partition.NewBuilder(store, cfg.BuilderConfig(), partition.WithLogger(logger))
			built, err := builder.Build(ctx, planned, src)
			if err != nil {
				if built != nil {
					partition.WriteReport(cmd.ErrOrStderr(), built)
				}
				return err
			}

			if !opts.quiet {
				if err := partition.WriteReport(cmd.OutOrStdout(), built); err != nil {
					return err
				}
			}
			var written int64
			for _, p := range built.Partitions {
				written += p.CompressedSizeBytes
			}
			logger.Info("build complete",
				zap.String("version", built.Version),
				zap.String("build_id", built.BuildID),
				zap.Int("partitions", built.TotalPartitions),
				zap.Int("filters", len(built.Precomputed)),
				zap.String("written", humanize.Bytes(uint64(written))),
				zap.Duration("elapsed", time.Since(start)))
			fmt.Fprintf(cmd.OutOrStdout(), "published manifest %s\n", built.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.source, "source", "", "Master SQLite database (default <data-dir>/master.sqlite)")
	cmd.Flags().StringVar(&opts.version, "previous-version", "", "Version to bump from instead of the published one")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print the partition report")
	return cmd
}
