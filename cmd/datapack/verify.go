package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neetlogiq/datapack/internal/app"
	"github.com/neetlogiq/datapack/internal/manifest"
	"github.com/neetlogiq/datapack/internal/naming"
)

type verifyOptions struct {
	prune bool
}

func newVerifyCommand(root *rootOptions) *cobra.Command {
	opts := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the published manifest against the chunk store",
		Long: `Verify reads the published manifest.json and reports chunks it lists that
are missing from the store (dangling) and stored chunks it no longer lists
(orphaned, usually left behind by an earlier build). With --prune the
orphaned chunks are deleted. Dangling chunks make the command fail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(nil)
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()

			store, err := app.OpenChunkStore(ctx, cfg)
			if err != nil {
				return err
			}
			data, err := store.Fetch(ctx, naming.ManifestName)
			if err != nil {
				return fmt.Errorf("read %s: %w", naming.ManifestName, err)
			}
			m, err := manifest.Parse(data)
			if err != nil {
				return err
			}

			report, err := manifest.Reconcile(ctx, m, store)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "manifest %s: %d listed, %d stored\n", report.Version, report.Listed, report.Stored)
			for _, name := range report.Dangling {
				fmt.Fprintf(out, "  dangling  %s\n", name)
			}
			for _, name := range report.Orphaned {
				fmt.Fprintf(out, "  orphaned  %s\n", name)
			}

			if opts.prune && len(report.Orphaned) > 0 {
				removed, err := manifest.Prune(ctx, report, store)
				if err != nil {
					return err
				}
				logger.Info("pruned orphaned chunks", zap.Int("removed", removed))
				fmt.Fprintf(out, "pruned %d orphaned chunks\n", removed)
			}
			if len(report.Dangling) > 0 {
				return fmt.Errorf("manifest %s lists %d missing chunks", report.Version, len(report.Dangling))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.prune, "prune", false, "Delete orphaned chunks")
	return cmd
}
