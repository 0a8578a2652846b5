package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neetlogiq/datapack/internal/app"
)

func newCacheCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persistent chunk cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached chunk under the configured prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(nil)
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()

			store, err := app.OpenKV(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if store == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "memory cache backend: nothing to clear")
				return nil
			}
			defer store.Close()

			keys, err := store.Keys(ctx, cfg.Cache.Prefix)
			if err != nil {
				return err
			}
			if err := app.NewChunkCache(store, cfg, logger).InvalidateAll(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d cached chunks from %s\n", len(keys), cfg.Cache.Path)
			return nil
		},
	})
	return cmd
}
