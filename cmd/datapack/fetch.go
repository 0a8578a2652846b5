package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neetlogiq/datapack/internal/app"
	"github.com/neetlogiq/datapack/internal/config"
	"github.com/neetlogiq/datapack/internal/loader"
	"github.com/neetlogiq/datapack/pkg/types"
)

type fetchOptions struct {
	class    string
	year     int
	allYears bool
	asJSON   bool
	baseURL  string
}

func newFetchCommand(root *rootOptions) *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch CATEGORY",
		Short: "Load a category through the loader and print what arrived",
		Long: `Fetch runs the client-side loader against the configured store (or --url)
and prints a summary of the records per kind. Categories are UG, PG_MEDICAL
and PG_DENTAL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := types.ParseCategory(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := root.load(func(c *config.Config) {
				if opts.baseURL != "" {
					c.Storage.Type = config.StorageHTTP
					c.Storage.BaseURL = opts.baseURL
				}
			})
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()

			ld, closeStore, err := newLoader(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			if opts.allYears {
				for batch, err := range ld.LoadAllYears(ctx, cat) {
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "year %d: ", batch.Year)
					if err := printResult(cmd.OutOrStdout(), batch.Result, opts.asJSON); err != nil {
						return err
					}
				}
				return nil
			}

			var res *loader.Result
			switch {
			case opts.year != 0:
				res, err = ld.LoadYear(ctx, cat, opts.year)
			case opts.class == string(types.PriorityImmediate):
				res, err = ld.LoadImmediate(ctx, cat)
			case opts.class == string(types.PriorityOnDemand):
				res, err = ld.LoadOnDemand(ctx, cat)
			case opts.class == "all":
				res, err = ld.LoadAll(ctx, cat)
			default:
				return fmt.Errorf("invalid --class %q: must be immediate, on-demand or all", opts.class)
			}
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, opts.asJSON)
		},
	}
	cmd.Flags().StringVar(&opts.class, "class", string(types.PriorityImmediate), "Priority class: immediate, on-demand or all")
	cmd.Flags().IntVar(&opts.year, "year", 0, "Load every round of one year")
	cmd.Flags().BoolVar(&opts.allYears, "all-years", false, "Load year by year, newest first")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print records as JSON lines")
	cmd.Flags().StringVar(&opts.baseURL, "url", "", "Fetch from this base URL instead of the configured store")
	return cmd
}

// newLoader builds a loader over the configured store and chunk cache. The
// returned func closes the persistent cache tier.
func newLoader(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*loader.Loader, func(), error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	fetcher, err := app.OpenFetcher(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := app.OpenKV(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if store != nil {
			store.Close()
		}
	}

	ld := loader.New(fetcher, app.NewChunkCache(store, cfg, logger), cfg.LoaderConfig(),
		loader.WithLogger(logger.Named("loader")),
		loader.WithPolicy(cfg.Policy()))
	return ld, closeStore, nil
}

func printResult(w io.Writer, res *loader.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, r := range res.Records {
			if err := enc.Encode(struct {
				Kind types.RecordKind `json:"kind"`
				Data types.Record     `json:"data"`
			}{r.Kind(), r}); err != nil {
				return err
			}
		}
		return nil
	}

	counts := make(map[types.RecordKind]int)
	for _, r := range res.Records {
		counts[r.Kind()]++
	}
	fmt.Fprintf(w, "%s %s: %d records from %d chunks\n", res.Category, res.State(), len(res.Records), res.Chunks)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, kind := range types.RecordKinds() {
		if n := counts[kind]; n > 0 {
			fmt.Fprintf(tw, "  %s\t%d\n", kind, n)
		}
	}
	for _, f := range res.Failures {
		fmt.Fprintf(tw, "  failed\t%s\t%v\n", f.Filename, f.Err)
	}
	return tw.Flush()
}
