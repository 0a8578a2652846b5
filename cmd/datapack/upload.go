package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/neetlogiq/datapack/internal/app"
	"github.com/neetlogiq/datapack/internal/storage"
)

type uploadOptions struct {
	from string
}

func newUploadCommand(root *rootOptions) *cobra.Command {
	opts := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Copy a locally built chunk directory to the configured store",
		Long: `Upload publishes the chunks and manifest.json found in --from to the
configured chunk store, usually an S3-compatible bucket. manifest.json is
written only after every chunk uploaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(nil)
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()

			if opts.from == "" {
				return fmt.Errorf("--from is required")
			}
			src, err := storage.NewLocalStorage(opts.from)
			if err != nil {
				return err
			}
			dst, err := app.OpenChunkStore(ctx, cfg)
			if err != nil {
				return err
			}

			res, err := storage.Copy(ctx, src, dst, "", cfg.Builder.UploadConcurrency)
			if err != nil {
				return err
			}
			if len(res.Errors) > 0 {
				names := make([]string, 0, len(res.Errors))
				for name := range res.Errors {
					names = append(names, name)
				}
				sort.Strings(names)
				var errs error
				for _, name := range names {
					errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, res.Errors[name]))
				}
				return fmt.Errorf("%d objects failed to upload: %w", len(res.Errors), errs)
			}

			logger.Info("upload complete",
				zap.String("from", opts.from),
				zap.String("storage", cfg.Storage.Type),
				zap.Int("objects", len(res.Uploaded)))
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d objects (%s)\n", len(res.Uploaded), humanize.Bytes(uint64(res.Bytes)))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.from, "from", "", "Local chunk directory produced by build")
	return cmd
}
