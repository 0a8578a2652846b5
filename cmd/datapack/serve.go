package main

import (
	"github.com/spf13/cobra"

	"github.com/neetlogiq/datapack/internal/app"
	"github.com/neetlogiq/datapack/internal/config"
)

type serveOptions struct {
	httpAddr string
	grpcAddr string
	noGRPC   bool
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the manifest, chunks and loaded records over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(func(c *config.Config) {
				if opts.httpAddr != "" {
					c.HTTP.Addr = opts.httpAddr
				}
				if opts.grpcAddr != "" {
					c.GRPC.Addr = opts.grpcAddr
				}
				if opts.noGRPC {
					c.GRPC.Enabled = false
				}
			})
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc-addr", "", "gRPC health listen address")
	cmd.Flags().BoolVar(&opts.noGRPC, "no-grpc", false, "Disable the gRPC health server")
	return cmd
}
