package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neetlogiq/datapack/internal/config"
	"github.com/neetlogiq/datapack/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootOptions are the persistent flags shared by every subcommand. Set
// flags override the config file and the environment.
type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "datapack",
		Short:        "Plan, build, publish and serve size-bounded counselling data chunks",
		SilenceUsage: true,
		Long: `datapack partitions a master dataset of colleges, courses and cutoffs into
compressed chunks described by manifest.json, and serves them to clients.

Configuration is read from --config (YAML or JSON), then DATAPACK_* environment
variables, then command line flags.`,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to configuration file (YAML or JSON)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "Base directory for local files")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: json or console")

	cmd.AddCommand(
		newPlanCommand(opts),
		newBuildCommand(opts),
		newServeCommand(opts),
		newFetchCommand(opts),
		newCacheCommand(opts),
		newVerifyCommand(opts),
		newUploadCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// load layers defaults, the config file, the environment and the flags, then
// resolves and validates. override runs after the persistent flags.
func (o *rootOptions) load(override func(*config.Config)) (*config.Config, *zap.Logger, error) {
	cfg := config.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(o.configPath); err != nil {
			return nil, nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, nil, err
	}

	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if override != nil {
		override(cfg)
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "datapack version %s (commit: %s)\n", version, commit)
		},
	}
}
