// Package cli wires configuration, logging and the service packages into the
// fca command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fca_cleaner/internal/config"
	"fca_cleaner/internal/logging"
	"fca_cleaner/internal/metrics"
	"fca_cleaner/internal/pipeline"
	"fca_cleaner/internal/storage"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// defaultConfigFile is read when --config is not given and the file exists.
const defaultConfigFile = "fca.yaml"

type cliContextKey struct{}

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

// CLIContext carries the loaded configuration and logger to subcommands.
type CLIContext struct {
	Config *config.Config
	Logger logging.Logger
}

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fca",
		Short: "Parse, repair and validate fare calculation area strings",
		Long: "fca cleans raw fare calculation (FCA) strings: it fixes spacing damage,\n" +
			"drops garbage tokens, validates the grammar, reconciles the fare arithmetic\n" +
			"and compares the route with a booked journey.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./"+defaultConfigFile+" if present)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.StringVar(&opts.LogFormat, "log-format", "", "log format override (json, console)")

	cmd.AddCommand(
		newAnalyzeCmd(),
		newCleanCmd(),
		newBatchCmd(),
		newServeCmd(),
		newConsumeCmd(),
		newVersionCmd(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := initConfig(opts)
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger, err := initLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, &CLIContext{Config: cfg, Logger: logger}))
	return nil
}

// initConfig loads configuration with priority: env > file > defaults.
func initConfig(opts *RootOptions) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	return config.Load(path)
}

// initLogger builds the logger from the log section. Command line tools log
// to stderr unless the file says otherwise, so stdout stays clean for results.
func initLogger(cfg *config.Config, opts *RootOptions) (logging.Logger, error) {
	logCfg := cfg.Log
	if opts.LogLevel != "" {
		logCfg.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		logCfg.Format = opts.LogFormat
	}
	if len(logCfg.OutputPaths) == 0 {
		logCfg.OutputPaths = []string{"stderr"}
	}
	return logging.New(logCfg)
}

// GetCLIContext extracts the CLIContext stored by the root command.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	if ctx := cmd.Context(); ctx != nil {
		if c, ok := ctx.Value(cliContextKey{}).(*CLIContext); ok {
			return c, nil
		}
	}
	return nil, errors.New("cli context not initialized")
}

// openStore opens the configured backends. When required is false a config
// without any enabled backend yields a nil store and no error.
func openStore(ctx context.Context, cc *CLIContext, required bool) (storage.Store, error) {
	store, err := storage.Open(ctx, cc.Config.Storage)
	if errors.Is(err, storage.ErrNoBackend) && !required {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

// newProcessor builds the analysis pipeline for a command. The returned
// cleanup closes the store, if one was opened.
func newProcessor(ctx context.Context, cc *CLIContext, persist bool, rec *metrics.Recorder) (*pipeline.Processor, func(), error) {
	analyzer, err := cc.Config.NewAnalyzer()
	if err != nil {
		return nil, nil, err
	}

	opts := []pipeline.Option{pipeline.WithLogger(cc.Logger), pipeline.WithMetrics(rec)}
	cleanup := func() {}
	if persist {
		store, err := openStore(ctx, cc, true)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, pipeline.WithStore(store))
		cleanup = func() {
			if err := store.Close(); err != nil {
				cc.Logger.Warn("closing store", logging.Err(err))
			}
		}
	}
	return pipeline.New(analyzer, opts...), cleanup, nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}
