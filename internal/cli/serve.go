package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fca_cleaner/internal/api"
	"fca_cleaner/internal/logging"
	"fca_cleaner/internal/metrics"
	"fca_cleaner/internal/pipeline"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API",
		Long: "Serves the analyzer over HTTP under /api/v1 with Prometheus metrics on\n" +
			"/metrics. Storage endpoints answer 503 unless a backend is enabled.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = cc.Logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			proc, cleanup, err := serviceProcessor(ctx, cc, "api")
			if err != nil {
				return err
			}
			defer cleanup()

			srvCfg := cc.Config.Server
			if port > 0 {
				srvCfg.Port = port
			}
			srv := api.NewServer(proc, cc.Logger, api.Config{
				Port:           srvCfg.Port,
				AuthEnabled:    srvCfg.AuthEnabled,
				APIKeys:        srvCfg.APIKeys,
				RequestTimeout: srvCfg.RequestTimeout,
				MaxBatch:       srvCfg.MaxBatch,
			})
			return srv.Run(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from server.port)")
	return cmd
}

// serviceProcessor builds the processor of a long-running service: runtime
// metrics on, storage opened when any backend is enabled.
func serviceProcessor(ctx context.Context, cc *CLIContext, name string) (*pipeline.Processor, func(), error) {
	analyzer, err := cc.Config.NewAnalyzer()
	if err != nil {
		return nil, nil, err
	}

	rec := metrics.New(true)
	opts := []pipeline.Option{pipeline.WithLogger(cc.Logger.Named(name)), pipeline.WithMetrics(rec)}

	store, err := openStore(ctx, cc, false)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {}
	if store != nil {
		opts = append(opts, pipeline.WithStore(store))
		cleanup = func() {
			if err := store.Close(); err != nil {
				cc.Logger.Warn("closing store", logging.Err(err))
			}
		}
	} else {
		cc.Logger.Warn("no storage backend enabled; results will not be persisted")
	}

	tables := analyzer.Tables().Sizes()
	cc.Logger.Info("analyzer ready",
		logging.Int("airports", tables.Airports),
		logging.Int("airlines", tables.Airlines),
		logging.Int("currencies", tables.Currencies),
		logging.Bool("sqlite", cc.Config.Storage.SQLite.Path != ""),
		logging.Bool("postgres", cc.Config.Storage.Postgres.Enabled),
		logging.Bool("clickhouse", cc.Config.Storage.ClickHouse.Enabled))

	return pipeline.New(analyzer, opts...), cleanup, nil
}
