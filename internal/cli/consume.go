package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fca_cleaner/internal/feed"
	"fca_cleaner/internal/logging"
)

func newConsumeCmd() *cobra.Command {
	var persist bool

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Analyze patterns arriving on NATS",
		Long: "Subscribes to nats.subject (as a member of nats.queue when set) and\n" +
			"answers every request on its reply subject, or publishes the result on\n" +
			"nats.result_subject.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = cc.Logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			proc, cleanup, err := serviceProcessor(ctx, cc, "feed")
			if err != nil {
				return err
			}
			defer cleanup()

			n := cc.Config.NATS
			cfg := feed.Config{
				URL:           n.URL,
				Subject:       n.Subject,
				Queue:         n.Queue,
				ResultSubject: n.ResultSubject,
				Persist:       n.Persist || persist,
			}

			nc, err := feed.Connect(cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer nc.Close()
			cc.Logger.Info("connected to nats", logging.String("url", nc.ConnectedUrl()))

			return feed.NewWorker(proc, nc, cfg, cc.Logger).Run(ctx, nc)
		},
	}

	cmd.Flags().BoolVar(&persist, "store", false, "save results to the configured storage (or set nats.persist)")
	return cmd
}
