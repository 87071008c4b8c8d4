package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/birdayz/trench"
	"github.com/birdayz/trench/ksandbox/hclexpr"
	"github.com/birdayz/trench/pkg/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	configPath string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume events from Kafka and evaluate them",
		Long: `Consume events from the configured topics, evaluate every node of the
event's type, commit state updates and write saved rows to the sink.
Offsets are committed only after the sink has accepted the rows.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, rootOpts, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "trench.yaml", "config file")
	return cmd
}

func runRun(cmd *cobra.Command, rootOpts *RootOptions, opts *runOptions) (err error) {
	log, err := rootOpts.logger(cmd)
	if err != nil {
		return err
	}
	cfg, err := LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tel *telemetry.Telemetry
	if cfg.Metrics.Addr != "" {
		tel, err = telemetry.Setup(log.WithGroup("telemetry"))
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, tel.Shutdown(context.Background())) }()
	}

	store, err := cfg.Store.openStore(log)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, store.Close()) }()

	sink, err := cfg.Sink.openSink(ctx, cfg.Kafka.Brokers, log)
	if err != nil {
		return err
	}
	if sink != nil {
		defer func() { err = errors.Join(err, sink.Close()) }()
	}

	nodes, err := cfg.Graph.loadGraph(ctx, log)
	if err != nil {
		return err
	}

	appOpts := []trench.Option{
		trench.WithLog(log),
		trench.WithBrokers(cfg.Kafka.Brokers),
		trench.WithTopics(cfg.Kafka.Topics...),
		trench.WithStore(store),
		trench.WithSandbox(hclexpr.New(hclexpr.WithLogger(log.WithGroup("sandbox")))),
		trench.WithErrorHandler(cfg.Kafka.errorHandler()),
	}
	if sink != nil {
		appOpts = append(appOpts, trench.WithSink(sink))
	}
	if cfg.Kafka.Workers > 0 {
		appOpts = append(appOpts, trench.WithWorkersCount(cfg.Kafka.Workers))
	}
	if cfg.Kafka.CommitInterval > 0 {
		appOpts = append(appOpts, trench.WithCommitInterval(cfg.Kafka.CommitInterval))
	}
	if dec := cfg.Kafka.decoder(); dec != nil {
		appOpts = append(appOpts, trench.WithDecoder(dec))
	}
	if cfg.Kafka.DLQTopic != "" {
		appOpts = append(appOpts, trench.WithDLQTopic(cfg.Kafka.DLQTopic))
	}
	if cfg.Graph.Prune {
		appOpts = append(appOpts, trench.WithPrune())
	}
	appOpts = append(appOpts, cfg.Engine.options()...)

	app, err := trench.New(nodes, cfg.Kafka.Group, appOpts...)
	if err != nil {
		return err
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return app.Run()
	})
	grp.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		return app.Close()
	})
	if tel != nil {
		grp.Go(func() error {
			return tel.Serve(gctx, cfg.Metrics.Addr)
		})
	}
	return grp.Wait()
}
