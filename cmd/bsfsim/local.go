package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bsfsim/internal/bootstrap"
	"bsfsim/internal/collector"
	"bsfsim/internal/config"
	"bsfsim/internal/progress"
	"bsfsim/internal/timing"
	"bsfsim/internal/transport"
)

func newLocalCommand(opts *options) *cobra.Command {
	var (
		size        int
		linkLatency time.Duration
		bandwidth   int64
		interval    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Run the whole group in-process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("link-latency") {
				cfg.Link.Latency = linkLatency
			}
			if cmd.Flags().Changed("bandwidth") {
				cfg.Link.Bandwidth = bandwidth
			}
			if err := cfg.Validate(size); err != nil {
				return err
			}

			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			return runLocal(cmd.Context(), localRun{
				size:     size,
				out:      cmd.OutOrStdout(),
				errOut:   cmd.ErrOrStderr(),
				interval: interval,
			}, opts, cfg, logger)
		},
	}
	cmd.Flags().IntVar(&size, "size", 5, "group size including the coordinator")
	cmd.Flags().DurationVar(&linkLatency, "link-latency", 0, "modelled link latency")
	cmd.Flags().Int64Var(&bandwidth, "bandwidth", 0, "modelled link bandwidth in bytes/s (0 = unlimited)")
	cmd.Flags().DurationVar(&interval, "progress-interval", time.Second, "refresh interval of the progress line")
	return cmd
}

// localRun holds the settings of one local command invocation.
type localRun struct {
	size     int
	out      io.Writer // report
	errOut   io.Writer // progress line
	interval time.Duration
}

func runLocal(ctx context.Context, lr localRun, opts *options, cfg *config.Config, logger *zap.Logger) error {
	size := lr.size
	group, err := transport.NewLocalGroup(size, transport.WithLinkModel(transport.LinkModel{
		Latency:   cfg.Link.Latency,
		Bandwidth: cfg.Link.Bandwidth,
	}))
	if err != nil {
		return err
	}
	defer group.Close()

	ctx, interrupted := withInterrupt(ctx, opts, logger)
	defer interrupted.stop()

	coll := collector.NewCollector()
	prog := progress.NewProgress(coll, opts.quiet)
	prog.SetOutput(lr.errOut)
	prog.SetInterval(lr.interval)

	parts := make([]*bootstrap.Participant, size)
	for rank, t := range group.Transports() {
		parts[rank], err = bootstrap.New(t, cfg.Run, bootstrap.Options{
			Reporter: coll,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
	}

	prog.Printf("bsfsim starting: %d workers, %d rounds (+%d warm-up), order %d bytes",
		size-1, cfg.Run.Rounds, cfg.Run.WarmupRounds, cfg.Run.OrderBytes)
	prog.Start()

	var report *timing.Report
	var reportErr error
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range parts {
		g.Go(func() error {
			res, err := p.Run(gctx)
			if p.Rank == 0 {
				report, reportErr = res.Report, err
				if errors.Is(err, timing.ErrDomain) {
					return nil
				}
			}
			if err != nil {
				return fmt.Errorf("rank %d: %w", p.Rank, err)
			}
			return nil
		})
	}
	err = g.Wait()
	prog.Stop()
	coll.Close()
	if err == nil {
		prog.Print("all participants finished")
	}

	if interrupted.happened() {
		collector.FormatText(lr.out, nil, nil, nil)
		return nil
	}
	if err != nil {
		return err
	}
	return printReport(lr.out, opts, cfg, report, coll.Compute(), reportErr, logger)
}

// interrupt cancels a context on SIGINT or SIGTERM and remembers that it did.
type interrupt struct {
	sigCh  chan os.Signal
	fired  chan struct{}
	cancel context.CancelFunc
}

func withInterrupt(ctx context.Context, opts *options, logger *zap.Logger) (context.Context, *interrupt) {
	ctx, cancel := context.WithCancel(ctx)
	in := &interrupt{sigCh: make(chan os.Signal, 1), fired: make(chan struct{}), cancel: cancel}
	signal.Notify(in.sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-in.sigCh:
			close(in.fired)
			if !opts.quiet {
				logger.Info("received interrupt signal, shutting down")
			}
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, in
}

func (in *interrupt) stop() {
	signal.Stop(in.sigCh)
	in.cancel()
}

func (in *interrupt) happened() bool {
	select {
	case <-in.fired:
		return true
	default:
		return false
	}
}
