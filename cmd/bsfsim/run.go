package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bsfsim/internal/bootstrap"
	"bsfsim/internal/collector"
	"bsfsim/internal/core"
	"bsfsim/internal/transport"
)

const defaultPassword = "bsfsim"

func newRunCommand(opts *options) *cobra.Command {
	var (
		addr     string
		addrs    []string
		password string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one participant over TCP",
		Long: "Run one participant of a group connected over TCP. Every participant\n" +
			"gets the same --addrs; its rank is the position of --addr in the sorted list.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" || len(addrs) == 0 {
				return errors.New("--addr and --addrs are required")
			}
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Run.Validate(len(addrs)); err != nil {
				return err
			}

			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, interrupted := withInterrupt(cmd.Context(), opts, logger)
			defer interrupted.stop()

			nw, err := transport.Dial(ctx, transport.NetworkConfig{
				Addr:     addr,
				Addrs:    addrs,
				Password: password,
				Timeout:  timeout,
			}, logger)
			if err != nil {
				return fmt.Errorf("connecting %s: %w", addr, err)
			}
			defer nw.Close()

			var coll *collector.Collector
			var reporter core.Reporter
			if nw.Rank() == 0 {
				coll = collector.NewCollector()
				reporter = coll
			}
			p, err := bootstrap.New(nw, cfg.Run, bootstrap.Options{Reporter: reporter, Logger: logger})
			if err != nil {
				return err
			}

			res, err := p.Run(ctx)
			if interrupted.happened() {
				return nil
			}
			if p.Role == core.RoleWorker {
				if err != nil {
					return err
				}
				logger.Info("worker done",
					zap.Int("rank", res.Rank),
					zap.Int("rounds", res.Summary.Rounds),
					zap.Duration("work", res.Summary.Work))
				return nil
			}

			coll.Close()
			return printReport(cmd.OutOrStdout(), opts, cfg, res.Report, coll.Compute(), err, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "address this participant listens on")
	cmd.Flags().StringSliceVar(&addrs, "addrs", nil, "addresses of all participants")
	cmd.Flags().StringVar(&password, "password", defaultPassword, "shared group password")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "connection setup timeout (0 = none)")
	return cmd
}

func joinAddrs(addrs []string) string {
	return strings.Join(addrs, ",")
}
