package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newLaunchCommand(opts *options) *cobra.Command {
	var (
		host     string
		basePort int
		password string
	)
	cmd := &cobra.Command{
		Use:   "launch N",
		Short: "Start N local participants, each in its own process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid participant count %q", args[0])
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			self, err := os.Executable()
			if err != nil {
				return err
			}

			addrs := make([]string, n)
			for i := range addrs {
				addrs[i] = fmt.Sprintf("%s:%d", host, basePort+i)
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			for _, addr := range addrs {
				child := exec.CommandContext(ctx, self, childArgs(cmd, addr, addrs, password)...)
				child.Stdout = os.Stdout
				child.Stderr = os.Stderr
				logger.Debug("starting participant", zap.String("addr", addr))
				g.Go(func() error {
					if err := child.Run(); err != nil {
						return fmt.Errorf("participant %s: %w", addr, err)
					}
					return nil
				})
			}
			err = g.Wait()

			// a participant that only failed its checks exits with ExitCheckFailed
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == ExitCheckFailed {
				return fmt.Errorf("%w: %v", errCheckFailed, err)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&host, "host", "localhost", "host the participants listen on")
	cmd.Flags().IntVar(&basePort, "base-port", 5000, "port of the first participant")
	cmd.Flags().StringVar(&password, "password", defaultPassword, "shared group password")
	return cmd
}

// childArgs builds the command line of the participant listening on addr.
// Every global flag the user set is passed on.
func childArgs(cmd *cobra.Command, addr string, addrs []string, password string) []string {
	args := []string{"run",
		"--addr", addr,
		"--addrs", joinAddrs(addrs),
		"--password", password,
	}
	// InheritedFlags is a fresh set without the parse record, so Visit sees nothing
	cmd.InheritedFlags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			args = append(args, "--"+f.Name+"="+f.Value.String())
		}
	})
	return args
}
