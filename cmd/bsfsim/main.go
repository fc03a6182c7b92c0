package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bsfsim/internal/config"
)

const (
	ExitSuccess     = 0
	ExitCheckFailed = 1
	ExitError       = 2
)

// errCheckFailed is returned when the tolerances or the timing model reject
// an otherwise completed run.
var errCheckFailed = errors.New("run check failed")

type options struct {
	configPath string
	output     string
	quiet      bool
	verbose    bool

	orderBytes    int
	reportBytes   int
	rounds        int
	warmup        int
	workMicros    int64
	processMicros int64
	latency       float64
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "bsfsim",
		Short:         "Bulk-synchronous farm simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.output != "text" && opts.output != "json" {
				return fmt.Errorf("--output must be 'text' or 'json', got %q", opts.output)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to YAML config file")
	flags.StringVar(&opts.output, "output", "text", "output format: text, json")
	flags.BoolVar(&opts.quiet, "quiet", false, "suppress progress output")
	flags.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	flags.IntVar(&opts.orderBytes, "order-bytes", config.DefaultOrderBytes, "order payload size in bytes")
	flags.IntVar(&opts.reportBytes, "report-bytes", config.DefaultReportBytes, "report bytes per round, split across workers")
	flags.IntVar(&opts.rounds, "rounds", config.DefaultRounds, "measured rounds")
	flags.IntVar(&opts.warmup, "warmup", 0, "warm-up rounds before measuring")
	flags.Int64Var(&opts.workMicros, "work-micros", config.DefaultWorkMicros, "total simulated work per round (µs)")
	flags.Int64Var(&opts.processMicros, "process-micros", config.DefaultProcessMicros, "simulated post-processing per round (µs)")
	flags.Float64Var(&opts.latency, "latency", config.DefaultLatency, "assumed one-way latency (s)")

	root.AddCommand(
		newLocalCommand(opts),
		newRunCommand(opts),
		newLaunchCommand(opts),
	)
	return root
}

// loadConfig reads the config file if given. Flags override file values.
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(o.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("order-bytes") {
		cfg.Run.OrderBytes = o.orderBytes
	}
	if flags.Changed("report-bytes") {
		cfg.Run.ReportBytes = o.reportBytes
	}
	if flags.Changed("rounds") {
		cfg.Run.Rounds = o.rounds
	}
	if flags.Changed("warmup") {
		cfg.Run.WarmupRounds = o.warmup
	}
	if flags.Changed("work-micros") {
		cfg.Run.WorkMicros = o.workMicros
	}
	if flags.Changed("process-micros") {
		cfg.Run.ProcessMicros = o.processMicros
	}
	if flags.Changed("latency") {
		cfg.Run.Latency = o.latency
	}
	return cfg, nil
}

func (o *options) logger() (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.DisableStacktrace = true
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if o.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if o.quiet && !o.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	return zcfg.Build()
}

func main() {
	err := newRootCommand().Execute()
	switch {
	case err == nil:
		os.Exit(ExitSuccess)
	case errors.Is(err, errCheckFailed):
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
		os.Exit(ExitCheckFailed)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(ExitError)
	}
}
