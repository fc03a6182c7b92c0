// Package worker implements ranks 1..K of the farm.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bsfsim/internal/config"
	"bsfsim/internal/core"
)

// coordinatorRank is the only peer a worker talks to.
const coordinatorRank = 0

// Option configures a Worker.
type Option func(*Worker)

func WithClock(c core.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

// WithReporter receives a work sample per measured round.
func WithReporter(r core.Reporter) Option {
	return func(w *Worker) { w.reporter = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// Summary describes what a worker did during the measured rounds.
type Summary struct {
	Rank   int
	Rounds int
	// Work is the total time spent in simulated work.
	Work time.Duration
	// AggregateWork is the mean per-round work scaled by the worker count,
	// the coordinator-independent stand-in for t_w.
	AggregateWork time.Duration
}

type Worker struct {
	transport core.Transport
	cfg       config.RunConfig
	order     []byte
	report    []byte
	workers   int
	clock     core.Clock
	reporter  core.Reporter
	logger    *zap.Logger

	work time.Duration
}

// New creates the worker role for a non-zero rank of t. order must hold
// OrderBytes+1 bytes and report one report chunk.
func New(t core.Transport, cfg config.RunConfig, order, report []byte, opts ...Option) (*Worker, error) {
	if t.Rank() == coordinatorRank {
		return nil, fmt.Errorf("%w: rank 0 is the coordinator", core.ErrBadRank)
	}
	if err := cfg.Validate(t.Size()); err != nil {
		return nil, err
	}
	workers := config.Workers(t.Size())
	if len(order) != cfg.OrderBytes+1 || len(report) != cfg.ReportChunk(workers) {
		return nil, fmt.Errorf("%w: buffers have %d/%d bytes, want %d/%d",
			config.ErrInvalid, len(order), len(report), cfg.OrderBytes+1, cfg.ReportChunk(workers))
	}

	w := &Worker{
		transport: t,
		cfg:       cfg,
		order:     order,
		report:    report,
		workers:   workers,
		clock:     core.RealClock{},
		reporter:  core.NullReporter,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.Int("rank", t.Rank()))
	return w, nil
}

// RunRounds mirrors the coordinator: cfg.WarmupRounds warm-up rounds
// followed by n measured rounds.
func (w *Worker) RunRounds(ctx context.Context, n int) (Summary, error) {
	sum := Summary{Rank: w.transport.Rank()}
	if n < 0 {
		return sum, fmt.Errorf("%w: rounds must be >= 0, got %d", config.ErrInvalid, n)
	}
	w.work = 0
	runner := core.NewRunner(w.round, w.reporter, core.RunnerConfig{
		Rounds:       n,
		WarmupRounds: w.cfg.WarmupRounds,
	})

	if err := w.transport.Barrier(ctx); err != nil {
		return sum, fmt.Errorf("start barrier: %w", err)
	}
	if err := runner.RunAll(ctx); err != nil {
		return sum, err
	}

	sum.Rounds = runner.Iteration() - w.cfg.WarmupRounds
	sum.Work = w.work
	if sum.Rounds > 0 {
		sum.AggregateWork = time.Duration(w.workers) * (sum.Work / time.Duration(sum.Rounds))
	}
	if sum.Rank == 1 && sum.Rounds > 0 {
		w.logger.Info("aggregate work",
			zap.Float64("t_w", sum.AggregateWork.Seconds()),
			zap.Int("rounds", sum.Rounds))
	}
	return sum, nil
}

func (w *Worker) round(ctx context.Context, round int, rep core.Reporter) error {
	if err := w.transport.Receive(ctx, coordinatorRank, round, w.order); err != nil {
		return fmt.Errorf("round %d: receive order: %w", round, err)
	}

	start := w.clock.Now()
	if err := w.clock.Sleep(ctx, w.cfg.WorkShare(w.workers)); err != nil {
		return fmt.Errorf("round %d: work: %w", round, err)
	}
	elapsed := w.clock.Since(start)
	if round >= w.cfg.WarmupRounds {
		w.work += elapsed
	}
	rep.Report(core.Sample{
		Rank:     w.transport.Rank(),
		Round:    round,
		Phase:    core.PhaseWork,
		Duration: elapsed,
	})

	if err := w.transport.Barrier(ctx); err != nil {
		return fmt.Errorf("round %d: barrier before report: %w", round, err)
	}
	if err := w.transport.Send(ctx, coordinatorRank, round, w.report); err != nil {
		return fmt.Errorf("round %d: send report: %w", round, err)
	}
	if err := w.transport.Barrier(ctx); err != nil {
		return fmt.Errorf("round %d: barrier after report: %w", round, err)
	}
	return nil
}
