// Package coordinator implements rank 0 of the farm: it dispatches orders,
// collects reports and derives the timing report.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bsfsim/internal/config"
	"bsfsim/internal/core"
	"bsfsim/internal/timing"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithClock(c core.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithReporter receives a sample per phase of every measured round.
func WithReporter(r core.Reporter) Option {
	return func(co *Coordinator) { co.reporter = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// Buffers are allocated once per run. Orders holds one buffer of
// OrderBytes+1 bytes per worker, the first byte being the exit flag. Reports
// holds one report chunk per worker.
type Buffers struct {
	Orders  [][]byte
	Reports [][]byte
}

type Coordinator struct {
	transport core.Transport
	cfg       config.RunConfig
	bufs      Buffers
	clock     core.Clock
	reporter  core.Reporter
	logger    *zap.Logger

	timings []timing.RoundTimings
}

// New creates the coordinator role for rank 0 of t.
func New(t core.Transport, cfg config.RunConfig, bufs Buffers, opts ...Option) (*Coordinator, error) {
	if t.Rank() != 0 {
		return nil, fmt.Errorf("%w: coordinator must be rank 0, got %d", core.ErrBadRank, t.Rank())
	}
	workers := config.Workers(t.Size())
	if err := cfg.Validate(t.Size()); err != nil {
		return nil, err
	}
	if len(bufs.Orders) != workers || len(bufs.Reports) != workers {
		return nil, fmt.Errorf("%w: %d order and %d report buffers for %d workers",
			config.ErrInvalid, len(bufs.Orders), len(bufs.Reports), workers)
	}
	chunk := cfg.ReportChunk(workers)
	for i := 0; i < workers; i++ {
		if len(bufs.Orders[i]) != cfg.OrderBytes+1 || len(bufs.Reports[i]) != chunk {
			return nil, fmt.Errorf("%w: buffers of worker %d have %d/%d bytes, want %d/%d",
				config.ErrInvalid, i+1, len(bufs.Orders[i]), len(bufs.Reports[i]), cfg.OrderBytes+1, chunk)
		}
		bufs.Orders[i][0] = 0 // exit flag, never set
	}

	c := &Coordinator{
		transport: t,
		cfg:       cfg,
		bufs:      bufs,
		clock:     core.RealClock{},
		reporter:  core.NullReporter,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RunRounds executes cfg.WarmupRounds warm-up rounds followed by n measured
// rounds and returns the timing report. A report whose scaling exponent is
// undefined is returned together with an error wrapping timing.ErrDomain.
func (c *Coordinator) RunRounds(ctx context.Context, n int) (*timing.Report, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: rounds must be >= 0, got %d", config.ErrInvalid, n)
	}
	c.timings = c.timings[:0]
	runner := core.NewRunner(c.round, c.reporter, core.RunnerConfig{
		Rounds:       n,
		WarmupRounds: c.cfg.WarmupRounds,
	})

	if err := c.transport.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("start barrier: %w", err)
	}
	c.logger.Info("rounds starting",
		zap.Int("workers", len(c.bufs.Orders)),
		zap.Int("rounds", n),
		zap.Int("warmup", c.cfg.WarmupRounds))

	var start time.Time
	for {
		if start.IsZero() && !runner.IsWarmup() {
			start = c.clock.Now()
		}
		err := runner.RunRound(ctx)
		if errors.Is(err, core.ErrRoundsComplete) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	measured := c.clock.Since(start)

	return timing.Build(timing.Inputs{
		GroupSize:     c.transport.Size(),
		Rounds:        c.timings[min(c.cfg.WarmupRounds, len(c.timings)):],
		Latency:       c.cfg.Latency,
		WorkMicros:    c.cfg.WorkMicros,
		ProcessMicros: c.cfg.ProcessMicros,
		Measured:      measured,
	})
}

func (c *Coordinator) round(ctx context.Context, round int, rep core.Reporter) error {
	workers := len(c.bufs.Orders)
	reqs := make([]core.Request, workers)

	start := c.clock.Now()
	for i, order := range c.bufs.Orders {
		reqs[i] = c.transport.SendAsync(ctx, i+1, round, order)
	}
	if err := core.WaitAll(reqs...); err != nil {
		return fmt.Errorf("round %d: dispatch: %w", round, err)
	}
	send := c.clock.Since(start)
	rep.Report(core.Sample{
		Round:    round,
		Phase:    core.PhaseDispatch,
		Duration: send,
		Bytes:    int64(workers * (c.cfg.OrderBytes + 1)),
	})

	if err := c.transport.Barrier(ctx); err != nil {
		return fmt.Errorf("round %d: barrier after dispatch: %w", round, err)
	}

	start = c.clock.Now()
	for i, report := range c.bufs.Reports {
		reqs[i] = c.transport.ReceiveAsync(ctx, i+1, round, report)
	}
	if err := core.WaitAll(reqs...); err != nil {
		return fmt.Errorf("round %d: collect: %w", round, err)
	}
	receive := c.clock.Since(start)
	rep.Report(core.Sample{
		Round:    round,
		Phase:    core.PhaseCollect,
		Duration: receive,
		Bytes:    int64(c.cfg.ReportChunk(workers) * workers),
	})

	if err := c.transport.Barrier(ctx); err != nil {
		return fmt.Errorf("round %d: barrier after collect: %w", round, err)
	}

	process := c.cfg.ProcessDelay()
	if err := c.clock.Sleep(ctx, process); err != nil {
		return fmt.Errorf("round %d: process: %w", round, err)
	}
	rep.Report(core.Sample{Round: round, Phase: core.PhaseProcess, Duration: process})

	rt := timing.NewRoundTimings(round, send, receive, workers, c.cfg.Latency)
	c.timings = append(c.timings, rt)
	c.logger.Debug("round complete",
		zap.Int("round", round),
		zap.Duration("send", send),
		zap.Duration("receive", receive),
		zap.Float64("t_s", rt.PerLinkSendTime),
		zap.Float64("t_r", rt.AggregateReceiveTime))
	return nil
}
