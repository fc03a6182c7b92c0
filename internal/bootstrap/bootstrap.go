// Package bootstrap turns a connected transport into a running participant.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bsfsim/internal/config"
	"bsfsim/internal/coordinator"
	"bsfsim/internal/core"
	"bsfsim/internal/timing"
	"bsfsim/internal/worker"
)

// Options are shared by both roles. Zero values select defaults.
type Options struct {
	Clock    core.Clock
	Reporter core.Reporter
	Logger   *zap.Logger
}

// Result is what a participant produced. Report is set on the coordinator,
// Summary on workers.
type Result struct {
	Rank    int
	Role    core.Role
	Report  *timing.Report
	Summary worker.Summary
}

// Participant is one member of the farm with its role assigned and its
// buffers allocated.
type Participant struct {
	Rank int
	Role core.Role

	cfg         config.RunConfig
	coordinator *coordinator.Coordinator
	worker      *worker.Worker
}

// New validates cfg against the group behind t, allocates the buffers of the
// participant's role and returns it ready to run. Configuration errors are
// returned before any communication takes place.
func New(t core.Transport, cfg config.RunConfig, opts Options) (*Participant, error) {
	size := t.Size()
	if err := cfg.Validate(size); err != nil {
		return nil, err
	}
	workers := config.Workers(size)
	chunk := cfg.ReportChunk(workers)

	if opts.Clock == nil {
		opts.Clock = core.RealClock{}
	}
	if opts.Reporter == nil {
		opts.Reporter = core.NullReporter
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	p := &Participant{
		Rank: t.Rank(),
		Role: core.RoleForRank(t.Rank()),
		cfg:  cfg,
	}
	logger := opts.Logger.With(zap.Int("rank", p.Rank), zap.Stringer("role", p.Role))

	var err error
	switch p.Role {
	case core.RoleCoordinator:
		bufs := coordinator.Buffers{
			Orders:  make([][]byte, workers),
			Reports: make([][]byte, workers),
		}
		for i := 0; i < workers; i++ {
			bufs.Orders[i] = make([]byte, cfg.OrderBytes+1)
			bufs.Reports[i] = make([]byte, chunk)
		}
		p.coordinator, err = coordinator.New(t, cfg, bufs,
			coordinator.WithClock(opts.Clock),
			coordinator.WithReporter(opts.Reporter),
			coordinator.WithLogger(logger))
	default:
		p.worker, err = worker.New(t, cfg,
			make([]byte, cfg.OrderBytes+1),
			make([]byte, chunk),
			worker.WithClock(opts.Clock),
			worker.WithReporter(opts.Reporter),
			worker.WithLogger(logger))
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap rank %d: %w", p.Rank, err)
	}

	logger.Debug("participant ready",
		zap.Int("size", size),
		zap.Int("order_bytes", cfg.OrderBytes+1),
		zap.Int("report_chunk", chunk))
	return p, nil
}

// Run executes cfg.Rounds measured rounds. On the coordinator a report whose
// scaling exponent is out of domain is returned together with the error.
func (p *Participant) Run(ctx context.Context) (Result, error) {
	res := Result{Rank: p.Rank, Role: p.Role}
	var err error
	if p.coordinator != nil {
		res.Report, err = p.coordinator.RunRounds(ctx, p.cfg.Rounds)
	} else {
		res.Summary, err = p.worker.RunRounds(ctx, p.cfg.Rounds)
	}
	return res, err
}
