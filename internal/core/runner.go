package core

import (
	"context"
	"errors"
)

// ErrRoundsComplete indicates the runner executed all of its rounds.
var ErrRoundsComplete = errors.New("all rounds complete")

// NullReporter discards all samples (used during warm-up).
var NullReporter Reporter = nullReporter{}

type nullReporter struct{}

func (nullReporter) Report(Sample) {}

// RoundFunc executes a single round. round counts from 0 across warm-up and
// measured rounds.
type RoundFunc func(ctx context.Context, round int, rep Reporter) error

// RunnerConfig controls how many rounds are executed.
type RunnerConfig struct {
	Rounds       int // measured rounds
	WarmupRounds int // rounds run before samples count
}

// Total returns the number of rounds including warm-up.
func (c RunnerConfig) Total() int {
	return c.Rounds + c.WarmupRounds
}

// Runner controls round-level execution of a role.
// A Runner is NOT safe for concurrent use.
type Runner struct {
	round     RoundFunc
	reporter  Reporter
	config    RunnerConfig
	iteration int
}

func NewRunner(round RoundFunc, reporter Reporter, config RunnerConfig) *Runner {
	if reporter == nil {
		reporter = NullReporter
	}
	return &Runner{
		round:    round,
		reporter: reporter,
		config:   config,
	}
}

// RunRound executes the next round.
// Returns nil on success, ErrRoundsComplete when all rounds ran, or the round's error.
func (r *Runner) RunRound(ctx context.Context) error {
	if r.iteration >= r.config.Total() {
		return ErrRoundsComplete
	}

	rep := r.reporter
	if r.IsWarmup() {
		rep = NullReporter
	}

	err := r.round(ctx, r.iteration, rep)
	r.iteration++
	return err
}

// RunAll executes rounds until all are complete or one fails.
func (r *Runner) RunAll(ctx context.Context) error {
	for {
		err := r.RunRound(ctx)
		if errors.Is(err, ErrRoundsComplete) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Iteration returns the number of rounds executed so far.
func (r *Runner) Iteration() int {
	return r.iteration
}

// IsWarmup returns true if the next round is a warm-up round.
func (r *Runner) IsWarmup() bool {
	return r.iteration < r.config.WarmupRounds
}
