// Package core defines the fundamental interfaces and types for the farm simulator.
package core

import (
	"context"
	"time"
)

// Role is the part a participant plays in the farm.
type Role int

const (
	RoleCoordinator Role = iota
	RoleWorker
)

func (r Role) String() string {
	switch r {
	case RoleCoordinator:
		return "coordinator"
	case RoleWorker:
		return "worker"
	}
	return "unknown"
}

// RoleForRank assigns the coordinator role to rank 0 and the worker role to
// every other rank.
func RoleForRank(rank int) Role {
	if rank == 0 {
		return RoleCoordinator
	}
	return RoleWorker
}

// Transport is the message-passing substrate the farm runs on. Delivery is
// reliable and FIFO per (source, tag); Barrier releases only after every
// participant of the group has entered it.
type Transport interface {
	Rank() int
	Size() int

	// Send blocks until buf may be reused.
	Send(ctx context.Context, dest, tag int, buf []byte) error
	// Receive blocks until a message with the given tag from source has been
	// copied into buf. The message length must equal len(buf).
	Receive(ctx context.Context, source, tag int, buf []byte) error

	SendAsync(ctx context.Context, dest, tag int, buf []byte) Request
	ReceiveAsync(ctx context.Context, source, tag int, buf []byte) Request

	Barrier(ctx context.Context) error
}

// Request is a pending non-blocking operation. Its buffer is owned by the
// transport until Wait returns.
type Request interface {
	Wait() error
}

// Phase names a timed section of a round.
type Phase string

const (
	PhaseDispatch Phase = "dispatch"
	PhaseCollect  Phase = "collect"
	PhaseWork     Phase = "work"
	PhaseProcess  Phase = "process"
)

// Sample is a single measurement taken by a participant during a round.
type Sample struct {
	Rank     int
	Round    int
	Phase    Phase
	Duration time.Duration
	Bytes    int64
}

// Reporter receives samples from the roles.
type Reporter interface {
	Report(Sample)
}
