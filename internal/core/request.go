package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSizeMismatch indicates a message whose length differs from the
	// receive buffer.
	ErrSizeMismatch = errors.New("message size mismatch")
	// ErrBadRank indicates a peer rank outside the group or equal to the caller.
	ErrBadRank = errors.New("bad rank")
	// ErrClosed indicates use of a transport after it was closed.
	ErrClosed = errors.New("transport closed")
)

// CheckPeer validates a peer rank for a transport of the given size.
func CheckPeer(self, peer, size int) error {
	if peer < 0 || peer >= size || peer == self {
		return fmt.Errorf("%w: %d (self %d, size %d)", ErrBadRank, peer, self, size)
	}
	return nil
}

// WaitAll blocks until every request completed and returns all of their
// errors joined.
func WaitAll(reqs ...Request) error {
	var errs []error
	for _, r := range reqs {
		if err := r.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncRequest is a Request completed by a single call to Complete.
type AsyncRequest struct {
	done chan struct{}
	err  error
}

func NewAsyncRequest() *AsyncRequest {
	return &AsyncRequest{done: make(chan struct{})}
}

// Go runs fn in a new goroutine and completes the request with its result.
func Go(fn func() error) *AsyncRequest {
	r := NewAsyncRequest()
	go func() {
		r.Complete(fn())
	}()
	return r
}

func (r *AsyncRequest) Complete(err error) {
	r.err = err
	close(r.done)
}

func (r *AsyncRequest) Wait() error {
	<-r.done
	return r.err
}
