package transport

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// envelope is a message waiting in a mailbox.
type envelope struct {
	tag  int
	data []byte
	err  error
	// done is signalled by the receiver once data was consumed. Nil when the
	// sender does not wait.
	done chan error
}

// mailbox holds pending messages from one source. take returns the oldest
// message with the requested tag.
type mailbox struct {
	mu     sync.Mutex
	queue  deque.Deque[*envelope]
	notify chan struct{}
	err    error
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{})}
}

func (m *mailbox) push(e *envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.queue.PushBack(e)
	m.broadcast()
	return nil
}

// broadcast wakes every waiting taker. Must hold mu.
func (m *mailbox) broadcast() {
	close(m.notify)
	m.notify = make(chan struct{})
}

func (m *mailbox) take(ctx context.Context, tag int) (*envelope, error) {
	for {
		m.mu.Lock()
		if i := m.queue.Index(func(e *envelope) bool { return e.tag == tag }); i >= 0 {
			e := m.queue.Remove(i)
			m.mu.Unlock()
			return e, nil
		}
		if m.err != nil {
			err := m.err
			m.mu.Unlock()
			return nil, err
		}
		wait := m.notify
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// withdraw removes e if no taker got it yet.
func (m *mailbox) withdraw(e *envelope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.queue.Index(func(q *envelope) bool { return q == e }); i >= 0 {
		m.queue.Remove(i)
		return true
	}
	return false
}

// close fails pending and future takes with err once the queue holds no
// matching message.
func (m *mailbox) close(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return
	}
	m.err = err
	m.broadcast()
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}
