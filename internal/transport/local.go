// Package transport provides message-passing substrates for the farm: an
// in-process group with an optional link model and a TCP network.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bsfsim/internal/core"
	"bsfsim/internal/ratelimit"
)

// LinkModel describes the cost of a transfer through a participant port.
// The zero value transfers instantly.
type LinkModel struct {
	Latency   time.Duration
	Bandwidth int64 // bytes per second, 0 = unlimited
}

func (l LinkModel) enabled() bool {
	return l.Latency > 0 || l.Bandwidth > 0
}

// LocalOption configures a LocalGroup.
type LocalOption func(*LocalGroup)

// WithLinkModel makes every transfer hold the sender's egress port and the
// receiver's ingress port for Latency + bytes/Bandwidth.
func WithLinkModel(m LinkModel) LocalOption {
	return func(g *LocalGroup) { g.link = m }
}

// WithClock sets the clock used for link latency.
func WithClock(c core.Clock) LocalOption {
	return func(g *LocalGroup) { g.clock = c }
}

// port serializes the transfers of one direction of a participant.
type port struct {
	mu     sync.Mutex
	shaper *ratelimit.Shaper
}

// LocalGroup connects size in-process participants.
type LocalGroup struct {
	size    int
	link    LinkModel
	clock   core.Clock
	inboxes [][]*mailbox // inboxes[dest][source]
	egress  []*port
	ingress []*port
	barrier *barrier
	members []*Local

	closeOnce sync.Once
	done      chan struct{}
}

// NewLocalGroup creates a group of size participants.
func NewLocalGroup(size int, opts ...LocalOption) (*LocalGroup, error) {
	if size < 1 {
		return nil, fmt.Errorf("local group: size %d must be at least 1", size)
	}
	g := &LocalGroup{
		size:    size,
		clock:   core.RealClock{},
		inboxes: make([][]*mailbox, size),
		egress:  make([]*port, size),
		ingress: make([]*port, size),
		members: make([]*Local, size),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.link.Latency < 0 || g.link.Bandwidth < 0 {
		return nil, fmt.Errorf("local group: negative link model %+v", g.link)
	}

	g.barrier = newBarrier(size, g.done)
	for dest := 0; dest < size; dest++ {
		g.inboxes[dest] = make([]*mailbox, size)
		for src := 0; src < size; src++ {
			g.inboxes[dest][src] = newMailbox()
		}
		g.egress[dest] = &port{shaper: ratelimit.NewShaper(g.link.Bandwidth)}
		g.ingress[dest] = &port{}
		g.members[dest] = &Local{group: g, rank: dest}
	}
	return g, nil
}

// Size returns the number of participants.
func (g *LocalGroup) Size() int { return g.size }

// Transport returns the transport of participant rank.
func (g *LocalGroup) Transport(rank int) *Local {
	return g.members[rank]
}

// Transports returns every participant's transport ordered by rank.
func (g *LocalGroup) Transports() []core.Transport {
	ts := make([]core.Transport, g.size)
	for i, m := range g.members {
		ts[i] = m
	}
	return ts
}

// Close fails every pending and future operation with core.ErrClosed.
func (g *LocalGroup) Close() {
	g.closeOnce.Do(func() {
		close(g.done)
		for _, row := range g.inboxes {
			for _, m := range row {
				m.close(core.ErrClosed)
			}
		}
	})
}

// transfer models moving n bytes from src to dest.
func (g *LocalGroup) transfer(ctx context.Context, src, dest, n int) error {
	if !g.link.enabled() {
		return nil
	}
	out, in := g.egress[src], g.ingress[dest]
	// egress before ingress everywhere, so no cycle can form
	out.mu.Lock()
	defer out.mu.Unlock()
	in.mu.Lock()
	defer in.mu.Unlock()

	if err := g.clock.Sleep(ctx, g.link.Latency); err != nil {
		return err
	}
	return out.shaper.WaitBytes(ctx, n)
}

// Local is one participant's view of a LocalGroup.
type Local struct {
	group *LocalGroup
	rank  int
}

var _ core.Transport = (*Local)(nil)

func (l *Local) Rank() int { return l.rank }
func (l *Local) Size() int { return l.group.size }

// Send blocks until dest copied buf.
func (l *Local) Send(ctx context.Context, dest, tag int, buf []byte) error {
	g := l.group
	if err := core.CheckPeer(l.rank, dest, g.size); err != nil {
		return err
	}
	if err := g.transfer(ctx, l.rank, dest, len(buf)); err != nil {
		return fmt.Errorf("send to %d: %w", dest, err)
	}

	box := g.inboxes[dest][l.rank]
	e := &envelope{tag: tag, data: buf, done: make(chan error, 1)}
	if err := box.push(e); err != nil {
		return err
	}
	select {
	case err := <-e.done:
		return err
	case <-ctx.Done():
		return abandon(box, e, ctx.Err())
	case <-g.done:
		return abandon(box, e, core.ErrClosed)
	}
}

// abandon takes back an unreceived envelope so buf is not read after Send
// returns. A receiver that already took it signals done right after copying.
func abandon(box *mailbox, e *envelope, err error) error {
	if box.withdraw(e) {
		return err
	}
	return <-e.done
}

// Receive blocks until a message with tag from source was copied into buf.
func (l *Local) Receive(ctx context.Context, source, tag int, buf []byte) error {
	g := l.group
	if err := core.CheckPeer(l.rank, source, g.size); err != nil {
		return err
	}
	e, err := g.inboxes[l.rank][source].take(ctx, tag)
	if err != nil {
		return err
	}
	if len(e.data) != len(buf) {
		err := fmt.Errorf("%w: tag %d from %d has %d bytes, want %d",
			core.ErrSizeMismatch, tag, source, len(e.data), len(buf))
		e.done <- err
		return err
	}
	copy(buf, e.data)
	e.done <- nil
	return nil
}

func (l *Local) SendAsync(ctx context.Context, dest, tag int, buf []byte) core.Request {
	return core.Go(func() error { return l.Send(ctx, dest, tag, buf) })
}

func (l *Local) ReceiveAsync(ctx context.Context, source, tag int, buf []byte) core.Request {
	return core.Go(func() error { return l.Receive(ctx, source, tag, buf) })
}

func (l *Local) Barrier(ctx context.Context) error {
	return l.group.barrier.wait(ctx)
}

// barrier is a reusable generation barrier.
type barrier struct {
	mu      sync.Mutex
	size    int
	count   int
	release chan struct{}
	closed  <-chan struct{}
}

func newBarrier(size int, closed <-chan struct{}) *barrier {
	return &barrier{size: size, release: make(chan struct{}), closed: closed}
}

func (b *barrier) wait(ctx context.Context) error {
	b.mu.Lock()
	release := b.release
	b.count++
	if b.count == b.size {
		b.count = 0
		b.release = make(chan struct{})
		close(release)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return b.leave(release, ctx.Err())
	case <-b.closed:
		return b.leave(release, core.ErrClosed)
	}
}

// leave withdraws an arrival from the generation that release belongs to,
// unless that generation was released in the meantime.
func (b *barrier) leave(release chan struct{}, err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.release != release {
		return nil
	}
	b.count--
	return err
}
