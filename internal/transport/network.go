package transport

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"net"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bsfsim/internal/core"
)

// barrierTag is reserved for the centralized barrier.
const barrierTag = math.MinInt32

const dialRetryInterval = 300 * time.Millisecond

var (
	ErrBadPassword = errors.New("bad password")
	ErrAddress     = errors.New("bad address list")
)

// NetworkConfig describes a TCP group. Every participant must be given the
// same Addrs and Password.
type NetworkConfig struct {
	Addr     string   // address this participant listens on
	Addrs    []string // addresses of all participants, Addr among them
	Password string
	Timeout  time.Duration // connection setup limit, 0 = none
}

// hello is exchanged once on every new connection.
type hello struct {
	Password string
	Rank     int
}

// frame is the unit on the wire. Data frames travel on the dialled
// connection, acknowledgements come back on the same connection.
type frame struct {
	Tag      int
	Bytes    []byte
	Mismatch bool
}

// conn owns the gob stream of one TCP connection.
type conn struct {
	c   net.Conn
	enc *gob.Encoder
	dec *gob.Decoder
	mu  sync.Mutex
}

func newConn(c net.Conn) *conn {
	return &conn{c: c, enc: gob.NewEncoder(c), dec: gob.NewDecoder(c)}
}

func (c *conn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(v)
}

type peer struct {
	dial   *conn // we send data here and read acks
	listen *conn // we read data here and write acks
	inbox  *mailbox
	acks   *mailbox
}

// Network is a TCP transport with an all-to-all connection between the
// participants. The rank of a participant is the position of its address in
// the sorted address list.
type Network struct {
	cfg    NetworkConfig
	addrs  []string
	rank   int
	peers  []*peer
	logger *zap.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ core.Transport = (*Network)(nil)

// Dial connects to every other participant and returns once the group is
// fully connected.
func Dial(ctx context.Context, cfg NetworkConfig, logger *zap.Logger) (*Network, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	addrs := slices.Clone(cfg.Addrs)
	slices.Sort(addrs)
	for i := 0; i+1 < len(addrs); i++ {
		if addrs[i] == addrs[i+1] {
			return nil, fmt.Errorf("%w: %s listed twice", ErrAddress, addrs[i])
		}
	}
	rank, ok := slices.BinarySearch(addrs, cfg.Addr)
	if !ok {
		return nil, fmt.Errorf("%w: local address %s not in list", ErrAddress, cfg.Addr)
	}

	n := &Network{
		cfg:    cfg,
		addrs:  addrs,
		rank:   rank,
		peers:  make([]*peer, len(addrs)),
		logger: logger.With(zap.Int("rank", rank)),
	}
	for i := range n.peers {
		n.peers[i] = &peer{inbox: newMailbox(), acks: newMailbox()}
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := n.connect(ctx); err != nil {
		n.Close()
		return nil, err
	}

	for i, p := range n.peers {
		if i == rank {
			continue
		}
		n.wg.Add(2)
		go n.read(p.listen, p.inbox)
		go n.read(p.dial, p.acks)
	}
	n.logger.Debug("network connected", zap.Int("size", len(addrs)))
	return n, nil
}

func (n *Network) connect(ctx context.Context) error {
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", n.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer listener.Close()

	g, ctx := errgroup.WithContext(ctx)
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	g.Go(func() error { return n.accept(ctx, listener) })
	for i := range n.addrs {
		if i == n.rank {
			continue
		}
		g.Go(func() error { return n.dial(ctx, i) })
	}
	return g.Wait()
}

func (n *Network) accept(ctx context.Context, listener net.Listener) error {
	var g errgroup.Group
	for i := 0; i < len(n.addrs)-1; i++ {
		c, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}
		g.Go(func() error {
			pc := newConn(c)
			var h hello
			if err := pc.dec.Decode(&h); err != nil {
				c.Close()
				return fmt.Errorf("read hello: %w", err)
			}
			rank, err := n.checkHello(h)
			if err != nil {
				c.Close()
				return err
			}
			n.peers[rank].listen = pc
			return pc.write(hello{Password: n.cfg.Password, Rank: n.rank})
		})
	}
	return g.Wait()
}

func (n *Network) dial(ctx context.Context, rank int) error {
	var d net.Dialer
	var c net.Conn
	for {
		var err error
		c, err = d.DialContext(ctx, "tcp", n.addrs[rank])
		if err == nil {
			break
		}
		n.logger.Debug("dial failed, retrying", zap.String("addr", n.addrs[rank]), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("dial %s: %w", n.addrs[rank], err)
		case <-time.After(dialRetryInterval):
		}
	}

	pc := newConn(c)
	if err := pc.write(hello{Password: n.cfg.Password, Rank: n.rank}); err != nil {
		c.Close()
		return fmt.Errorf("write hello: %w", err)
	}
	var h hello
	if err := pc.dec.Decode(&h); err != nil {
		c.Close()
		return fmt.Errorf("read hello: %w", err)
	}
	got, err := n.checkHello(h)
	if err != nil {
		c.Close()
		return err
	}
	if got != rank {
		c.Close()
		return fmt.Errorf("%w: dialled %d, answered by %d", core.ErrBadRank, rank, got)
	}
	n.peers[rank].dial = pc
	return nil
}

func (n *Network) checkHello(h hello) (int, error) {
	if h.Password != n.cfg.Password {
		return -1, ErrBadPassword
	}
	if err := core.CheckPeer(n.rank, h.Rank, len(n.addrs)); err != nil {
		return -1, err
	}
	return h.Rank, nil
}

// read feeds frames from c into box until the connection fails.
func (n *Network) read(c *conn, box *mailbox) {
	defer n.wg.Done()
	for {
		var f frame
		if err := c.dec.Decode(&f); err != nil {
			box.close(fmt.Errorf("%w: %v", core.ErrClosed, err))
			return
		}
		var ferr error
		if f.Mismatch {
			ferr = fmt.Errorf("%w: tag %d rejected by receiver", core.ErrSizeMismatch, f.Tag)
		}
		if err := box.push(&envelope{tag: f.Tag, data: f.Bytes, err: ferr}); err != nil {
			return
		}
	}
}

// Close shuts every connection down and waits for the readers to exit.
func (n *Network) Close() error {
	var errs []error
	n.closeOnce.Do(func() {
		for _, p := range n.peers {
			for _, c := range []*conn{p.dial, p.listen} {
				if c != nil {
					if err := c.c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
						errs = append(errs, err)
					}
				}
			}
		}
		n.wg.Wait()
	})
	return errors.Join(errs...)
}

func (n *Network) Rank() int { return n.rank }
func (n *Network) Size() int { return len(n.addrs) }

// Send writes buf to dest and blocks until dest acknowledged it.
func (n *Network) Send(ctx context.Context, dest, tag int, buf []byte) error {
	if err := core.CheckPeer(n.rank, dest, len(n.addrs)); err != nil {
		return err
	}
	p := n.peers[dest]
	if err := p.dial.write(frame{Tag: tag, Bytes: buf}); err != nil {
		return fmt.Errorf("send to %d: %w", dest, err)
	}
	ack, err := p.acks.take(ctx, tag)
	if err != nil {
		return err
	}
	return ack.err
}

// Receive waits for a frame with tag from source, copies it into buf and
// acknowledges it.
func (n *Network) Receive(ctx context.Context, source, tag int, buf []byte) error {
	if err := core.CheckPeer(n.rank, source, len(n.addrs)); err != nil {
		return err
	}
	p := n.peers[source]
	e, err := p.inbox.take(ctx, tag)
	if err != nil {
		return err
	}

	var rerr error
	if len(e.data) != len(buf) {
		rerr = fmt.Errorf("%w: tag %d from %d has %d bytes, want %d",
			core.ErrSizeMismatch, tag, source, len(e.data), len(buf))
	} else {
		copy(buf, e.data)
	}
	if err := p.listen.write(frame{Tag: tag, Mismatch: rerr != nil}); err != nil {
		return errors.Join(rerr, fmt.Errorf("ack to %d: %w", source, err))
	}
	return rerr
}

func (n *Network) SendAsync(ctx context.Context, dest, tag int, buf []byte) core.Request {
	return core.Go(func() error { return n.Send(ctx, dest, tag, buf) })
}

func (n *Network) ReceiveAsync(ctx context.Context, source, tag int, buf []byte) core.Request {
	return core.Go(func() error { return n.Receive(ctx, source, tag, buf) })
}

// Barrier is centralized at rank 0: every other rank reports in, then rank 0
// releases them.
func (n *Network) Barrier(ctx context.Context) error {
	if n.rank != 0 {
		if err := n.Send(ctx, 0, barrierTag, nil); err != nil {
			return fmt.Errorf("barrier enter: %w", err)
		}
		if err := n.Receive(ctx, 0, barrierTag, nil); err != nil {
			return fmt.Errorf("barrier release: %w", err)
		}
		return nil
	}

	reqs := make([]core.Request, 0, len(n.addrs)-1)
	for i := 1; i < len(n.addrs); i++ {
		reqs = append(reqs, n.ReceiveAsync(ctx, i, barrierTag, nil))
	}
	if err := core.WaitAll(reqs...); err != nil {
		return fmt.Errorf("barrier enter: %w", err)
	}
	reqs = reqs[:0]
	for i := 1; i < len(n.addrs); i++ {
		reqs = append(reqs, n.SendAsync(ctx, i, barrierTag, nil))
	}
	if err := core.WaitAll(reqs...); err != nil {
		return fmt.Errorf("barrier release: %w", err)
	}
	return nil
}
