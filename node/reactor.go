//go:build linux
// +build linux

package node

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fzft/go-echo-poll/log"
	"github.com/fzft/go-echo-poll/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultMaxEvents = 1024

	minSweepInterval = 10 * time.Millisecond

	// how long the listener stays muted after accept ran out of resources,
	// unless a connection closes first
	acceptBackoff = 100 * time.Millisecond
)

// Options tunes a Reactor. Zero values pick the defaults, except
// MaxOutputBuffer where 0 means unlimited and IdleTimeout where 0 disables
// the idle sweep.
type Options struct {
	MaxEvents       int
	ReadBufferSize  int
	MaxOutputBuffer int
	IdleTimeout     time.Duration
}

// Reactor is the single threaded event loop: one epoll instance, one
// listener and the table of connections accepted from it. Everything but
// Stop, ConnCount, Addr and Done must be called from the goroutine running
// Run.
type Reactor struct {
	opts     Options
	poller   *Poller
	table    *ConnTable
	handler  *ConnHandler
	acceptor *Acceptor
	lnFd     int
	addr     *net.TCPAddr

	connCnt   int64
	lastSweep time.Time
	done      chan struct{}

	acceptPaused   bool
	acceptResumeAt time.Time

	mu     sync.Mutex // guards closed against Stop racing the shutdown path
	closed bool
}

// NewReactor binds addr and prepares the loop. Nothing is accepted until
// Run is called.
func NewReactor(addr string, opts Options) (*Reactor, error) {
	tcpAddr, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = DefaultMaxEvents
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}

	poller, err := NewPoller(opts.MaxEvents)
	if err != nil {
		return nil, err
	}

	lnFd, bound, err := listenTCP(tcpAddr)
	if err != nil {
		log.Logger.Error("listen error", zap.String("addr", addr), zap.Error(err))
		_ = poller.Close()
		return nil, errors.Wrapf(err, "listen %s", addr)
	}

	if err := poller.RegisterListener(ListenerToken, lnFd); err != nil {
		log.Logger.Error("Failed to add listener to epoll", zap.Error(err))
		_ = CloseFd(lnFd)
		_ = poller.Close()
		return nil, err
	}

	table := NewConnTable()
	r := &Reactor{
		opts:      opts,
		poller:    poller,
		table:     table,
		handler:   NewConnHandler(poller, opts.ReadBufferSize, opts.MaxOutputBuffer),
		acceptor:  NewAcceptor(lnFd, table, poller),
		lnFd:      lnFd,
		addr:      bound,
		lastSweep: time.Now(),
		done:      make(chan struct{}),
	}
	return r, nil
}

// Addr returns the address the listener is bound to.
func (r *Reactor) Addr() *net.TCPAddr {
	return r.addr
}

// ConnCount returns the number of open connections.
func (r *Reactor) ConnCount() int64 {
	return atomic.LoadInt64(&r.connCnt)
}

// Done is closed when Run returns.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

// Stop asks Run to shut down gracefully. Safe to call from any goroutine,
// more than once, and before Run starts.
func (r *Reactor) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrServerStopped
	}
	return r.poller.Wake()
}

// Run polls and dispatches until Stop is called or the poller fails. It
// returns nil after a graceful stop and a *FatalPollError when epoll broke.
func (r *Reactor) Run() error {
	defer close(r.done)
	defer log.Logger.Info("reactor closed")

	events := make([]Event, 0, r.opts.MaxEvents)

	for {
		var err error
		events, err = r.poller.Poll(r.pollTimeout(), events)
		if err != nil {
			log.Logger.Error("epoll wait error", zap.Error(err))
			r.shutdown()
			return err
		}
		if len(events) > 0 {
			metrics.PollBatchSize.Observe(float64(len(events)))
		}

		stop := false
		for _, ev := range events {
			switch ev.Token {
			case WakeToken:
				r.poller.drainWake()
				stop = true
			case ListenerToken:
				n, err := r.acceptor.Accept()
				r.incrFd(n)
				if errors.Is(err, ErrAcceptExhausted) {
					r.pauseAccept()
					continue
				}
				if err != nil {
					log.Logger.Error("listener failed", zap.Error(err))
					r.shutdown()
					return err
				}
			default:
				r.dispatch(ev)
			}
		}

		if stop {
			log.Logger.Info("Received stop signal. Exiting event loop.")
			r.shutdown()
			return nil
		}

		if r.acceptPaused && !time.Now().Before(r.acceptResumeAt) {
			r.resumeAccept()
		}
		r.sweepIdle()
	}
}

// pauseAccept mutes the level-triggered listener so a backlog that cannot
// be accepted does not wake every poll. It is resumed by the next
// connection teardown or after acceptBackoff.
func (r *Reactor) pauseAccept() {
	if r.acceptPaused {
		return
	}
	if err := r.poller.Reregister(ListenerToken, 0); err != nil {
		log.Logger.Error("Failed to pause listener", zap.Error(err))
		return
	}
	r.acceptPaused = true
	r.acceptResumeAt = time.Now().Add(acceptBackoff)
	log.Logger.Warn("accept paused", zap.Duration("backoff", acceptBackoff))
}

func (r *Reactor) resumeAccept() {
	if !r.acceptPaused {
		return
	}
	r.acceptPaused = false
	if err := r.poller.Reregister(ListenerToken, Readable); err != nil {
		log.Logger.Error("Failed to resume listener", zap.Error(err))
		return
	}
	log.Logger.Info("accept resumed")
}

// dispatch hands a connection event to the handler. Events for tokens no
// longer in the table are stale and dropped.
func (r *Reactor) dispatch(ev Event) {
	c, ok := r.table.Get(ev.Token)
	if !ok {
		log.Logger.Debug("stale event", zap.Uint64("token", uint64(ev.Token)))
		return
	}

	r.table.Touch(c, time.Now())
	if teardown, reason := r.handler.Handle(c, ev); teardown {
		r.closeConn(c, reason)
	}
}

// closeConn deregisters, closes and forgets c.
func (r *Reactor) closeConn(c *Conn, reason error) {
	token := c.Token()
	if err := r.poller.Deregister(token); err != nil {
		log.Logger.Debug("deregister failed", zap.Uint64("token", uint64(token)), zap.Error(err))
	}
	if err := c.Close(); err != nil {
		log.Logger.Debug("close failed", zap.Uint64("token", uint64(token)), zap.Error(err))
	}
	r.table.Remove(token)
	r.decrFd()
	// a descriptor was freed
	r.resumeAccept()

	label := closeLabel(reason)
	metrics.ConnectionsClosed.WithLabelValues(label).Inc()
	fields := []zap.Field{zap.Uint64("token", uint64(token)), zap.String("remote", c.Remote()), zap.String("reason", label)}
	if errors.Is(reason, ErrPeerClosed) || errors.Is(reason, ErrServerStopped) {
		log.Logger.Debug("connection closed", fields...)
	} else {
		log.Logger.Info("connection closed", append(fields, zap.Error(reason))...)
	}
}

func closeLabel(reason error) string {
	var ioErr *IOError
	var regErr *RegistrationError
	switch {
	case reason == nil, errors.Is(reason, ErrPeerClosed):
		return "eof"
	case errors.Is(reason, ErrIdleTimeout):
		return "idle"
	case errors.Is(reason, ErrServerStopped):
		return "shutdown"
	case errors.As(reason, &ioErr):
		return ioErr.Op + "_error"
	case errors.As(reason, &regErr):
		return "register_error"
	}
	return "error"
}

// pollTimeout is infinite unless idle connections have to be swept or a
// paused listener has to be resumed.
func (r *Reactor) pollTimeout() time.Duration {
	timeout := r.sweepInterval()
	if r.acceptPaused {
		wait := time.Until(r.acceptResumeAt)
		if wait <= 0 {
			wait = time.Millisecond
		}
		if timeout < 0 || wait < timeout {
			timeout = wait
		}
	}
	return timeout
}

func (r *Reactor) sweepInterval() time.Duration {
	if r.opts.IdleTimeout <= 0 {
		return -1
	}
	interval := r.opts.IdleTimeout / 4
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	return interval
}

func (r *Reactor) sweepIdle() {
	if r.opts.IdleTimeout <= 0 {
		return
	}
	now := time.Now()
	if now.Sub(r.lastSweep) < r.sweepInterval() {
		return
	}
	r.lastSweep = now

	for _, c := range r.table.IdleSince(now.Add(-r.opts.IdleTimeout)) {
		r.closeConn(c, ErrIdleTimeout)
	}
}

// shutdown order: listener, connections, poller.
func (r *Reactor) shutdown() {
	r.acceptPaused = false
	if err := r.poller.Deregister(ListenerToken); err != nil {
		log.Logger.Debug("Failed to delete listener from epoll", zap.Error(err))
	}
	if err := CloseFd(r.lnFd); err != nil {
		log.Logger.Debug("Failed to close listener", zap.Error(err))
	}

	var conns []*Conn
	r.table.Range(func(_ Token, c *Conn) bool {
		conns = append(conns, c)
		return true
	})
	for _, c := range conns {
		// one last non-blocking attempt; whatever is left is dropped
		_ = r.handler.flush(c)
		r.closeConn(c, ErrServerStopped)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if err := r.poller.Close(); err != nil {
		log.Logger.Info("Failed to close epoll", zap.Error(err))
	}
}

func (r *Reactor) incrFd(n int) {
	if n == 0 {
		return
	}
	atomic.AddInt64(&r.connCnt, int64(n))
	metrics.ConnectionsActive.Add(float64(n))
}

func (r *Reactor) decrFd() {
	atomic.AddInt64(&r.connCnt, -1)
	metrics.ConnectionsActive.Dec()
}
