package xmemcache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/puddle/v2"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/pior/xmemcache/text"
)

// server is the client side state of one memcached server: a pool of
// pipelined sessions, an optional circuit breaker and the reconnect loop.
type server struct {
	addr    string
	weight  int
	size    int
	config  *Config
	factory *text.Factory
	logger  *zap.Logger

	pool    *puddle.Pool[*session]
	breaker *gobreaker.CircuitBreaker[struct{}] // nil if not configured

	live         atomic.Bool
	open         atomic.Int64
	reconnecting atomic.Bool
	closed       atomic.Bool
	stop         chan struct{}

	stats *serverStatsCollector
}

func newServer(s Server, config *Config, factory *text.Factory) (*server, error) {
	srv := &server{
		addr:    s.Addr,
		weight:  s.weight(),
		size:    config.ConnectionsPerServer,
		config:  config,
		factory: factory,
		logger:  config.Logger.Named("server").With(zap.String("addr", s.Addr)),
		stop:    make(chan struct{}),
		stats:   newServerStatsCollector(),
	}

	pool, err := puddle.NewPool(&puddle.Config[*session]{
		Constructor: srv.dialSession,
		Destructor: func(sess *session) {
			sess.close()
		},
		MaxSize: int32(srv.size),
	})
	if err != nil {
		return nil, err
	}
	srv.pool = pool

	if config.NewCircuitBreaker != nil {
		srv.breaker = config.NewCircuitBreaker(s.Addr)
	}
	return srv, nil
}

func (s *server) dial(ctx context.Context) (net.Conn, error) {
	if s.config.dial != nil {
		return s.config.dial(s.addr)
	}
	return s.config.Dialer.DialContext(ctx, "tcp", s.addr)
}

func (s *server) dialSession(ctx context.Context) (*session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.DialTimeout)
	defer cancel()

	conn, err := s.dial(ctx)
	if err != nil {
		s.stats.recordDialError()
		return nil, err
	}

	s.open.Inc()
	s.stats.recordConnect()
	s.logger.Debug("connected")

	return newSession(conn, sessionOptions{
		addr:           s.addr,
		readBufferSize: s.config.ReadBufferSize,
		logger:         s.logger,
		onClose:        s.sessionClosed,
	}), nil
}

func (s *server) sessionClosed(_ *session, cause error) {
	s.stats.recordDisconnect()
	if s.open.Dec() > 0 || s.closed.Load() {
		return
	}
	s.markDown(cause)
}

// markDown takes the server out of routing and starts reconnecting.
func (s *server) markDown(cause error) {
	if s.closed.Load() {
		return
	}
	if s.live.CompareAndSwap(true, false) {
		s.logger.Warn("server marked down", zap.Error(cause))
	}
	if s.reconnecting.CompareAndSwap(false, true) {
		go s.reconnectLoop(false)
	}
}

// start connects in the background, the first attempt being immediate.
func (s *server) start() {
	if s.reconnecting.CompareAndSwap(false, true) {
		go s.reconnectLoop(true)
	}
}

// connect makes sure the pool holds at least one open session and puts the
// server back into routing.
func (s *server) connect(ctx context.Context) error {
	for _, res := range s.pool.AcquireAllIdle() {
		if res.Value().isClosed() {
			res.Destroy()
		} else {
			res.ReleaseUnused()
		}
	}

	if s.open.Load() <= 0 {
		if err := s.pool.CreateResource(ctx); err != nil {
			return err
		}
	}
	for i := s.open.Load(); i < int64(s.size); i++ {
		if err := s.pool.CreateResource(ctx); err != nil {
			break
		}
	}

	s.live.Store(true)
	return nil
}

func (s *server) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.ReconnectMinInterval
	b.MaxInterval = s.config.ReconnectMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (s *server) reconnectLoop(immediate bool) {
	b := s.newBackOff()

	for attempt := 1; ; attempt++ {
		wait := time.Duration(0)
		if attempt > 1 || !immediate {
			wait = b.NextBackOff()
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.stop:
			timer.Stop()
			s.reconnecting.Store(false)
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
		err := s.connect(ctx)
		cancel()

		if err == nil {
			s.logger.Info("server connected", zap.Int("attempt", attempt))
			s.stats.recordReconnect()
			s.reconnecting.Store(false)
			// a session may have died between connect and here
			if s.open.Load() <= 0 {
				s.markDown(ErrConnectionLost)
			}
			return
		}

		s.logger.Warn("reconnect failed",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}
}

// acquire picks an open session. The pool resource is released right away:
// sessions are shared and pipelined, the pool only balances between them.
func (s *server) acquire(ctx context.Context) (*session, error) {
	if !s.live.Load() {
		return nil, fmt.Errorf("%w: %s is down", ErrNoAvailableSession, s.addr)
	}

	for range s.size + 1 {
		res, err := s.pool.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, waitError(ctx.Err())
			}
			if errors.Is(err, puddle.ErrClosedPool) {
				return nil, fmt.Errorf("%w: %s was removed", ErrNoAvailableSession, s.addr)
			}
			s.markDown(err)
			return nil, fmt.Errorf("%w: %s: %w", ErrNoAvailableSession, s.addr, err)
		}

		sess := res.Value()
		if sess.isClosed() {
			res.Destroy()
			continue
		}
		res.Release()
		return sess, nil
	}
	return nil, fmt.Errorf("%w: %s has no open connection", ErrNoAvailableSession, s.addr)
}

// execute sends cmd and waits for its completion, through the circuit
// breaker when one is configured.
func (s *server) execute(ctx context.Context, cmd *text.Command) error {
	if s.breaker == nil {
		return s.roundTrip(ctx, cmd)
	}

	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.roundTrip(ctx, cmd)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %w", ErrNoAvailableSession, s.addr, err)
	}
	return err
}

func (s *server) roundTrip(ctx context.Context, cmd *text.Command) error {
	sess, err := s.acquire(ctx)
	if err != nil {
		return err
	}

	if err := sess.send(cmd); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectionLost, s.addr, err)
	}

	if err := cmd.Wait(ctx); err != nil {
		err = waitError(err)
		if isConnectionFailure(err) {
			s.stats.recordFailure()
		}
		return err
	}
	return nil
}

// healthCheck probes sessions idle for longer than idle with a version
// command and closes the ones that do not answer.
func (s *server) healthCheck(idle, timeout time.Duration) {
	if !s.live.Load() {
		return
	}

	var probe []*session
	for _, res := range s.pool.AcquireAllIdle() {
		sess := res.Value()
		if sess.isClosed() {
			res.Destroy()
			continue
		}
		if sess.idle() >= idle && sess.pending() == 0 {
			probe = append(probe, sess)
		}
		res.ReleaseUnused()
	}

	for _, sess := range probe {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		cmd := s.factory.Version()
		err := sess.send(cmd)
		if err == nil {
			err = cmd.Wait(ctx)
		}
		cancel()

		if err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			sess.shutdown(fmt.Errorf("health check: %w", waitError(err)))
		}
	}
}

func (s *server) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.live.Store(false)
	close(s.stop)
	s.pool.Close()
}

func (s *server) Stats() ServerStats {
	st := s.pool.Stat()
	out := s.stats.snapshot()
	out.Addr = s.addr
	out.Weight = s.weight
	out.Live = s.live.Load()
	out.OpenConns = int32(s.open.Load())
	out.PoolConns = st.TotalResources()
	out.AcquireCount = uint64(st.AcquireCount())
	out.AcquireWaitCount = uint64(st.EmptyAcquireCount())
	if s.breaker != nil {
		out.BreakerState = s.breaker.State().String()
	}
	return out
}
