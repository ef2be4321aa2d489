package xmemcache

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/pior/xmemcache/text"
)

// NoTTL represents an infinite TTL (no expiration).
// Use this constant when you want items to persist indefinitely in memcache.
const NoTTL = 0

// relativeExptimeLimit is the largest exptime memcached treats as relative.
const relativeExptimeLimit = 60 * 60 * 24 * 30

type Item struct {
	Key   string
	Value []byte
	Flags uint32
	TTL   time.Duration
	CAS   uint64 // set by Gets and GetsMulti, used by CompareAndSwap
	Found bool   // indicates whether the key was found in cache
}

// GetsResponse is a value read together with its cas token.
type GetsResponse struct {
	Value []byte
	Flags uint32
	CAS   uint64
}

// Client is a memcached text protocol client. It routes each key to one
// server and pipelines commands over a few connections per server.
// A Client is safe for concurrent use.
type Client struct {
	config  Config
	factory *text.Factory
	router  *router
	logger  *zap.Logger
	stats   *clientStatsCollector
	closed  atomic.Bool
}

// NewClient creates a client for the given servers and tries to connect to
// all of them. Unreachable servers do not fail the call: they are retried in
// the background and their keys fail with ErrNoAvailableSession meanwhile.
// The list may be empty, servers can be added later with AddServer.
func NewClient(servers []Server, config Config) (*Client, error) {
	c := &Client{
		config: config.withDefaults(),
		stats:  newClientStatsCollector(),
	}
	c.logger = c.config.Logger
	c.factory = text.NewFactory(c.config.BufferAllocator, c.config.MaxValueSize)
	c.router = newRouter(&c.config, c.factory)

	if err := c.router.bootstrap(servers); err != nil {
		c.router.close()
		return nil, err
	}

	c.logger.Debug("client started",
		zap.Int("servers", len(servers)),
		zap.Bool("weighted", c.config.Weighted),
		zap.Int("connectionsPerServer", c.config.ConnectionsPerServer))
	return c, nil
}

// Close shuts the client down. Commands in flight fail with ErrConnectionLost
// and later calls fail with ErrClientClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.router.close()
	c.logger.Debug("client closed")
	return nil
}

// AddServer adds a server at runtime. Connection happens in the background;
// keys placed on it fail with ErrNoAvailableSession until it is connected.
func (c *Client) AddServer(addr string, weight int) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.router.addServer(Server{Addr: addr, Weight: weight})
}

// RemoveServer removes a server and closes its connections.
func (c *Client) RemoveServer(addr string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.router.removeServer(addr)
}

// Servers returns the configured servers, connected or not.
func (c *Client) Servers() []Server {
	servers := c.router.servers()
	list := make([]Server, len(servers))
	for i, s := range servers {
		list[i] = Server{Addr: s.addr, Weight: s.weight}
	}
	return list
}

// AvailableServers returns the addresses of the servers currently connected.
func (c *Client) AvailableServers() []string {
	var addrs []string
	for _, s := range c.router.servers() {
		if s.live.Load() {
			addrs = append(addrs, s.addr)
		}
	}
	return addrs
}

// ClientStats returns a snapshot of the client counters.
func (c *Client) ClientStats() ClientStats {
	return c.stats.snapshot()
}

// ServerStats returns a snapshot for every configured server.
func (c *Client) ServerStats() []ServerStats {
	servers := c.router.servers()
	stats := make([]ServerStats, len(servers))
	for i, s := range servers {
		stats[i] = s.Stats()
	}
	return stats
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

func (c *Client) route(key string) (*server, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	srv, err := c.router.route(key)
	if err != nil {
		c.stats.recordError(err)
		return nil, err
	}
	return srv, nil
}

// do runs one command on srv, bounded by the configured timeout when ctx has no deadline.
func (c *Client) do(ctx context.Context, srv *server, cmd *text.Command) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := srv.execute(ctx, cmd)
	if err != nil {
		c.stats.recordError(err)
		if isTimeout(err) {
			c.logger.Debug("command timed out",
				zap.String("addr", srv.addr),
				zap.Stringer("kind", cmd.Kind),
				zap.Bool("written", cmd.Written()))
		}
		return err
	}
	if cmd.NoReply {
		c.stats.recordNoReply()
	}
	return nil
}

// run routes and runs a keyed command.
func (c *Client) run(ctx context.Context, cmd *text.Command, buildErr error) error {
	if buildErr != nil {
		c.stats.recordError(buildErr)
		return buildErr
	}
	srv, err := c.route(cmd.Key())
	if err != nil {
		return err
	}
	return c.do(ctx, srv, cmd)
}

// exptime converts a TTL to the protocol exptime: seconds when under 30
// days, an absolute unix time beyond, capped at the largest 32-bit time.
func exptime(ttl time.Duration) int32 {
	if ttl == NoTTL {
		return 0
	}
	if ttl < 0 {
		return -1
	}
	secs := ceilSeconds(ttl)
	if secs <= relativeExptimeLimit {
		return int32(secs)
	}
	return int32(min(time.Now().Unix()+secs, math.MaxInt32))
}

// ceilSeconds rounds d up to whole seconds.
func ceilSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	return secs
}

func (c *Client) String() string {
	return fmt.Sprintf("xmemcache.Client(%v)", c.AvailableServers())
}
