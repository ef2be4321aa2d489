package xmemcache

import (
	"net"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/pior/xmemcache/text"
)

const (
	DefaultTimeout              = time.Second
	DefaultMaxCASTries          = 16
	DefaultVirtualNodes         = 160
	DefaultConnectionsPerServer = 1
	DefaultDialTimeout          = time.Second
	DefaultReconnectMinInterval = 100 * time.Millisecond
	DefaultReconnectMaxInterval = 10 * time.Second
	DefaultReadBufferSize       = 16 << 10
)

// Config holds configuration for the memcache client.
// The zero value is usable; NewClient fills in the defaults.
type Config struct {
	// Timeout bounds every blocking call whose context has no deadline.
	// Default: 1s.
	Timeout time.Duration

	// MaxCASTries is the number of attempts of the CAS engine when the
	// operation does not set its own. Default: 16.
	MaxCASTries int

	// Weighted selects the weighted hash ring. When false keys are spread
	// uniformly with jump consistent hashing and weights are ignored.
	Weighted bool

	// VirtualNodes is the number of ring points per unit of weight.
	// Only used when Weighted is set. Default: 160.
	VirtualNodes int

	// ConnectionsPerServer is the number of pipelined connections kept to
	// each server. Default: 1.
	ConnectionsPerServer int

	// DialTimeout bounds each connection attempt. Default: 1s.
	DialTimeout time.Duration

	// Dialer is used to create new connections.
	// If nil, a net.Dialer with DialTimeout is used.
	Dialer *net.Dialer

	// ReconnectMinInterval and ReconnectMaxInterval bound the exponential
	// backoff between reconnection attempts to a failed server.
	// Defaults: 100ms and 10s.
	ReconnectMinInterval time.Duration
	ReconnectMaxInterval time.Duration

	// HealthCheckInterval is how often idle connections are probed with a
	// version command. Zero disables health checks.
	HealthCheckInterval time.Duration

	// ReadBufferSize is the initial size of each connection's read buffer.
	// Default: 16KiB.
	ReadBufferSize int

	// MaxValueSize rejects larger values before any I/O. Default: 1MiB.
	MaxValueSize int

	// BufferAllocator supplies request buffers.
	// If nil, a sync.Pool backed allocator is used.
	BufferAllocator text.BufferAllocator

	// Logger receives connection lifecycle events. Default: no-op.
	Logger *zap.Logger

	// NewCircuitBreaker creates a circuit breaker for a server.
	// Called once per server address when the server is added.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(serverAddr string) *gobreaker.CircuitBreaker[struct{}]

	// dial replaces the network dial, for tests.
	dial func(addr string) (net.Conn, error)
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxCASTries <= 0 {
		c.MaxCASTries = DefaultMaxCASTries
	}
	if c.VirtualNodes <= 0 {
		c.VirtualNodes = DefaultVirtualNodes
	}
	if c.ConnectionsPerServer <= 0 {
		c.ConnectionsPerServer = DefaultConnectionsPerServer
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{Timeout: c.DialTimeout}
	}
	if c.ReconnectMinInterval <= 0 {
		c.ReconnectMinInterval = DefaultReconnectMinInterval
	}
	if c.ReconnectMaxInterval < c.ReconnectMinInterval {
		c.ReconnectMaxInterval = max(DefaultReconnectMaxInterval, c.ReconnectMinInterval)
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.MaxValueSize <= 0 {
		c.MaxValueSize = text.DefaultMaxValueSize
	}
	if c.BufferAllocator == nil {
		c.BufferAllocator = text.DefaultAllocator
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
