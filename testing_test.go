package xmemcache

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pior/xmemcache/internal/testutils"
)

// fastReconnect keeps reconnection tests short.
func fastReconnect(config Config) Config {
	if config.ReconnectMinInterval == 0 {
		config.ReconnectMinInterval = 10 * time.Millisecond
	}
	if config.ReconnectMaxInterval == 0 {
		config.ReconnectMaxInterval = 50 * time.Millisecond
	}
	return config
}

func newTestClient(t testing.TB, config Config, servers ...*testutils.FakeServer) *Client {
	t.Helper()

	list := make([]Server, len(servers))
	for i, s := range servers {
		list[i] = Server{Addr: s.Addr()}
	}

	client, err := NewClient(list, fastReconnect(config))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// newPipeClient connects a client to fake through in-memory pipes whose reads
// return at most readChunk bytes.
func newPipeClient(t testing.TB, config Config, fake *testutils.FakeServer, readChunk int) *Client {
	t.Helper()

	config.dial = func(string) (net.Conn, error) {
		return testutils.Pipe(fake, readChunk), nil
	}
	client, err := NewClient([]Server{{Addr: "pipe:11211"}}, fastReconnect(config))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testContext(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func requireFound(t testing.TB, client *Client, key, expected string) {
	t.Helper()
	item, err := client.Get(testContext(t), key)
	require.NoError(t, err)
	require.True(t, item.Found, "key %q should be found", key)
	require.Equal(t, expected, string(item.Value))
}

func requireMissing(t testing.TB, client *Client, key string) {
	t.Helper()
	item, err := client.Get(testContext(t), key)
	require.NoError(t, err)
	require.False(t, item.Found, "key %q should be missing", key)
}

// waitUntil polls cond until it holds or the timeout expires.
func waitUntil(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, timeout, 5*time.Millisecond, msg)
}
