package xmemcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pior/xmemcache/internal/testutils"
)

func TestRouter_RemoveAndReAddOnlyServer(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v")}))

	require.NoError(t, client.RemoveServer(fake.Addr()))
	require.Empty(t, client.Servers())

	_, err := client.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNoAvailableSession)

	require.NoError(t, client.AddServer(fake.Addr(), 1))
	waitUntil(t, 2*time.Second, func() bool {
		return len(client.AvailableServers()) == 1
	}, "server should connect in the background")

	requireFound(t, client, "k", "v")
}

func TestRouter_AddRemoveErrors(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)

	require.ErrorIs(t, client.AddServer(fake.Addr(), 1), ErrServerExists)
	require.ErrorIs(t, client.RemoveServer("127.0.0.1:1"), ErrServerNotFound)

	_, err := NewClient([]Server{{Addr: fake.Addr()}, {Addr: fake.Addr()}}, Config{})
	require.ErrorIs(t, err, ErrServerExists)
}

func TestRouter_ReconnectAfterRestart(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v")}))
	accepted := fake.Accepted()

	fake.Stop()
	waitUntil(t, time.Second, func() bool {
		return len(client.AvailableServers()) == 0
	}, "server should be marked down")

	_, err := client.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNoAvailableSession)

	time.Sleep(100 * time.Millisecond) // let a few reconnect attempts fail
	require.NoError(t, fake.Restart())
	waitUntil(t, 2*time.Second, func() bool {
		return len(client.AvailableServers()) == 1
	}, "server should reconnect")

	requireFound(t, client, "k", "v")
	require.Greater(t, fake.Accepted(), accepted)

	stats := client.ServerStats()
	require.Len(t, stats, 1)
	assert.True(t, stats[0].Live)
	assert.GreaterOrEqual(t, stats[0].Reconnects, uint64(1))
	assert.GreaterOrEqual(t, stats[0].Disconnects, uint64(1))
	assert.GreaterOrEqual(t, stats[0].DialErrors, uint64(1))
}

func TestRouter_FailedServerKeepsItsKeys(t *testing.T) {
	a, b := testutils.NewFakeServer(t), testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, a, b)
	ctx := testContext(t)

	keys := testKeys(40)
	for _, key := range keys {
		require.NoError(t, client.Set(ctx, Item{Key: key, Value: []byte(key)}))
	}

	b.Stop()
	waitUntil(t, time.Second, func() bool {
		return len(client.AvailableServers()) == 1
	}, "b should be marked down")

	var onA, onB int
	for _, key := range keys {
		item, err := client.Get(ctx, key)
		if _, ok := a.Lookup(key); ok {
			require.NoError(t, err)
			require.Equal(t, key, string(item.Value))
			onA++
		} else {
			require.ErrorIs(t, err, ErrNoAvailableSession, "keys of a down server are not remapped")
			onB++
		}
	}
	require.Positive(t, onA)
	require.Positive(t, onB)

	_, err := client.GetMulti(ctx, keys)
	require.ErrorIs(t, err, ErrNoAvailableSession)
}

func TestRouter_WeightedPlacement(t *testing.T) {
	light, heavy := testutils.NewFakeServer(t), testutils.NewFakeServer(t)

	client, err := NewClient([]Server{
		{Addr: light.Addr(), Weight: 1},
		{Addr: heavy.Addr(), Weight: 3},
	}, Config{Weighted: true})
	require.NoError(t, err)
	defer client.Close()
	ctx := testContext(t)

	const n = 400
	for _, key := range testKeys(n) {
		require.NoError(t, client.Set(ctx, Item{Key: key, Value: []byte("v")}))
	}

	assert.Equal(t, n, light.Len()+heavy.Len())
	assert.InDelta(t, n/4, light.Len(), n*0.1)
	assert.InDelta(t, 3*n/4, heavy.Len(), n*0.1)
}

func TestRouter_ConnectionsPerServer(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{ConnectionsPerServer: 3}, fake)

	waitUntil(t, time.Second, func() bool {
		return fake.Accepted() == 3
	}, "the pool should be filled")

	stats := client.ServerStats()[0]
	assert.Equal(t, int32(3), stats.OpenConns)
	assert.Equal(t, int32(3), stats.PoolConns)
}

func TestRouter_HealthCheckProbesIdleSessions(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	newTestClient(t, Config{HealthCheckInterval: 20 * time.Millisecond}, fake)

	waitUntil(t, 2*time.Second, func() bool {
		return fake.Commands() >= 2
	}, "idle sessions should be probed")
}

func TestRouter_LogsServerDown(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{Logger: zap.New(core)}, fake)

	fake.Stop()
	waitUntil(t, time.Second, func() bool {
		return logs.FilterMessage("server marked down").Len() > 0
	}, "server down should be logged")

	entry := logs.FilterMessage("server marked down").All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, fake.Addr(), entry.ContextMap()["addr"])
	require.NotNil(t, client)
}
