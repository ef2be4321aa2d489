package xmemcache

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pior/xmemcache/internal/testutils"
)

func TestNewClient_NoServers(t *testing.T) {
	client, err := NewClient(nil, fastReconnect(Config{}))
	require.NoError(t, err)
	defer client.Close()
	ctx := testContext(t)

	require.Empty(t, client.Servers())
	_, err = client.Get(ctx, "key")
	require.ErrorIs(t, err, ErrNoAvailableSession)

	fake := testutils.NewFakeServer(t)
	fake.Put("key", []byte("value"), 0)
	require.NoError(t, client.AddServer(fake.Addr(), 0))

	waitUntil(t, 2*time.Second, func() bool {
		return len(client.AvailableServers()) == 1
	}, "added server should connect")
	requireFound(t, client, "key", "value")
}

func TestNewClient_UnreachableServer(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	addr := fake.Addr()
	fake.Stop()

	client, err := NewClient([]Server{{Addr: addr}}, fastReconnect(Config{DialTimeout: 100 * time.Millisecond}))
	require.NoError(t, err)
	defer client.Close()

	require.Empty(t, client.AvailableServers())
	_, err = client.Get(testContext(t), "key")
	require.ErrorIs(t, err, ErrNoAvailableSession)
}

func TestClient_SetGetWithExpiry(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	err := client.Set(ctx, Item{Key: "name", Value: []byte("dennis"), TTL: time.Second})
	require.NoError(t, err)
	requireFound(t, client, "name", "dennis")

	time.Sleep(1100 * time.Millisecond)
	requireMissing(t, client, "name")
}

func TestClient_GetMiss(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)

	item, err := client.Get(testContext(t), "absent")
	require.NoError(t, err)
	require.False(t, item.Found)
	require.Equal(t, "absent", item.Key)
	require.Nil(t, item.Value)
}

func TestClient_Flags(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v"), Flags: 42}))

	item, err := client.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, uint32(42), item.Flags)
	require.Zero(t, item.CAS, "plain get has no cas token")
}

func TestClient_IncrementDecrement(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	_, err := client.Increment(ctx, "counter", 1)
	require.ErrorIs(t, err, ErrIncrDecrNotFound)

	require.NoError(t, client.Set(ctx, Item{Key: "counter", Value: []byte("5")}))

	v, err := client.Increment(ctx, "counter", 1)
	require.NoError(t, err)
	require.Equal(t, uint64(6), v)

	v, err = client.Decrement(ctx, "counter", 10)
	require.NoError(t, err)
	require.Equal(t, uint64(0), v, "decrement stops at zero")
}

// A CLIENT_ERROR reply fails only its own command: the connection it shares
// with concurrent reads stays up.
func TestClient_NonNumericIncrementKeepsServer(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	require.NoError(t, client.Set(ctx, Item{Key: "n", Value: []byte("abc")}))
	require.NoError(t, client.Set(ctx, Item{Key: "other", Value: []byte("v")}))

	var wg sync.WaitGroup
	errs := make(chan error, 400)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Increment(ctx, "n", 1)
			var clientErr *ClientError
			if !errors.As(err, &clientErr) {
				errs <- fmt.Errorf("increment: %v", err)
			}
		}()
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				item, err := client.Get(ctx, "other")
				if err != nil || string(item.Value) != "v" {
					errs <- fmt.Errorf("get: %q, %v", item.Value, err)
				}
			}()
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	stats := client.ServerStats()[0]
	require.True(t, stats.Live)
	require.Zero(t, stats.Disconnects)
}

func TestClient_AddIsIdempotent(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	require.NoError(t, client.Add(ctx, Item{Key: "k", Value: []byte("first")}))
	require.ErrorIs(t, client.Add(ctx, Item{Key: "k", Value: []byte("second")}), ErrNotStored)
	requireFound(t, client, "k", "first")
}

func TestClient_ReplaceAppendPrepend(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	require.ErrorIs(t, client.Replace(ctx, Item{Key: "k", Value: []byte("x")}), ErrNotStored)
	require.ErrorIs(t, client.Append(ctx, Item{Key: "k", Value: []byte("x")}), ErrNotStored)

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("mid")}))
	require.NoError(t, client.Append(ctx, Item{Key: "k", Value: []byte("-end")}))
	require.NoError(t, client.Prepend(ctx, Item{Key: "k", Value: []byte("start-")}))
	requireFound(t, client, "k", "start-mid-end")

	require.NoError(t, client.Replace(ctx, Item{Key: "k", Value: []byte("new")}))
	requireFound(t, client, "k", "new")
}

func TestClient_Delete(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	deleted, err := client.Delete(ctx, "k")
	require.NoError(t, err)
	require.False(t, deleted)

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v")}))
	deleted, err = client.Delete(ctx, "k")
	require.NoError(t, err)
	require.True(t, deleted)
	requireMissing(t, client, "k")
}

func TestClient_GetMulti(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	for _, k := range []string{"a", "c"} {
		require.NoError(t, client.Set(ctx, Item{Key: k, Value: []byte("value-" + k)}))
	}

	items, err := client.GetMulti(ctx, []string{"a", "b", "c", "a"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "value-a", string(items["a"].Value))
	require.Equal(t, "value-c", string(items["c"].Value))
	require.NotContains(t, items, "b")

	stats := client.ClientStats()
	require.Equal(t, uint64(4), stats.Gets)
	require.Equal(t, uint64(2), stats.GetHits)
}

func TestClient_GetMultiAcrossServers(t *testing.T) {
	fakes := []*testutils.FakeServer{
		testutils.NewFakeServer(t),
		testutils.NewFakeServer(t),
		testutils.NewFakeServer(t),
	}
	client := newTestClient(t, Config{}, fakes...)
	ctx := testContext(t)

	keys := make([]string, 50)
	for i := range keys {
		keys[i] = "key-" + strconv.Itoa(i)
		require.NoError(t, client.Set(ctx, Item{Key: keys[i], Value: []byte(strconv.Itoa(i))}))
	}

	total := 0
	for _, f := range fakes {
		require.Positive(t, f.Len(), "every server should own some keys")
		total += f.Len()
	}
	require.Equal(t, len(keys), total)

	items, err := client.GetMulti(ctx, keys)
	require.NoError(t, err)
	require.Len(t, items, len(keys))
	for i, k := range keys {
		require.Equal(t, strconv.Itoa(i), string(items[k].Value))
	}
}

func TestClient_GetsAndCompareAndSwap(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	resp, err := client.Gets(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, resp)

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v1"), Flags: 3}))
	resp, err = client.Gets(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.NotZero(t, resp.CAS)
	require.Equal(t, uint32(3), resp.Flags)

	stored, err := client.CompareAndSwap(ctx, Item{Key: "k", Value: []byte("v2"), CAS: resp.CAS})
	require.NoError(t, err)
	require.True(t, stored)

	stored, err = client.CompareAndSwap(ctx, Item{Key: "k", Value: []byte("v3"), CAS: resp.CAS})
	require.NoError(t, err)
	require.False(t, stored, "stale token")
	requireFound(t, client, "k", "v2")

	items, err := client.GetsMulti(ctx, []string{"k"})
	require.NoError(t, err)
	require.NotZero(t, items["k"].CAS)
	require.NotEqual(t, resp.CAS, items["k"].CAS)
}

func TestClient_InvalidKeyFailsBeforeIO(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	before := fake.Commands()

	_, err := client.Get(ctx, "has space")
	require.ErrorIs(t, err, ErrInvalidKey)

	err = client.Set(ctx, Item{Key: strings.Repeat("k", 251), Value: []byte("v")})
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = client.GetMulti(ctx, []string{"ok", "bad\nkey"})
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = client.Delete(ctx, "")
	require.ErrorIs(t, err, ErrInvalidKey)

	err = client.Set(ctx, Item{Key: "big", Value: make([]byte, 2<<20)})
	require.ErrorIs(t, err, ErrValueTooLarge)

	require.Equal(t, before, fake.Commands(), "nothing should reach the server")
}

func TestClient_NoReply(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	require.NoError(t, client.SetNoReply(ctx, Item{Key: "k", Value: []byte("1")}))
	require.NoError(t, client.AppendNoReply(ctx, Item{Key: "k", Value: []byte("0")}))
	require.NoError(t, client.IncrementNoReply(ctx, "k", 5))
	requireFound(t, client, "k", "15")

	require.NoError(t, client.DeleteNoReply(ctx, "k"))
	requireMissing(t, client, "k")

	// noreply failures are silent
	require.NoError(t, client.AddNoReply(ctx, Item{Key: "x", Value: []byte("a")}))
	require.NoError(t, client.AddNoReply(ctx, Item{Key: "x", Value: []byte("b")}))
	requireFound(t, client, "x", "a")

	require.Equal(t, uint64(6), client.ClientStats().NoReplyWrites)
}

func TestClient_DeleteWithExptime(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	var mu sync.Mutex
	var lines []string
	fake.SetHook(func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	})

	fake.Put("k", []byte("v"), 0)
	deleted, err := client.DeleteWithExptime(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = client.DeleteWithExptime(ctx, "k", NoTTL)
	require.NoError(t, err)
	require.False(t, deleted)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"delete k 10", "delete k"}, lines)
}

func TestClient_Concurrent(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{ConnectionsPerServer: 2}, fake)
	ctx := testContext(t)

	var wg sync.WaitGroup
	for g := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				key := "g" + strconv.Itoa(g) + "-" + strconv.Itoa(i)
				value := []byte(strings.Repeat(key, i%7+1))
				if err := client.Set(ctx, Item{Key: key, Value: value}); err != nil {
					t.Error(err)
					return
				}
				item, err := client.Get(ctx, key)
				if err != nil {
					t.Error(err)
					return
				}
				if string(item.Value) != string(value) {
					t.Errorf("key %s: got %q, want %q", key, item.Value, value)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestClient_Close(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client, err := NewClient([]Server{{Addr: fake.Addr()}}, Config{})
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err = client.Get(testContext(t), "k")
	require.ErrorIs(t, err, ErrClientClosed)
	require.ErrorIs(t, client.AddServer("127.0.0.1:1", 1), ErrClientClosed)
}

func TestClient_Broadcast(t *testing.T) {
	a, b := testutils.NewFakeServer(t), testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, a, b)
	ctx := testContext(t)

	versions, err := client.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		a.Addr(): "1.6.21-fake",
		b.Addr(): "1.6.21-fake",
	}, versions)

	stats, err := client.Stats(ctx, "")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, "1.6.21-fake", stats[a.Addr()]["version"])

	a.Put("x", []byte("1"), 0)
	b.Put("y", []byte("2"), 0)
	require.NoError(t, client.FlushAll(ctx, 0))
	require.Zero(t, a.Len())
	require.Zero(t, b.Len())

	require.NoError(t, client.Verbosity(ctx, 1))
	require.NoError(t, client.VerbosityNoReply(ctx, 0))
	require.NoError(t, client.FlushAllNoReply(ctx, 0))
}

func TestExptime(t *testing.T) {
	require.Equal(t, int32(0), exptime(NoTTL))
	require.Equal(t, int32(-1), exptime(-time.Second))
	require.Equal(t, int32(1), exptime(100*time.Millisecond))
	require.Equal(t, int32(2), exptime(1500*time.Millisecond))
	require.Equal(t, int32(60), exptime(time.Minute))
	require.Equal(t, int32(relativeExptimeLimit), exptime(30*24*time.Hour))

	abs := exptime(31 * 24 * time.Hour)
	require.InDelta(t, time.Now().Add(31*24*time.Hour).Unix(), int64(abs), 2)

	// beyond 2038 the absolute time no longer fits and is capped
	require.Equal(t, int32(math.MaxInt32), exptime(15*365*24*time.Hour))
	require.Equal(t, int32(math.MaxInt32), exptime(time.Duration(math.MaxInt64)))
}

func TestClient_FlushAllDelayRoundsUp(t *testing.T) {
	fake := testutils.NewFakeServer(t)
	client := newTestClient(t, Config{}, fake)
	ctx := testContext(t)

	var mu sync.Mutex
	var lines []string
	fake.SetHook(func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	})

	require.NoError(t, client.FlushAll(ctx, 300*time.Millisecond))
	require.NoError(t, client.FlushAll(ctx, 2*time.Second))
	require.NoError(t, client.FlushAll(ctx, 0))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"flush_all 1", "flush_all 2", "flush_all"}, lines)
}
