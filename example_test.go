package xmemcache_test

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pior/xmemcache"
)

func Example() {
	client, err := xmemcache.NewClient(xmemcache.StaticServers("localhost:11211"), xmemcache.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()

	err = client.Set(ctx, xmemcache.Item{Key: "greeting", Value: []byte("hello"), TTL: time.Hour})
	if err != nil {
		log.Printf("Set failed: %v", err)
		return
	}

	item, err := client.Get(ctx, "greeting")
	if err != nil {
		log.Printf("Get failed: %v", err)
		return
	}
	if item.Found {
		fmt.Printf("Got value: %s\n", item.Value)
	}
}

func ExampleClient_GetMulti() {
	client, err := xmemcache.NewClient(xmemcache.StaticServers("localhost:11211", "localhost:11212"), xmemcache.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	// one pipelined get per server
	items, err := client.GetMulti(context.Background(), []string{"user:1", "user:2", "user:3"})
	if err != nil {
		log.Printf("GetMulti failed: %v", err)
		return
	}
	for key, item := range items {
		fmt.Printf("%s = %s\n", key, item.Value)
	}
}

func ExampleClient_CAS() {
	client, err := xmemcache.NewClient(xmemcache.StaticServers("localhost:11211"), xmemcache.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ok, err := client.CAS(context.Background(), "visits", xmemcache.NoTTL, xmemcache.CASOperation{
		MaxTries: 10,
		NewValue: func(_ uint64, current []byte) ([]byte, error) {
			n, err := strconv.Atoi(string(current))
			if err != nil {
				return nil, err
			}
			return []byte(strconv.Itoa(n * 2)), nil
		},
	})
	if err != nil {
		log.Printf("CAS failed: %v", err)
		return
	}
	fmt.Println("stored:", ok)
}

func ExampleConfig() {
	servers, err := xmemcache.ParseServers("10.0.0.1:11211=2 10.0.0.2:11211=1")
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	client, err := xmemcache.NewClient(servers, xmemcache.Config{
		Timeout:              200 * time.Millisecond,
		Weighted:             true,
		ConnectionsPerServer: 2,
		HealthCheckInterval:  30 * time.Second,
		Logger:               logger,
		NewCircuitBreaker:    xmemcache.NewCircuitBreakerConfig(3, time.Minute, 10*time.Second),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	fmt.Println(client.AvailableServers())
}

func ExampleTyped() {
	client, err := xmemcache.NewClient(xmemcache.StaticServers("localhost:11211"), xmemcache.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	type session struct {
		UserID int    `json:"user_id"`
		Token  string `json:"token"`
	}

	sessions := xmemcache.NewTyped[session](client,
		xmemcache.NewCompressingTranscoder[session](xmemcache.JSONTranscoder[session]{}))

	ctx := context.Background()
	if err := sessions.Set(ctx, "session:abc", session{UserID: 7, Token: "abc"}, 30*time.Minute); err != nil {
		log.Printf("Set failed: %v", err)
		return
	}

	s, found, err := sessions.Get(ctx, "session:abc")
	if err != nil {
		log.Printf("Get failed: %v", err)
		return
	}
	fmt.Println(found, s.UserID)
}
