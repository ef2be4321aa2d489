package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pior/xmemcache"
)

func main() {
	servers := flag.String("servers", "127.0.0.1:11211", "server list, \"host:port[=weight] ...\"")
	weighted := flag.Bool("weighted", false, "use the weighted hash ring")
	timeout := flag.Duration("timeout", time.Second, "per command timeout")
	verbose := flag.Bool("v", false, "log connection events")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			fmt.Printf("Failed to create logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer logger.Sync()

	list, err := xmemcache.ParseServers(*servers)
	if err != nil {
		fmt.Printf("Invalid servers: %v\n", err)
		os.Exit(1)
	}

	client, err := xmemcache.NewClient(list, xmemcache.Config{
		Timeout:  *timeout,
		Weighted: *weighted,
		Logger:   logger,
	})
	if err != nil {
		fmt.Printf("Failed to create client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	fmt.Println("Memcache CLI Tool")
	fmt.Println("================")
	fmt.Printf("Connected to: %v\n", client.AvailableServers())
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		command := strings.ToLower(parts[0])
		ctx := context.Background()

		switch command {
		case "get":
			if len(parts) != 2 {
				fmt.Println("Usage: get <key>")
				continue
			}
			handleGet(ctx, client, parts[1])

		case "gets":
			if len(parts) != 2 {
				fmt.Println("Usage: gets <key>")
				continue
			}
			handleGets(ctx, client, parts[1])

		case "set", "add", "replace", "append", "prepend":
			if len(parts) < 3 || len(parts) > 4 {
				fmt.Printf("Usage: %s <key> <value> [ttl_seconds]\n", command)
				continue
			}
			ttl, ok := parseTTL(parts[3:])
			if !ok {
				continue
			}
			handleStore(ctx, client, command, xmemcache.Item{Key: parts[1], Value: []byte(parts[2]), TTL: ttl})

		case "delete", "del":
			if len(parts) != 2 {
				fmt.Println("Usage: delete <key>")
				continue
			}
			handleDelete(ctx, client, parts[1])

		case "multi-get", "mget":
			if len(parts) < 2 {
				fmt.Println("Usage: mget <key1> <key2> ...")
				continue
			}
			handleMultiGet(ctx, client, parts[1:])

		case "incr", "decr":
			if len(parts) < 2 || len(parts) > 3 {
				fmt.Printf("Usage: %s <key> [delta]\n", command)
				continue
			}
			delta := uint64(1)
			if len(parts) == 3 {
				d, err := strconv.ParseUint(parts[2], 10, 64)
				if err != nil {
					fmt.Printf("Invalid delta: %v\n", err)
					continue
				}
				delta = d
			}
			handleArithmetic(ctx, client, command, parts[1], delta)

		case "cas":
			if len(parts) != 3 {
				fmt.Println("Usage: cas <key> <suffix>")
				continue
			}
			handleCAS(ctx, client, parts[1], parts[2])

		case "stats":
			item := ""
			if len(parts) > 1 {
				item = parts[1]
			}
			handleStats(ctx, client, item)

		case "version", "ping":
			handleVersion(ctx, client)

		case "flush", "flush_all":
			handleFlush(ctx, client)

		case "servers":
			handleServers(client)

		case "help":
			fmt.Println("Commands:")
			fmt.Println("  get <key>                   - Get a value by key")
			fmt.Println("  gets <key>                  - Get a value with its cas token")
			fmt.Println("  set <key> <value> [ttl]     - Store a value (also add, replace, append, prepend)")
			fmt.Println("  delete <key>                - Delete a key")
			fmt.Println("  mget <key1> <key2>          - Get multiple keys at once")
			fmt.Println("  incr|decr <key> [delta]     - Change a counter")
			fmt.Println("  cas <key> <suffix>          - Append suffix with a compare-and-swap loop")
			fmt.Println("  stats [item]                - Show server statistics")
			fmt.Println("  version                     - Show server versions")
			fmt.Println("  flush                       - Invalidate all items")
			fmt.Println("  servers                     - Show client side server state")
			fmt.Println("  quit                        - Exit the CLI")

		case "quit", "exit":
			fmt.Println("Goodbye!")
			return

		default:
			fmt.Printf("Unknown command: %s. Type 'help' for available commands.\n", command)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

func parseTTL(args []string) (time.Duration, bool) {
	if len(args) == 0 {
		return xmemcache.NoTTL, true
	}
	secs, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Printf("Invalid TTL: %v\n", err)
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func handleGet(ctx context.Context, client *xmemcache.Client, key string) {
	start := time.Now()
	item, err := client.Get(ctx, key)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	if !item.Found {
		fmt.Printf("Key not found (took %v)\n", duration)
		return
	}

	fmt.Printf("Value: %s (took %v)\n", item.Value, duration)
	if item.Flags != 0 {
		fmt.Printf("Flags: %d\n", item.Flags)
	}
}

func handleGets(ctx context.Context, client *xmemcache.Client, key string) {
	start := time.Now()
	resp, err := client.Gets(ctx, key)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	if resp == nil {
		fmt.Printf("Key not found (took %v)\n", duration)
		return
	}
	fmt.Printf("Value: %s, flags: %d, cas: %d (took %v)\n", resp.Value, resp.Flags, resp.CAS, duration)
}

func handleStore(ctx context.Context, client *xmemcache.Client, command string, item xmemcache.Item) {
	store := map[string]func(context.Context, xmemcache.Item) error{
		"set":     client.Set,
		"add":     client.Add,
		"replace": client.Replace,
		"append":  client.Append,
		"prepend": client.Prepend,
	}[command]

	start := time.Now()
	err := store(ctx, item)
	duration := time.Since(start)

	switch {
	case err == xmemcache.ErrNotStored:
		fmt.Printf("Not stored (took %v)\n", duration)
	case err != nil:
		fmt.Printf("Error: %v (took %v)\n", err, duration)
	default:
		fmt.Printf("Stored successfully (took %v)\n", duration)
	}
}

func handleDelete(ctx context.Context, client *xmemcache.Client, key string) {
	start := time.Now()
	deleted, err := client.Delete(ctx, key)
	duration := time.Since(start)

	switch {
	case err != nil:
		fmt.Printf("Error: %v (took %v)\n", err, duration)
	case !deleted:
		fmt.Printf("Key not found (took %v)\n", duration)
	default:
		fmt.Printf("Deleted successfully (took %v)\n", duration)
	}
}

func handleMultiGet(ctx context.Context, client *xmemcache.Client, keys []string) {
	start := time.Now()
	items, err := client.GetMulti(ctx, keys)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}

	fmt.Printf("Results (took %v):\n", duration)
	for _, key := range keys {
		if item, ok := items[key]; ok {
			fmt.Printf("  %s: %s\n", key, item.Value)
		} else {
			fmt.Printf("  %s: <not found>\n", key)
		}
	}
}

func handleArithmetic(ctx context.Context, client *xmemcache.Client, command, key string, delta uint64) {
	op := client.Increment
	if command == "decr" {
		op = client.Decrement
	}

	start := time.Now()
	v, err := op(ctx, key, delta)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Printf("Value: %d (took %v)\n", v, duration)
}

func handleCAS(ctx context.Context, client *xmemcache.Client, key, suffix string) {
	start := time.Now()
	ok, err := client.CAS(ctx, key, xmemcache.NoTTL, xmemcache.CASOperation{
		NewValue: func(_ uint64, current []byte) ([]byte, error) {
			return append(current, suffix...), nil
		},
	})
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Printf("Stored: %v (took %v)\n", ok, duration)
}

func handleStats(ctx context.Context, client *xmemcache.Client, item string) {
	stats, err := client.Stats(ctx, item)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	for addr, values := range stats {
		fmt.Printf("Server %s:\n", addr)
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %s: %s\n", name, values[name])
		}
	}

	cs := client.ClientStats()
	fmt.Printf("Client: gets=%d hits=%d sets=%d deletes=%d errors=%d timeouts=%d\n",
		cs.Gets, cs.GetHits, cs.Sets, cs.Deletes, cs.Errors, cs.Timeouts)
}

func handleVersion(ctx context.Context, client *xmemcache.Client) {
	start := time.Now()
	versions, err := client.Version(ctx)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	for addr, v := range versions {
		fmt.Printf("  %s: %s\n", addr, v)
	}
	fmt.Printf("(took %v)\n", duration)
}

func handleFlush(ctx context.Context, client *xmemcache.Client) {
	if err := client.FlushAll(ctx, 0); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("Flushed")
}

func handleServers(client *xmemcache.Client) {
	for _, s := range client.ServerStats() {
		fmt.Printf("  %s weight=%d live=%v conns=%d connects=%d disconnects=%d breaker=%q\n",
			s.Addr, s.Weight, s.Live, s.OpenConns, s.Connects, s.Disconnects, s.BreakerState)
	}
}
