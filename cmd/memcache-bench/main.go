package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/pior/xmemcache"
)

type OperationType string

const (
	CacheHit     OperationType = "cache-hit"
	DynamicValue OperationType = "dynamic-value"
	CacheMiss    OperationType = "cache-miss"
	Increment    OperationType = "increment"
	Delete       OperationType = "delete"
	All          OperationType = "all"
)

type BenchmarkResult struct {
	Operation    OperationType
	Client       string
	Duration     time.Duration
	TotalOps     int64
	Successes    int64
	Failures     int64
	Misses       int64
	Mismatches   int64
	AvgLatency   time.Duration
	OpsPerSecond float64
	ErrorMessage string
}

func (r *BenchmarkResult) Correct() bool {
	return r.ErrorMessage == "" && r.Mismatches == 0
}

// backend is the subset of operations measured, implemented for both clients.
type backend interface {
	name() string
	set(ctx context.Context, key string, value []byte) error
	// get returns found=false on a miss.
	get(ctx context.Context, key string) (value []byte, found bool, err error)
	incr(ctx context.Context, key string) (uint64, error)
	del(ctx context.Context, key string) error
}

type xmemcacheBackend struct{ client *xmemcache.Client }

func (b xmemcacheBackend) name() string { return "xmemcache" }

func (b xmemcacheBackend) set(ctx context.Context, key string, value []byte) error {
	return b.client.Set(ctx, xmemcache.Item{Key: key, Value: value, TTL: time.Hour})
}

func (b xmemcacheBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	item, err := b.client.Get(ctx, key)
	return item.Value, item.Found, err
}

func (b xmemcacheBackend) incr(ctx context.Context, key string) (uint64, error) {
	return b.client.Increment(ctx, key, 1)
}

func (b xmemcacheBackend) del(ctx context.Context, key string) error {
	_, err := b.client.Delete(ctx, key)
	return err
}

type gomemcacheBackend struct{ client *memcache.Client }

func (b gomemcacheBackend) name() string { return "gomemcache" }

func (b gomemcacheBackend) set(_ context.Context, key string, value []byte) error {
	return b.client.Set(&memcache.Item{Key: key, Value: value, Expiration: 3600})
}

func (b gomemcacheBackend) get(_ context.Context, key string) ([]byte, bool, error) {
	item, err := b.client.Get(key)
	if err == memcache.ErrCacheMiss {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return item.Value, true, nil
}

func (b gomemcacheBackend) incr(_ context.Context, key string) (uint64, error) {
	return b.client.Increment(key, 1)
}

func (b gomemcacheBackend) del(_ context.Context, key string) error {
	err := b.client.Delete(key)
	if err == memcache.ErrCacheMiss {
		return nil
	}
	return err
}

func main() {
	var (
		operation   = flag.String("operation", "all", "Operation type: cache-hit, dynamic-value, cache-miss, increment, delete, or all")
		duration    = flag.Duration("duration", 5*time.Second, "Duration to run benchmarks")
		concurrency = flag.Int("concurrency", 1, "Number of concurrent workers")
		servers     = flag.String("servers", "localhost:11211", "Server list, \"host:port[=weight] ...\"")
		conns       = flag.Int("conns", 1, "Connections per server")
		compare     = flag.Bool("compare", false, "Also run each benchmark with gomemcache")
	)
	flag.Parse()

	fmt.Printf("Memcache Benchmark Tool\n")
	fmt.Printf("=======================\n")
	fmt.Printf("Operation: %s\n", *operation)
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Servers: %s\n", *servers)
	fmt.Println()

	list, err := xmemcache.ParseServers(*servers)
	if err != nil {
		log.Fatalf("Invalid servers: %v", err)
	}

	client, err := xmemcache.NewClient(list, xmemcache.Config{
		Timeout:              5 * time.Second,
		ConnectionsPerServer: *conns,
	})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	fmt.Print("Testing connection...")
	if _, err := client.Version(context.Background()); err != nil {
		fmt.Printf(" failed: %v\n", err)
		fmt.Printf("Make sure memcached is running on %s\n", *servers)
		fmt.Printf("You can start it with: docker-compose up -d\n")
		return
	}
	fmt.Println(" success!")
	fmt.Println()

	backends := []backend{xmemcacheBackend{client}}
	if *compare {
		addrs := make([]string, len(list))
		for i, s := range list {
			addrs[i] = s.Addr
		}
		other := memcache.New(addrs...)
		other.MaxIdleConns = *concurrency
		backends = append(backends, gomemcacheBackend{other})
	}

	operations := []OperationType{OperationType(*operation)}
	if operations[0] == All {
		operations = []OperationType{CacheHit, DynamicValue, CacheMiss, Increment, Delete}
	}

	for _, op := range operations {
		for _, b := range backends {
			fmt.Printf("\n--- Running %s benchmark (%s) ---\n", op, b.name())
			printResult(runSingleOperation(b, op, *duration, *concurrency))

			// Short pause between operations
			time.Sleep(500 * time.Millisecond)
		}
	}

	stats := client.ClientStats()
	fmt.Printf("xmemcache client: gets=%d hits=%d sets=%d errors=%d timeouts=%d\n",
		stats.Gets, stats.GetHits, stats.Sets, stats.Errors, stats.Timeouts)
}

func runSingleOperation(b backend, operation OperationType, duration time.Duration, concurrency int) *BenchmarkResult {
	switch operation {
	case CacheHit:
		return runCacheHitBenchmark(b, duration, concurrency)
	case DynamicValue:
		return runDynamicValueBenchmark(b, duration, concurrency)
	case CacheMiss:
		return runCacheMissBenchmark(b, duration, concurrency)
	case Increment:
		return runIncrementBenchmark(b, duration, concurrency)
	case Delete:
		return runDeleteBenchmark(b, duration, concurrency)
	default:
		return &BenchmarkResult{
			Operation:    operation,
			Client:       b.name(),
			ErrorMessage: fmt.Sprintf("Unknown operation: %s", operation),
		}
	}
}

// recorder accumulates the counters shared by the workers of one run.
type recorder struct {
	result       *BenchmarkResult
	start        time.Time
	totalLatency atomic.Int64
	totalOps     atomic.Int64
	successes    atomic.Int64
	failures     atomic.Int64
	misses       atomic.Int64
	mismatches   atomic.Int64
}

func newRecorder(op OperationType, b backend) *recorder {
	return &recorder{
		result: &BenchmarkResult{Operation: op, Client: b.name()},
		start:  time.Now(),
	}
}

// measure runs fn and counts it as a success when it returns nil.
func (r *recorder) measure(fn func() error) error {
	opStart := time.Now()
	err := fn()
	r.totalOps.Add(1)
	r.totalLatency.Add(int64(time.Since(opStart)))
	if err != nil {
		r.failures.Add(1)
	} else {
		r.successes.Add(1)
	}
	return err
}

// run starts concurrency workers looping on step until duration elapsed.
func (r *recorder) run(duration time.Duration, concurrency int, step func(workerID, n int)) *BenchmarkResult {
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for n := 0; time.Since(r.start) < duration; n++ {
				step(workerID, n)
			}
		}(i)
	}
	wg.Wait()

	res := r.result
	res.Duration = time.Since(r.start)
	res.TotalOps = r.totalOps.Load()
	res.Successes = r.successes.Load()
	res.Failures = r.failures.Load()
	res.Misses = r.misses.Load()
	res.Mismatches = r.mismatches.Load()
	if res.TotalOps > 0 {
		res.AvgLatency = time.Duration(r.totalLatency.Load() / res.TotalOps)
		res.OpsPerSecond = float64(res.TotalOps) / res.Duration.Seconds()
	}
	return res
}

// Cache-hit: 1 set then 100 get
func runCacheHitBenchmark(b backend, duration time.Duration, concurrency int) *BenchmarkResult {
	ctx := context.Background()
	key := "cache-hit-key"
	value := []byte("cache-hit-value")

	if err := b.set(ctx, key, value); err != nil {
		return &BenchmarkResult{
			Operation:    CacheHit,
			Client:       b.name(),
			ErrorMessage: fmt.Sprintf("Failed to set initial value: %v", err),
		}
	}

	r := newRecorder(CacheHit, b)
	return r.run(duration, concurrency, func(_, _ int) {
		for j := 0; j < 100; j++ {
			var got []byte
			var found bool
			err := r.measure(func() (err error) {
				got, found, err = b.get(ctx, key)
				return err
			})
			switch {
			case err != nil:
			case !found:
				r.misses.Add(1)
			case string(got) != string(value):
				r.mismatches.Add(1)
			}
		}
	})
}

// Dynamic-value: 1 set then 1 get
func runDynamicValueBenchmark(b backend, duration time.Duration, concurrency int) *BenchmarkResult {
	ctx := context.Background()

	r := newRecorder(DynamicValue, b)
	return r.run(duration, concurrency, func(workerID, n int) {
		key := fmt.Sprintf("dynamic-key-%d-%d", workerID, n)
		value := []byte(fmt.Sprintf("dynamic-value-%d-%d", workerID, n))

		if err := r.measure(func() error { return b.set(ctx, key, value) }); err != nil {
			return
		}

		var got []byte
		var found bool
		err := r.measure(func() (err error) {
			got, found, err = b.get(ctx, key)
			return err
		})
		switch {
		case err != nil:
		case !found:
			r.misses.Add(1)
		case string(got) != string(value):
			r.mismatches.Add(1)
		}
	})
}

// Cache-miss: 1 get (on inexistent key)
func runCacheMissBenchmark(b backend, duration time.Duration, concurrency int) *BenchmarkResult {
	ctx := context.Background()

	r := newRecorder(CacheMiss, b)
	return r.run(duration, concurrency, func(workerID, n int) {
		key := fmt.Sprintf("nonexistent-key-%d-%d-%d", workerID, n, r.start.UnixNano())

		var found bool
		err := r.measure(func() (err error) {
			_, found, err = b.get(ctx, key)
			return err
		})
		if err == nil && found {
			r.mismatches.Add(1)
		}
	})
}

// Increment: 100 incr then 1 get (to check the value)
func runIncrementBenchmark(b backend, duration time.Duration, concurrency int) *BenchmarkResult {
	ctx := context.Background()
	key := "increment-key"

	if err := b.set(ctx, key, []byte("0")); err != nil {
		return &BenchmarkResult{
			Operation:    Increment,
			Client:       b.name(),
			ErrorMessage: fmt.Sprintf("Failed to initialize counter: %v", err),
		}
	}

	r := newRecorder(Increment, b)
	return r.run(duration, concurrency, func(_, _ int) {
		var last uint64
		for j := 0; j < 100; j++ {
			_ = r.measure(func() (err error) {
				last, err = b.incr(ctx, key)
				return err
			})
		}

		var got []byte
		var found bool
		err := r.measure(func() (err error) {
			got, found, err = b.get(ctx, key)
			return err
		})
		switch {
		case err != nil:
		case !found:
			r.misses.Add(1)
		default:
			// other workers keep incrementing, the counter only grows
			var n uint64
			if _, err := fmt.Sscan(strings.TrimSpace(string(got)), &n); err != nil || n < last {
				r.mismatches.Add(1)
			}
		}
	})
}

// Delete: 1 set then 1 delete
func runDeleteBenchmark(b backend, duration time.Duration, concurrency int) *BenchmarkResult {
	ctx := context.Background()

	r := newRecorder(Delete, b)
	return r.run(duration, concurrency, func(workerID, n int) {
		key := fmt.Sprintf("delete-key-%d-%d", workerID, n)
		value := []byte(fmt.Sprintf("delete-value-%d-%d", workerID, n))

		if err := r.measure(func() error { return b.set(ctx, key, value) }); err != nil {
			return
		}
		_ = r.measure(func() error { return b.del(ctx, key) })
	})
}

func printResult(result *BenchmarkResult) {
	fmt.Printf("Operation: %s\n", result.Operation)
	fmt.Printf("Client: %s\n", result.Client)
	fmt.Printf("Duration: %v\n", result.Duration)
	fmt.Printf("Total Operations: %d\n", result.TotalOps)
	fmt.Printf("Successes: %d\n", result.Successes)
	fmt.Printf("Failures: %d\n", result.Failures)
	fmt.Printf("Misses: %d\n", result.Misses)
	fmt.Printf("Mismatches: %d\n", result.Mismatches)
	if result.TotalOps > 0 {
		fmt.Printf("Success Rate: %.2f%%\n", float64(result.Successes)/float64(result.TotalOps)*100)
		fmt.Printf("Ops/sec: %.2f\n", result.OpsPerSecond)
		fmt.Printf("Avg Latency: %v\n", result.AvgLatency)
	}
	fmt.Printf("Correctness: %t\n", result.Correct())
	if result.ErrorMessage != "" {
		fmt.Printf("Error: %s\n", result.ErrorMessage)
	}
	fmt.Println()
}
