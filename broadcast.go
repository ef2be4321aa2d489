package xmemcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pior/xmemcache/text"
)

// broadcast runs one command per live server concurrently. build is called
// once per server since a command completes only once.
func (c *Client) broadcast(ctx context.Context, build func() (*text.Command, error), collect func(addr string, cmd *text.Command)) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	var live []*server
	for _, srv := range c.router.servers() {
		if srv.live.Load() {
			live = append(live, srv)
		}
	}
	if len(live) == 0 {
		return fmt.Errorf("%w: no server connected", ErrNoAvailableSession)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range live {
		cmd, err := build()
		if err != nil {
			c.stats.recordError(err)
			return err
		}
		g.Go(func() error {
			if err := c.do(gctx, srv, cmd); err != nil {
				return fmt.Errorf("%s: %w", srv.addr, err)
			}
			if collect != nil {
				mu.Lock()
				collect(srv.addr, cmd)
				mu.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}

// Stats returns the "stats" output of every connected server, by address.
// item selects a statistics group such as "items" or "slabs"; empty means general stats.
func (c *Client) Stats(ctx context.Context, item string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	err := c.broadcast(ctx,
		func() (*text.Command, error) { return c.factory.Stats(item) },
		func(addr string, cmd *text.Command) { out[addr] = cmd.Stats() })
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Version returns the version string of every connected server, by address.
func (c *Client) Version(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := c.broadcast(ctx,
		func() (*text.Command, error) { return c.factory.Version(), nil },
		func(addr string, cmd *text.Command) { out[addr] = cmd.Version() })
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FlushAll invalidates all items on every connected server, after delay when positive.
func (c *Client) FlushAll(ctx context.Context, delay time.Duration) error {
	return c.flushAll(ctx, delay, false)
}

func (c *Client) FlushAllNoReply(ctx context.Context, delay time.Duration) error {
	return c.flushAll(ctx, delay, true)
}

func (c *Client) flushAll(ctx context.Context, delay time.Duration, noReply bool) error {
	return c.broadcast(ctx, func() (*text.Command, error) {
		return c.factory.FlushAll(int(ceilSeconds(delay)), noReply)
	}, nil)
}

// Verbosity sets the logging level of every connected server.
func (c *Client) Verbosity(ctx context.Context, level int) error {
	return c.broadcast(ctx, func() (*text.Command, error) {
		return c.factory.Verbosity(level, false)
	}, nil)
}

func (c *Client) VerbosityNoReply(ctx context.Context, level int) error {
	return c.broadcast(ctx, func() (*text.Command, error) {
		return c.factory.Verbosity(level, true)
	}, nil)
}
