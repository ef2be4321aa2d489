package xmemcache

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pior/xmemcache/text"
)

// GetMulti retrieves several keys, one pipelined command per owning server.
// Absent keys are missing from the result. Duplicate keys are fetched once.
// The call fails before any I/O when a key is invalid or its server is down.
func (c *Client) GetMulti(ctx context.Context, keys []string) (map[string]Item, error) {
	return c.getMulti(ctx, keys, false)
}

// GetsMulti is GetMulti returning the cas token of each item.
func (c *Client) GetsMulti(ctx context.Context, keys []string) (map[string]Item, error) {
	return c.getMulti(ctx, keys, true)
}

func (c *Client) getMulti(ctx context.Context, keys []string, withCAS bool) (map[string]Item, error) {
	if len(keys) == 0 {
		return map[string]Item{}, nil
	}
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	for _, key := range keys {
		if err := text.ValidateKey(key); err != nil {
			c.stats.recordError(err)
			return nil, err
		}
	}

	groups, err := c.router.group(keys)
	if err != nil {
		c.stats.recordError(err)
		return nil, err
	}

	cmds := make(map[*server]*text.Command, len(groups))
	for srv, group := range groups {
		var cmd *text.Command
		if withCAS {
			cmd, err = c.factory.GetsMulti(group)
		} else {
			cmd, err = c.factory.GetMulti(group)
		}
		if err != nil {
			c.stats.recordError(err)
			return nil, err
		}
		cmds[srv] = cmd
	}

	g, gctx := errgroup.WithContext(ctx)
	for srv, cmd := range cmds {
		g.Go(func() error {
			return c.do(gctx, srv, cmd)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make(map[string]Item, len(keys))
	for _, cmd := range cmds {
		for key, v := range cmd.Values() {
			items[key] = Item{Key: key, Value: v.Value, Flags: v.Flags, CAS: v.CAS, Found: true}
		}
	}
	c.stats.recordGet(len(keys), len(items))
	return items, nil
}

// BatchCommands runs groups of independent operations concurrently so that
// they share the pipelined connections.
type BatchCommands struct {
	client *Client
}

func NewBatchCommands(client *Client) *BatchCommands {
	return &BatchCommands{client: client}
}

// MultiGet retrieves multiple items.
// Returns items in the same order as the keys, with Found=false for missing items.
func (b *BatchCommands) MultiGet(ctx context.Context, keys []string) ([]Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	found, err := b.client.GetMulti(ctx, keys)
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(keys))
	for i, key := range keys {
		if item, ok := found[key]; ok {
			items[i] = item
		} else {
			items[i] = Item{Key: key}
		}
	}
	return items, nil
}

// MultiSet stores multiple items. Returns the first error.
func (b *BatchCommands) MultiSet(ctx context.Context, items []Item) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		g.Go(func() error {
			return b.client.Set(gctx, item)
		})
	}
	return g.Wait()
}

// MultiDelete removes multiple items. Absent keys are not an error.
func (b *BatchCommands) MultiDelete(ctx context.Context, keys []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			_, err := b.client.Delete(gctx, key)
			return err
		})
	}
	return g.Wait()
}
