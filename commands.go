package xmemcache

import (
	"context"
	"errors"
	"time"

	"github.com/pior/xmemcache/text"
)

// ErrNotStored is returned by add, replace, append and prepend when the
// server did not store the item because its condition was not met.
var ErrNotStored = errors.New("memcache: item not stored")

// Get retrieves a single item. A miss is not an error: the item has Found false.
func (c *Client) Get(ctx context.Context, key string) (Item, error) {
	return c.get(ctx, key, false)
}

// Gets retrieves a single item with its cas token. It returns nil when the key is absent.
func (c *Client) Gets(ctx context.Context, key string) (*GetsResponse, error) {
	item, err := c.get(ctx, key, true)
	if err != nil || !item.Found {
		return nil, err
	}
	return &GetsResponse{Value: item.Value, Flags: item.Flags, CAS: item.CAS}, nil
}

func (c *Client) get(ctx context.Context, key string, withCAS bool) (Item, error) {
	var cmd *text.Command
	var err error
	if withCAS {
		cmd, err = c.factory.Gets(key)
	} else {
		cmd, err = c.factory.Get(key)
	}
	if err := c.run(ctx, cmd, err); err != nil {
		return Item{}, err
	}

	v, found := cmd.Values()[key]
	if !found {
		c.stats.recordGet(1, 0)
		return Item{Key: key}, nil
	}
	c.stats.recordGet(1, 1)
	return Item{Key: key, Value: v.Value, Flags: v.Flags, CAS: v.CAS, Found: true}, nil
}

// Set stores an item unconditionally.
func (c *Client) Set(ctx context.Context, item Item) error {
	return c.store(ctx, text.KindSet, item)
}

// Add stores an item only if the key is absent, ErrNotStored otherwise.
func (c *Client) Add(ctx context.Context, item Item) error {
	return c.store(ctx, text.KindAdd, item)
}

// Replace stores an item only if the key exists, ErrNotStored otherwise.
func (c *Client) Replace(ctx context.Context, item Item) error {
	return c.store(ctx, text.KindReplace, item)
}

// Append adds item.Value after the existing value. Flags and TTL are left unchanged.
func (c *Client) Append(ctx context.Context, item Item) error {
	return c.store(ctx, text.KindAppend, item)
}

// Prepend adds item.Value before the existing value. Flags and TTL are left unchanged.
func (c *Client) Prepend(ctx context.Context, item Item) error {
	return c.store(ctx, text.KindPrepend, item)
}

func (c *Client) SetNoReply(ctx context.Context, item Item) error {
	return c.storeNoReply(ctx, text.KindSet, item)
}

func (c *Client) AddNoReply(ctx context.Context, item Item) error {
	return c.storeNoReply(ctx, text.KindAdd, item)
}

func (c *Client) ReplaceNoReply(ctx context.Context, item Item) error {
	return c.storeNoReply(ctx, text.KindReplace, item)
}

func (c *Client) AppendNoReply(ctx context.Context, item Item) error {
	return c.storeNoReply(ctx, text.KindAppend, item)
}

func (c *Client) PrependNoReply(ctx context.Context, item Item) error {
	return c.storeNoReply(ctx, text.KindPrepend, item)
}

func (c *Client) store(ctx context.Context, kind text.Kind, item Item) error {
	cmd, err := c.factory.Store(kind, item.Key, item.Flags, exptime(item.TTL), item.Value, false)
	if err := c.run(ctx, cmd, err); err != nil {
		return err
	}
	c.stats.recordSet()
	if !cmd.Succeeded() {
		return ErrNotStored
	}
	return nil
}

func (c *Client) storeNoReply(ctx context.Context, kind text.Kind, item Item) error {
	cmd, err := c.factory.Store(kind, item.Key, item.Flags, exptime(item.TTL), item.Value, true)
	if err := c.run(ctx, cmd, err); err != nil {
		return err
	}
	c.stats.recordSet()
	return nil
}

// Delete removes a key. It reports false, without error, when the key was absent.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	return c.DeleteWithExptime(ctx, key, 0)
}

// DeleteWithExptime sends the legacy "delete <key> <time>" form.
// Recent memcached versions only accept a zero time.
func (c *Client) DeleteWithExptime(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cmd, err := c.factory.Delete(key, exptime(ttl), false)
	if err := c.run(ctx, cmd, err); err != nil {
		return false, err
	}
	c.stats.recordDelete()
	return cmd.Status() == text.StatusDeleted, nil
}

func (c *Client) DeleteNoReply(ctx context.Context, key string) error {
	cmd, err := c.factory.Delete(key, 0, true)
	if err := c.run(ctx, cmd, err); err != nil {
		return err
	}
	c.stats.recordDelete()
	return nil
}

// Increment adds delta to a decimal value and returns the new value.
// A missing key fails with ErrIncrDecrNotFound.
func (c *Client) Increment(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.arithmetic(ctx, text.KindIncr, key, delta)
}

// Decrement subtracts delta, stopping at zero, and returns the new value.
func (c *Client) Decrement(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.arithmetic(ctx, text.KindDecr, key, delta)
}

func (c *Client) IncrementNoReply(ctx context.Context, key string, delta uint64) error {
	return c.arithmeticNoReply(ctx, text.KindIncr, key, delta)
}

func (c *Client) DecrementNoReply(ctx context.Context, key string, delta uint64) error {
	return c.arithmeticNoReply(ctx, text.KindDecr, key, delta)
}

func (c *Client) arithmetic(ctx context.Context, kind text.Kind, key string, delta uint64) (uint64, error) {
	cmd, err := c.factory.IncrDecr(kind, key, delta, false)
	if err := c.run(ctx, cmd, err); err != nil {
		return 0, err
	}
	c.stats.recordIncrement()
	return cmd.Counter(), nil
}

func (c *Client) arithmeticNoReply(ctx context.Context, kind text.Kind, key string, delta uint64) error {
	cmd, err := c.factory.IncrDecr(kind, key, delta, true)
	if err := c.run(ctx, cmd, err); err != nil {
		return err
	}
	c.stats.recordIncrement()
	return nil
}
