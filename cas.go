package xmemcache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pior/xmemcache/text"
)

// CASOperation describes a read-modify-write on a single key.
type CASOperation struct {
	// MaxTries bounds the number of cas attempts. Zero uses Config.MaxCASTries.
	MaxTries int

	// NewValue computes the value to store from the current one. Returning an
	// error aborts the operation with that error.
	NewValue func(cas uint64, current []byte) ([]byte, error)
}

// CAS reads key with its cas token, computes a new value and stores it only if
// nobody modified the key in between, retrying on conflicts.
// It returns ErrCacheMiss when the key does not exist and ErrCASRetriesExhausted
// when every attempt conflicted.
func (c *Client) CAS(ctx context.Context, key string, ttl time.Duration, op CASOperation) (bool, error) {
	return c.CASWithResponse(ctx, key, ttl, nil, op)
}

// CASWithResponse is CAS starting from a value the caller already read with
// Gets, saving the first round trip. A nil current behaves like CAS.
func (c *Client) CASWithResponse(ctx context.Context, key string, ttl time.Duration, current *GetsResponse, op CASOperation) (bool, error) {
	if err := validateCAS(key, op); err != nil {
		c.stats.recordError(err)
		return false, err
	}

	tries := op.MaxTries
	if tries <= 0 {
		tries = c.config.MaxCASTries
	}

	for attempt := 1; attempt <= tries; attempt++ {
		if current == nil {
			resp, err := c.Gets(ctx, key)
			if err != nil {
				return false, err
			}
			if resp == nil {
				return false, fmt.Errorf("%w: %s", ErrCacheMiss, key)
			}
			current = resp
		}

		value, err := op.NewValue(current.CAS, current.Value)
		if err != nil {
			return false, err
		}

		stored, err := c.compareAndSwap(ctx, key, current.Flags, ttl, value, current.CAS, false)
		if err != nil {
			return false, err
		}
		if stored {
			return true, nil
		}

		c.logger.Debug("cas conflict", zap.String("key", key), zap.Int("attempt", attempt))
		current = nil
	}

	err := fmt.Errorf("%w: %s after %d attempts", ErrCASRetriesExhausted, key, tries)
	c.stats.recordError(err)
	return false, err
}

// CASNoReply reads key, computes the new value and sends the cas with noreply.
// Whether the store happened is unknown to the caller.
func (c *Client) CASNoReply(ctx context.Context, key string, ttl time.Duration, op CASOperation) error {
	if err := validateCAS(key, op); err != nil {
		c.stats.recordError(err)
		return err
	}

	current, err := c.Gets(ctx, key)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}

	value, err := op.NewValue(current.CAS, current.Value)
	if err != nil {
		return err
	}
	_, err = c.compareAndSwap(ctx, key, current.Flags, ttl, value, current.CAS, true)
	return err
}

// CompareAndSwap stores item only if its cas token still matches the server's.
// It returns false, without error, when the key was modified or removed.
func (c *Client) CompareAndSwap(ctx context.Context, item Item) (bool, error) {
	return c.compareAndSwap(ctx, item.Key, item.Flags, item.TTL, item.Value, item.CAS, false)
}

func (c *Client) compareAndSwap(ctx context.Context, key string, flags uint32, ttl time.Duration, value []byte, token uint64, noReply bool) (bool, error) {
	cmd, err := c.factory.CAS(key, flags, exptime(ttl), value, token, noReply)
	if err := c.run(ctx, cmd, err); err != nil {
		return false, err
	}

	stored := cmd.Status() == text.StatusStored
	c.stats.recordCAS(!stored)
	return stored, nil
}

func validateCAS(key string, op CASOperation) error {
	if err := text.ValidateKey(key); err != nil {
		return err
	}
	if op.NewValue == nil {
		return fmt.Errorf("%w: CASOperation.NewValue is nil", ErrInvalidArgument)
	}
	return nil
}
