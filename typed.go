package xmemcache

import (
	"context"
	"fmt"
	"time"
)

// Typed is a view of a Client storing values of type T through a Transcoder.
type Typed[T any] struct {
	client *Client
	tc     Transcoder[T]
}

func NewTyped[T any](client *Client, tc Transcoder[T]) *Typed[T] {
	return &Typed[T]{client: client, tc: tc}
}

// Get returns the decoded value and whether the key was found.
func (t *Typed[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	item, err := t.client.Get(ctx, key)
	if err != nil || !item.Found {
		return zero, false, err
	}
	v, err := t.tc.Decode(item.Value, item.Flags)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// GetMulti returns the decoded values of the keys found.
func (t *Typed[T]) GetMulti(ctx context.Context, keys []string) (map[string]T, error) {
	items, err := t.client.GetMulti(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(items))
	for key, item := range items {
		v, err := t.tc.Decode(item.Value, item.Flags)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (t *Typed[T]) Set(ctx context.Context, key string, v T, ttl time.Duration) error {
	item, err := t.item(key, v, ttl)
	if err != nil {
		return err
	}
	return t.client.Set(ctx, item)
}

// Add stores v only if key is absent, ErrNotStored otherwise.
func (t *Typed[T]) Add(ctx context.Context, key string, v T, ttl time.Duration) error {
	item, err := t.item(key, v, ttl)
	if err != nil {
		return err
	}
	return t.client.Add(ctx, item)
}

// CAS applies update to the current value and stores the result only if the
// key was not modified meanwhile, retrying up to Config.MaxCASTries times.
// The stored flags are the ones of the new encoded value.
func (t *Typed[T]) CAS(ctx context.Context, key string, ttl time.Duration, update func(current T) (T, error)) (bool, error) {
	tries := t.client.config.MaxCASTries
	for range tries {
		current, err := t.client.Gets(ctx, key)
		if err != nil {
			return false, err
		}
		if current == nil {
			return false, fmt.Errorf("%w: %s", ErrCacheMiss, key)
		}

		v, err := t.tc.Decode(current.Value, current.Flags)
		if err != nil {
			return false, err
		}
		next, err := update(v)
		if err != nil {
			return false, err
		}
		item, err := t.item(key, next, ttl)
		if err != nil {
			return false, err
		}
		item.CAS = current.CAS

		stored, err := t.client.CompareAndSwap(ctx, item)
		if err != nil || stored {
			return stored, err
		}
	}
	return false, fmt.Errorf("%w: %s after %d attempts", ErrCASRetriesExhausted, key, tries)
}

func (t *Typed[T]) item(key string, v T, ttl time.Duration) (Item, error) {
	data, flags, err := t.tc.Encode(v)
	if err != nil {
		return Item{}, err
	}
	return Item{Key: key, Value: data, Flags: flags, TTL: ttl}, nil
}
