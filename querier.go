package xmemcache

import (
	"context"
	"errors"
	"time"
)

// Querier is a minimal key/value view of a Client where misses are errors.
type Querier interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Increment(ctx context.Context, key string, delta uint64) (uint64, error)
	Decrement(ctx context.Context, key string, delta uint64) (uint64, error)
}

func NewQuerier(client *Client) Querier {
	return &querier{
		client: client,
	}
}

type querier struct {
	client *Client
}

// Get retrieves a value for a key. Returns ErrCacheMiss if not found.
func (q *querier) Get(ctx context.Context, key string) ([]byte, error) {
	item, err := q.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !item.Found {
		return nil, ErrCacheMiss
	}
	return item.Value, nil
}

// Set stores a value for a key with an optional TTL.
func (q *querier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return q.client.Set(ctx, Item{Key: key, Value: value, TTL: ttl})
}

// Delete removes a key from the cache. Returns ErrCacheMiss if not found.
func (q *querier) Delete(ctx context.Context, key string) error {
	deleted, err := q.client.Delete(ctx, key)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrCacheMiss
	}
	return nil
}

// Increment increases a numeric value by delta. Returns new value or ErrCacheMiss if not found.
func (q *querier) Increment(ctx context.Context, key string, delta uint64) (uint64, error) {
	return arithmeticResult(q.client.Increment(ctx, key, delta))
}

// Decrement decreases a numeric value by delta. Returns new value or ErrCacheMiss if not found.
func (q *querier) Decrement(ctx context.Context, key string, delta uint64) (uint64, error) {
	return arithmeticResult(q.client.Decrement(ctx, key, delta))
}

func arithmeticResult(v uint64, err error) (uint64, error) {
	if errors.Is(err, ErrIncrDecrNotFound) {
		return 0, errors.Join(ErrCacheMiss, err)
	}
	return v, err
}
