package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxTxAttempts bounds optimistic transaction retries in Update.
const maxTxAttempts = 16

// Redis stores entries as JSON strings in Redis. Updates use optimistic
// WATCH/MULTI transactions.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis creates a store backed by client. Keys are prefixed with prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) (*Entry, error) {
	return r.read(ctx, r.client, r.fullKey(key))
}

// Update implements Store.
func (r *Redis) Update(ctx context.Context, key string, fn UpdateFunc) (*Entry, error) {
	fullKey := r.fullKey(key)

	for range maxTxAttempts {
		var result *Entry
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := r.read(ctx, tx, fullKey)
			if err != nil {
				return err
			}

			next, err := fn(cur.Clone())
			if err != nil {
				return err
			}
			if next == nil {
				result = cur
				return nil
			}

			stored := next.Clone()
			stored.UpdatedAt = r.now()
			data, err := json.Marshal(stored)
			if err != nil {
				return fmt.Errorf("encode entry: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, fullKey, data, 0)
				return nil
			})
			if err != nil {
				return err
			}
			result = stored
			return nil
		}, fullKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrConflict, key)
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Scope returns a store whose keys are nested under prefix.
func (r *Redis) Scope(prefix string) *Redis {
	return &Redis{client: r.client, prefix: r.fullKey(prefix), now: r.now}
}

func (r *Redis) fullKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis) read(ctx context.Context, c redis.Cmdable, key string) (*Entry, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &e, nil
}
