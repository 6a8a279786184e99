package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic-lock retries in Update.
const maxTxRetries = 5

// Redis stores each document as a string value under KeyPrefix+path.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Store = (*Redis)(nil)

// NewRedis wraps an existing client. An empty prefix defaults to "hikari:".
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "hikari:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(path string) string { return r.prefix + path }

func (r *Redis) Get(ctx context.Context, path string, dst any) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	b, err := r.client.Get(ctx, r.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("docstore: get %q: %w", path, err)
	}
	return true, decode(path, b, dst)
}

func (r *Redis) Set(ctx context.Context, path string, v any) error {
	if err := validatePath(path); err != nil {
		return err
	}
	b, err := encode(path, v)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(path), b, 0).Err(); err != nil {
		return fmt.Errorf("docstore: set %q: %w", path, err)
	}
	return nil
}

// Update performs a WATCH/MULTI read-merge-write, retrying when another
// writer touched the key in between.
func (r *Redis) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := validatePath(path); err != nil {
		return err
	}
	key := r.key(path)
	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		merged, err := mergeFields(existing, fields)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, merged, 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("docstore: update %q: %w", path, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(path)).Err(); err != nil {
		return fmt.Errorf("docstore: remove %q: %w", path, err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, prefix string) ([]string, error) {
	match := globEscape(r.prefix+prefix) + "*"
	// SCAN may return a key more than once.
	seen := make(map[string]struct{})
	var out []string
	iter := r.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		p := strings.TrimPrefix(iter.Val(), r.prefix)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("docstore: list %q: %w", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func globEscape(s string) string { return globReplacer.Replace(s) }
