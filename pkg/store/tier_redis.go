package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisTier keeps values in a single redis hash so several machines can share
// one synced tier. Each field holds the JSON encoding of its value.
type RedisTier struct {
	name   string
	client redis.UniversalClient
	key    string
}

// NewRedisTier uses an existing client. prefix namespaces the hash key.
func NewRedisTier(name string, client redis.UniversalClient, prefix string) *RedisTier {
	return &RedisTier{
		name:   name,
		client: client,
		key:    prefix + ":settings",
	}
}

// DialRedisTier parses url (redis://...) and returns a tier plus a close func.
func DialRedisTier(name, url, prefix string) (*RedisTier, func() error, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return NewRedisTier(name, client, prefix), client.Close, nil
}

func (r *RedisTier) Name() string { return r.name }

func (r *RedisTier) Get(ctx context.Context, keys []string) (Values, error) {
	out := make(Values, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	raw, err := r.client.HMGet(ctx, r.key, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out[keys[i]] = decoded
	}
	return out, nil
}

func (r *RedisTier) Set(ctx context.Context, values Values) error {
	fields := make(map[string]any, len(values))
	for k, v := range values {
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		fields[k] = string(encoded)
	}
	if err := r.client.HSet(ctx, r.key, fields).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
