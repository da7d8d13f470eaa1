package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCacheOptions configures a redis backed cache.
type RedisCacheOptions struct {
	// KeyPrefix is prepended to every key. Defaults to "supabridge:jwks:".
	KeyPrefix string

	// OnError is called when a redis command fails. Failures otherwise surface as misses.
	OnError func(op string, err error)
}

// redisCache shares key set documents between bridge replicas.
type redisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	opts   RedisCacheOptions
}

// NewRedisCache creates a Cache stored in redis, with entries expiring after ttl.
//
// Parameters:
//   - client: A connected redis client; the cache does not close it.
//   - ttl: Entry lifetime. Zero keeps entries until evicted by redis.
//   - optFns: A variadic list of functions to customize the RedisCacheOptions.
//
// Returns:
//   - A Cache backed by redis.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration, optFns ...func(o *RedisCacheOptions)) Cache {
	opts := RedisCacheOptions{
		KeyPrefix: "supabridge:jwks:",
		OnError:   func(string, error) {},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if ttl < 0 {
		ttl = 0
	}

	return &redisCache{client: client, ttl: ttl, opts: opts}
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.client.Get(ctx, r.opts.KeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.opts.OnError("get", err)
		}

		return nil, false
	}

	return b, true
}

func (r *redisCache) Set(ctx context.Context, key string, value []byte) {
	if err := r.client.Set(ctx, r.opts.KeyPrefix+key, value, r.ttl).Err(); err != nil {
		r.opts.OnError("set", err)
	}
}
