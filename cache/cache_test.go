package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDocument = `{"keys":[{"kty":"RSA","kid":"k1","n":"AQAB","e":"AQAB"}]}`

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	t.Run("Set and Get", func(t *testing.T) {
		c.Set(ctx, "https://tenant.example/.well-known/jwks", []byte(testDocument))

		got, found := c.Get(ctx, "https://tenant.example/.well-known/jwks")
		assert.True(t, found, "Expected document to be found in cache")
		assert.JSONEq(t, testDocument, string(got))
	})

	t.Run("Get Non-Existent Key", func(t *testing.T) {
		got, found := c.Get(ctx, "nonexistent")
		assert.False(t, found, "Expected key to not be found in cache")
		assert.Nil(t, got)
	})

	t.Run("Overwrite Existing Key", func(t *testing.T) {
		c.Set(ctx, "doc", []byte("first"))
		c.Set(ctx, "doc", []byte("second"))

		got, found := c.Get(ctx, "doc")
		assert.True(t, found)
		assert.Equal(t, "second", string(got), "Last write should win")
	})

	t.Run("Stored Value Is Copied", func(t *testing.T) {
		value := []byte("original")
		c.Set(ctx, "copy", value)
		value[0] = 'X'

		got, _ := c.Get(ctx, "copy")
		assert.Equal(t, "original", string(got))
	})

	t.Run("Expiry", func(t *testing.T) {
		short := NewMemoryCache(10 * time.Millisecond)
		short.Set(ctx, "doc", []byte(testDocument))

		assert.Eventually(t, func() bool {
			_, found := short.Get(ctx, "doc")
			return !found
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("Concurrent Access", func(t *testing.T) {
		var wg sync.WaitGroup

		for i := 0; i < 16; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				c.Set(ctx, "shared", []byte(testDocument))
				_, _ = c.Get(ctx, "shared")
			}()
		}

		wg.Wait()

		_, found := c.Get(ctx, "shared")
		assert.True(t, found)
	})
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedisCache(client, time.Minute)

	t.Run("Set and Get", func(t *testing.T) {
		c.Set(ctx, "tenant", []byte(testDocument))

		got, found := c.Get(ctx, "tenant")
		require.True(t, found)
		assert.JSONEq(t, testDocument, string(got))

		stored, err := mr.Get("supabridge:jwks:tenant")
		require.NoError(t, err)
		assert.JSONEq(t, testDocument, stored, "Document should be stored under the default prefix")
	})

	t.Run("Miss", func(t *testing.T) {
		_, found := c.Get(ctx, "unknown")
		assert.False(t, found)
	})

	t.Run("Expiry", func(t *testing.T) {
		c.Set(ctx, "expiring", []byte(testDocument))
		mr.FastForward(2 * time.Minute)

		_, found := c.Get(ctx, "expiring")
		assert.False(t, found)
	})

	t.Run("Custom Prefix", func(t *testing.T) {
		prefixed := NewRedisCache(client, time.Minute, func(o *RedisCacheOptions) {
			o.KeyPrefix = "custom:"
		})
		prefixed.Set(ctx, "tenant", []byte("doc"))

		assert.True(t, mr.Exists("custom:tenant"))
	})

	t.Run("Errors Surface As Misses", func(t *testing.T) {
		var reported []string

		broken := NewRedisCache(client, time.Minute, func(o *RedisCacheOptions) {
			o.OnError = func(op string, err error) {
				assert.False(t, errors.Is(err, redis.Nil))
				reported = append(reported, op)
			}
		})

		mr.SetError("server unavailable")
		defer mr.SetError("")

		broken.Set(ctx, "tenant", []byte("doc"))
		_, found := broken.Get(ctx, "tenant")

		assert.False(t, found)
		assert.Equal(t, []string{"set", "get"}, reported)
	})
}

func TestTieredCache(t *testing.T) {
	ctx := context.Background()

	t.Run("L2 Hit Populates L1", func(t *testing.T) {
		l1 := NewMemoryCache(time.Minute)
		l2 := NewMemoryCache(time.Minute)
		c := NewTieredCache(l1, l2)

		l2.Set(ctx, "doc", []byte(testDocument))

		got, found := c.Get(ctx, "doc")
		require.True(t, found)
		assert.JSONEq(t, testDocument, string(got))

		_, inL1 := l1.Get(ctx, "doc")
		assert.True(t, inL1, "L2 hit should be copied into L1")
	})

	t.Run("Set Writes Both Tiers", func(t *testing.T) {
		l1 := NewMemoryCache(time.Minute)
		l2 := NewMemoryCache(time.Minute)
		c := NewTieredCache(l1, l2)

		c.Set(ctx, "doc", []byte(testDocument))

		_, inL1 := l1.Get(ctx, "doc")
		_, inL2 := l2.Get(ctx, "doc")
		assert.True(t, inL1)
		assert.True(t, inL2)
	})
}

func TestNoopCache(t *testing.T) {
	c := NewNoopCache()

	t.Run("Set Does Nothing", func(t *testing.T) {
		c.Set(context.Background(), "doc", []byte(testDocument))

		got, found := c.Get(context.Background(), "doc")
		assert.False(t, found, "Expected key to not be found in noop cache")
		assert.Nil(t, got)
	})
}
