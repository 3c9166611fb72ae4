package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, opts...), mr
}

func TestStores(t *testing.T) {
	t.Parallel()

	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			s, _ := setupRedisStore(t)
			return s
		},
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store := newStore(t)

			_, err := store.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			rec := readyRecord(t)
			require.NoError(t, store.Put(ctx, rec))

			got, err := store.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusReadyForComplete, got.Status())
			assert.Equal(t, "buyer@example.com", got.BuyerEmail())

			// Mutating a fetched record does not leak into the store.
			require.NoError(t, got.SetBuyerEmail("other@example.com"))
			again, err := store.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, "buyer@example.com", again.BuyerEmail())

			require.NoError(t, store.Put(ctx, got))
			again, err = store.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, "other@example.com", again.BuyerEmail())

			assert.Error(t, store.Put(ctx, &Record{}))
		})
	}
}

func TestRedisStoreKeysAndTTL(t *testing.T) {
	t.Parallel()

	store, mr := setupRedisStore(t, WithKeyPrefix("test:"), WithTTL(time.Hour))
	rec := NewRecord("cs_9", "cart_9", nil, testNow)
	require.NoError(t, store.Put(context.Background(), rec))

	require.True(t, mr.Exists("test:cs_9"))
	assert.Equal(t, time.Hour, mr.TTL("test:cs_9"))

	mr.FastForward(2 * time.Hour)
	_, err := store.Get(context.Background(), "cs_9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreRejectsCorruptRecord(t *testing.T) {
	t.Parallel()

	store, mr := setupRedisStore(t)
	require.NoError(t, mr.Set(DefaultRedisPrefix+"cs_1", `{"id":"cs_1","status":"bogus"}`))
	_, err := store.Get(context.Background(), "cs_1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
