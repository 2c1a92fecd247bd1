package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGetDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)

	require.NoError(t, store.Delete(ctx, "k", "missing"))

	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreExpiry(t *testing.T) {
	current := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithMemoryClock(func() time.Time { return current }))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "ttl", []byte("x"), 90*time.Second))

	_, ok, err := store.Get(ctx, "ttl")
	require.NoError(t, err)
	require.True(t, ok)

	current = current.Add(2 * time.Minute)

	_, ok, err = store.Get(ctx, "ttl")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreZeroTTLNeverExpires(t *testing.T) {
	current := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithMemoryClock(func() time.Time { return current }))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "forever", []byte("x"), 0))
	current = current.Add(24 * time.Hour)

	_, ok, err := store.Get(ctx, "forever")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryStorePurgeExpired(t *testing.T) {
	current := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithMemoryClock(func() time.Time { return current }))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Hour))

	current = current.Add(10 * time.Minute)
	require.Equal(t, 1, store.PurgeExpired())

	_, ok, err := store.Get(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
}
