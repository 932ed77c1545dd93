package kv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"redis":  NewRedis(rdb, "test:"),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range stores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			_, found, err := s.Get(ctx, "agg:1:0xpair")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, s.Put(ctx, "agg:1:0xpair", []byte(`{"price":"10"}`)))

			got, found, err := s.Get(ctx, "agg:1:0xpair")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, []byte(`{"price":"10"}`), got)

			require.NoError(t, s.Put(ctx, "agg:1:0xpair", []byte(`{"price":"11"}`)))
			got, _, err = s.Get(ctx, "agg:1:0xpair")
			require.NoError(t, err)
			assert.Equal(t, []byte(`{"price":"11"}`), got, "put overwrites")

			require.NoError(t, s.Delete(ctx, "agg:1:0xpair"))
			_, found, err = s.Get(ctx, "agg:1:0xpair")
			require.NoError(t, err)
			assert.False(t, found)

			// deleting a missing key is not an error
			require.NoError(t, s.Delete(ctx, "agg:1:0xpair"))
		})
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	src := []byte("original")
	require.NoError(t, m.Put(ctx, "k", src))
	src[0] = 'X'

	got, _, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got, "stored bytes must not alias the caller's slice")

	got[0] = 'Y'
	again, _, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again, "returned bytes must not alias stored ones")
}

func TestRedisKeyPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedis(rdb, "pairstats:")
	require.NoError(t, s.Put(ctx, "snap:1:0xp:1700000000000", []byte("v")))

	raw, err := mr.Get("pairstats:snap:1:0xp:1700000000000")
	require.NoError(t, err)
	assert.Equal(t, "v", raw)
}
