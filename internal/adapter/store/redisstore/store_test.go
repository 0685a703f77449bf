package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(rdb, "test:"), mr
}

func TestGet_Missing(t *testing.T) {
	s, _ := newTestStore(t)
	v, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, v)
}

func TestSet_AppliesPrefixAndTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))

	require.True(t, mr.Exists("test:k"))
	require.Equal(t, time.Minute, mr.TTL("test:k"))

	mr.FastForward(time.Minute)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompareAndSwap_Semantics(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.CompareAndSwap(ctx, "k", nil, []byte("1"), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Hour, mr.TTL("test:k"))

	ok, err = s.CompareAndSwap(ctx, "k", nil, []byte("x"), 0)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.CompareAndSwap(ctx, "k", []byte("0"), []byte("x"), 0)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.CompareAndSwap(ctx, "k", []byte("1"), []byte("2"), 0)
	require.NoError(t, err)
	require.True(t, ok)

	v, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", string(v))
}

func TestCompareAndSwap_MissingKeyWithOld(t *testing.T) {
	s, _ := newTestStore(t)
	ok, err := s.CompareAndSwap(context.Background(), "k", []byte("1"), []byte("2"), 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPing_FailsWhenServerGone(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
	mr.Close()
	require.Error(t, s.Ping(context.Background()))
}

func TestDial_BadURL(t *testing.T) {
	_, _, err := Dial(context.Background(), "://bad", "")
	require.Error(t, err)
}

func TestDial_Miniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	s, rdb, err := Dial(context.Background(), "redis://"+mr.Addr()+"/0", "p:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, s.Set(context.Background(), "a", []byte("b"), 0))
	require.True(t, mr.Exists("p:a"))
}

func TestCompareAndSwap_SubMillisecondTTLStillExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.CompareAndSwap(ctx, "k", nil, []byte("1"), 500*time.Microsecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Millisecond, mr.TTL("test:k"))

	mr.FastForward(time.Millisecond)
	require.False(t, mr.Exists("test:k"))
}

func TestTTLMillis(t *testing.T) {
	require.Equal(t, int64(0), ttlMillis(0))
	require.Equal(t, int64(0), ttlMillis(-time.Second))
	require.Equal(t, int64(1), ttlMillis(time.Nanosecond))
	require.Equal(t, int64(1500), ttlMillis(1500*time.Millisecond))
}
