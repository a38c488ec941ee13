package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, namespace string) (*PageCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewPageCache(rdb, time.Minute, namespace), mr
}

func acceptAll([]byte) error { return nil }

func TestAsideFetchesOnceThenHits(t *testing.T) {
	c, _ := newTestCache(t, "ann")
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"results":[]}`), nil
	}
	var got []string
	load := func(b []byte) error {
		got = append(got, string(b))
		return nil
	}

	hit, err := c.Aside(ctx, "http://api/posts/?owner__profile=42", fetch, load, ProfileTag("42"))
	require.NoError(t, err)
	assert.False(t, hit)

	hit, err = c.Aside(ctx, "http://api/posts/?owner__profile=42", fetch, load, ProfileTag("42"))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{`{"results":[]}`, `{"results":[]}`}, got)
}

func TestAsideDoesNotCacheErrors(t *testing.T) {
	c, _ := newTestCache(t, "ann")
	ctx := context.Background()

	_, err := c.Aside(ctx, "u", func(context.Context) ([]byte, error) { return nil, errors.New("down") }, acceptAll)
	require.Error(t, err)
	_, ok := c.Get(ctx, "u")
	assert.False(t, ok)
}

func TestAsideDoesNotCacheRejectedBodies(t *testing.T) {
	c, _ := newTestCache(t, "ann")
	ctx := context.Background()

	rejected := errors.New("missing results")
	fetch := func(context.Context) ([]byte, error) { return []byte(`{}`), nil }
	_, err := c.Aside(ctx, "u", fetch, func([]byte) error { return rejected })
	assert.ErrorIs(t, err, rejected)

	_, ok := c.Get(ctx, "u")
	assert.False(t, ok)
}

func TestInvalidateProfileDropsTaggedPages(t *testing.T) {
	c, _ := newTestCache(t, "ann")
	ctx := context.Background()

	c.Set(ctx, "posts-42", []byte("a"), ProfileTag("42"))
	c.Set(ctx, "posts-43", []byte("b"), ProfileTag("43"))
	c.Set(ctx, "popular", []byte("c"), PopularTag)

	c.InvalidateProfile(ctx, "42")

	_, ok := c.Get(ctx, "posts-42")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "popular")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "posts-43")
	assert.True(t, ok)
}

func TestNamespacesAreIsolated(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ann := NewPageCache(rdb, time.Minute, "ann")
	bob := NewPageCache(rdb, time.Minute, "bob")
	ann.Set(context.Background(), "u", []byte("ann's view"))

	_, ok := bob.Get(context.Background(), "u")
	assert.False(t, ok)
}

func TestEntriesExpire(t *testing.T) {
	c, mr := newTestCache(t, "ann")
	c.Set(context.Background(), "u", []byte("x"))
	mr.FastForward(2 * time.Minute)

	_, ok := c.Get(context.Background(), "u")
	assert.False(t, ok)
}

func TestNilCacheIsPassthrough(t *testing.T) {
	var c *PageCache
	assert.Nil(t, NewPageCache(nil, time.Minute, "ann"))

	var got string
	load := func(b []byte) error {
		got = string(b)
		return nil
	}
	hit, err := c.Aside(context.Background(), "u", func(context.Context) ([]byte, error) { return []byte("x"), nil }, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "x", got)
	c.InvalidateProfile(context.Background(), "42")
}

func TestConnectEmptyAddress(t *testing.T) {
	assert.Nil(t, Connect(""))
}

func TestConnectMiniredis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := Connect("redis://" + mr.Addr() + "/0")
	require.NotNil(t, client)
	_ = client.Close()
}
