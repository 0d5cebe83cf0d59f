package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type page struct {
	Items []string `json:"items"`
}

func newTestCache(t *testing.T) (*Versioned, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "ledger", time.Minute), mr
}

func TestVersionedFetchJSONCachesUntilBump(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	var calls int32
	loader := func(context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return page{Items: []string{"a"}}, nil
		}
		return page{Items: []string{"a", "b"}}, nil
	}

	key, err := c.BuildKey(ctx, "history", "p1")
	require.NoError(t, err)
	require.Equal(t, "billbook:ledger:history:p1:1", key)

	var first page
	require.NoError(t, c.FetchJSON(ctx, key, &first, loader))
	var second page
	require.NoError(t, c.FetchJSON(ctx, key, &second, loader))
	require.Equal(t, first, second)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	require.NoError(t, c.Bump(ctx))
	key, err = c.BuildKey(ctx, "history", "p1")
	require.NoError(t, err)
	require.Equal(t, "billbook:ledger:history:p1:2", key)

	var third page
	require.NoError(t, c.FetchJSON(ctx, key, &third, loader))
	require.Equal(t, []string{"a", "b"}, third.Items)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestVersionedFetchJSONCollapsesConcurrentMisses(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key, err := c.BuildKey(ctx, "list")
	require.NoError(t, err)

	var calls int32
	release := make(chan struct{})
	loader := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return page{Items: []string{"x"}}, nil
	}

	var wg sync.WaitGroup
	results := make([]page, 4)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.FetchJSON(ctx, key, &results[i], loader)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.LessOrEqual(t, atomic.LoadInt32(&calls), int32(4))
	for i, r := range results {
		require.NoError(t, errs[i])
		require.Equal(t, []string{"x"}, r.Items)
	}
}

func TestVersionedLoaderErrorNotCached(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key, err := c.BuildKey(ctx, "broken")
	require.NoError(t, err)

	var dest page
	err = c.FetchJSON(ctx, key, &dest, func(context.Context) (any, error) {
		return nil, errors.New("db down")
	})
	require.EqualError(t, err, "db down")
	require.False(t, mr.Exists(key))
}

func TestVersionedNilClientPassesThrough(t *testing.T) {
	c := NewVersioned(nil, "invoices", time.Minute)
	ctx := context.Background()
	key, err := c.BuildKey(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, "billbook:invoices:a:b", key)

	var dest page
	require.NoError(t, c.FetchJSON(ctx, key, &dest, func(context.Context) (any, error) {
		return page{Items: []string{"direct"}}, nil
	}))
	require.Equal(t, []string{"direct"}, dest.Items)
	require.NoError(t, c.Bump(ctx))
}
