package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cafecursor/cafecursor/internal/api"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	return New(Config{StaleTime: 30 * time.Second, Clock: clock.Now}), clock
}

func TestFetchServesFreshValuesUntilStale(t *testing.T) {
	cache, clock := newTestCache()
	var calls int
	fetcher := func(context.Context) (any, error) {
		calls++
		return calls, nil
	}

	value, err := cache.Fetch(context.Background(), FeedKey, fetcher)
	require.NoError(t, err)
	require.Equal(t, 1, value)

	clock.Advance(10 * time.Second)
	value, err = cache.Fetch(context.Background(), FeedKey, fetcher)
	require.NoError(t, err)
	require.Equal(t, 1, value)

	clock.Advance(25 * time.Second)
	value, err = cache.Fetch(context.Background(), FeedKey, fetcher)
	require.NoError(t, err)
	require.Equal(t, 2, value)
}

func TestFetchDeduplicatesConcurrentCalls(t *testing.T) {
	cache, _ := newTestCache()
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	fetcher := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "feed", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = cache.Fetch(context.Background(), FeedKey, fetcher)
	}()
	<-started
	for index := 1; index < len(results); index++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			results[index], _ = cache.Fetch(context.Background(), FeedKey, fetcher)
		}(index)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, result := range results {
		require.Equal(t, "feed", result)
	}
}

func TestFetchErrorLeavesPreviousValue(t *testing.T) {
	cache, _ := newTestCache()
	cache.Set(FeedKey, "old")
	cache.Invalidate(FeedKey)

	_, err := cache.Fetch(context.Background(), FeedKey, func(context.Context) (any, error) {
		return nil, errors.New("offline")
	})
	require.EqualError(t, err, "offline")

	value, ok := cache.Get(FeedKey)
	require.True(t, ok)
	require.Equal(t, "old", value)
}

func TestInvalidateByPrefixForcesRefetch(t *testing.T) {
	cache, _ := newTestCache()
	cache.Set(CardKey("c1"), "a")
	cache.Set(CardKey("c2"), "b")
	cache.Set(FeedKey, "feed")

	require.Equal(t, 2, cache.Invalidate(CardKeyPrefix))
	require.Equal(t, []string{"card:c1", "card:c2"}, cache.Keys(CardKeyPrefix))

	value, err := cache.Fetch(context.Background(), CardKey("c1"), func(context.Context) (any, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	require.Equal(t, "fresh", value)

	value, err = cache.Fetch(context.Background(), FeedKey, func(context.Context) (any, error) {
		return "unused", nil
	})
	require.NoError(t, err)
	require.Equal(t, "feed", value)
}

func TestRefetchUsesRememberedFetchers(t *testing.T) {
	cache, _ := newTestCache()
	var version int
	_, err := cache.Fetch(context.Background(), FeedKey, func(context.Context) (any, error) {
		version++
		return version, nil
	})
	require.NoError(t, err)
	cache.Set(CardKey("unknown"), "x")

	require.NoError(t, cache.Refetch(context.Background(), FeedKey, CardKey("unknown"), "missing"))
	value, _ := cache.Get(FeedKey)
	require.Equal(t, 2, value)

	_, err = cache.Fetch(context.Background(), CardKey("c1"), func(context.Context) (any, error) {
		return "first", nil
	})
	require.NoError(t, err)
	cache.Invalidate(CardKey("c1"))
	_, _ = cache.Fetch(context.Background(), CardKey("c1"), func(context.Context) (any, error) {
		return nil, errors.New("down")
	})
	err = cache.Refetch(context.Background(), CardKey("c1"))
	require.ErrorContains(t, err, "refetch card:c1")
}

func TestUpdateSkipsMissingKeysAndUnchangedPatches(t *testing.T) {
	cache, _ := newTestCache()
	called := false
	require.False(t, cache.Update("missing", func(current any) (any, bool) {
		called = true
		return current, true
	}))
	require.False(t, called)

	cache.Set(FeedKey, 1)
	require.False(t, cache.Update(FeedKey, func(current any) (any, bool) { return 5, false }))
	require.True(t, cache.Update(FeedKey, func(current any) (any, bool) { return current.(int) + 1, true }))
	value, _ := cache.Get(FeedKey)
	require.Equal(t, 2, value)
}

func TestSnapshotRestoreIsVerbatim(t *testing.T) {
	cache, _ := newTestCache()
	feed := FeedData{Pages: [][]api.Card{{{ID: "c1", LikeCount: 3}}}, NextOffset: 1}
	cache.Set(FeedKey, feed)

	snapshot := cache.Snapshot(FeedKey, CardKey("c1"))
	require.True(t, UpdateValue(cache, FeedKey, func(current FeedData) (FeedData, bool) {
		return current.PatchCards("c1", func(card api.Card) api.Card {
			card.LikeCount = 4
			return card
		})
	}))
	cache.Set(CardKey("c1"), api.Card{ID: "c1", LikeCount: 4})

	cache.Restore(snapshot)
	restored, ok := Value[FeedData](cache, FeedKey)
	require.True(t, ok)
	require.Equal(t, int64(3), restored.Pages[0][0].LikeCount)
	_, ok = cache.Get(CardKey("c1"))
	require.False(t, ok, "key absent at snapshot time should be absent after restore")
	require.Equal(t, int64(3), feed.Pages[0][0].LikeCount, "patch must not mutate the original value")
}

func TestTypedHelpers(t *testing.T) {
	cache, _ := newTestCache()
	cache.Set(FeedKey, "not a feed")
	_, ok := Value[FeedData](cache, FeedKey)
	require.False(t, ok)
	require.False(t, UpdateValue(cache, FeedKey, func(current FeedData) (FeedData, bool) { return current, true }))

	card, err := FetchValue(context.Background(), cache, CardKey("c9"), func(context.Context) (api.Card, error) {
		return api.Card{ID: "c9"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "c9", card.ID)

	cache.Invalidate(FeedKey)
	_, err = FetchValue(context.Background(), cache, FeedKey, func(context.Context) (FeedData, error) {
		return FeedData{}, nil
	})
	require.NoError(t, err)
}

func TestFeedDataOperations(t *testing.T) {
	feed := FeedData{}.AppendPage(api.FeedPage{Cards: []api.Card{{ID: "a"}, {ID: "b"}}, NextOffset: 2, HasMore: true})
	feed = feed.AppendPage(api.FeedPage{Cards: []api.Card{{ID: "c"}}, NextOffset: 3})
	require.Len(t, feed.Pages, 2)
	require.Equal(t, 3, feed.NextOffset)
	require.False(t, feed.HasMore)
	require.True(t, feed.Contains("c"))

	removed, ok := feed.RemoveCard("a")
	require.True(t, ok)
	require.Equal(t, []string{"b", "c"}, ids(removed.Cards()))
	require.Equal(t, []string{"a", "b", "c"}, ids(feed.Cards()))

	_, ok = feed.RemoveCard("zzz")
	require.False(t, ok)
}

func ids(cards []api.Card) []string {
	out := make([]string, 0, len(cards))
	for _, card := range cards {
		out = append(out, card.ID)
	}
	return out
}

func TestRemoveKeepsFetcher(t *testing.T) {
	cache, _ := newTestCache()
	_, err := cache.Fetch(context.Background(), CardKey("c1"), func(context.Context) (any, error) {
		return "loaded", nil
	})
	require.NoError(t, err)
	require.True(t, cache.Remove(CardKey("c1")))
	require.False(t, cache.Remove(CardKey("c1")))
	_, ok := cache.Get(CardKey("c1"))
	require.False(t, ok)

	require.NoError(t, cache.Refetch(context.Background(), CardKey("c1")))
	value, ok := cache.Get(CardKey("c1"))
	require.True(t, ok)
	require.Equal(t, "loaded", value)
}
