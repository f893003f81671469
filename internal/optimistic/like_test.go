package optimistic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cafecursor/cafecursor/internal/api"
	"github.com/cafecursor/cafecursor/internal/querycache"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	method string
	cardID string
}

// gatedLikeAPI blocks every call until the test releases it with a result.
type gatedLikeAPI struct {
	calls   chan call
	results chan error
}

func newGatedLikeAPI() *gatedLikeAPI {
	return &gatedLikeAPI{calls: make(chan call, 8), results: make(chan error, 8)}
}

func (g *gatedLikeAPI) LikeCard(ctx context.Context, id string) (api.LikeResult, error) {
	g.calls <- call{method: "like", cardID: id}
	err := <-g.results
	return api.LikeResult{CardID: id, Liked: err == nil}, err
}

func (g *gatedLikeAPI) UnlikeCard(ctx context.Context, id string) (api.LikeResult, error) {
	g.calls <- call{method: "unlike", cardID: id}
	err := <-g.results
	return api.LikeResult{CardID: id}, err
}

func seededCache(cards ...api.Card) *querycache.Cache {
	cache := querycache.New(querycache.Config{})
	cache.Set(querycache.FeedKey, querycache.FeedData{Pages: [][]api.Card{cards}, NextOffset: len(cards)})
	return cache
}

func feedCard(t *testing.T, cache *querycache.Cache, id string) api.Card {
	t.Helper()
	feed, ok := querycache.Value[querycache.FeedData](cache, querycache.FeedKey)
	require.True(t, ok)
	for _, card := range feed.Cards() {
		if card.ID == id {
			return card
		}
	}
	t.Fatalf("card %s not in feed", id)
	return api.Card{}
}

func TestToggleLikeFailureRollsBackEveryView(t *testing.T) {
	cache := seededCache(api.Card{ID: "c1", LikeCount: 3}, api.Card{ID: "c2", LikeCount: 7})
	cache.Set(querycache.CardKey("c1"), api.Card{ID: "c1", LikeCount: 3})
	client := newGatedLikeAPI()
	core, logs := observer.New(zapcore.InfoLevel)
	toggler := NewLikeToggler(cache, client, zap.New(core))

	type outcome struct {
		liked bool
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		liked, err := toggler.ToggleLike(context.Background(), "c1")
		done <- outcome{liked: liked, err: err}
	}()

	require.Equal(t, call{method: "like", cardID: "c1"}, <-client.calls)
	optimistic := feedCard(t, cache, "c1")
	require.True(t, optimistic.LikedByViewer)
	require.Equal(t, int64(4), optimistic.LikeCount)
	detail, ok := querycache.Value[api.Card](cache, querycache.CardKey("c1"))
	require.True(t, ok)
	require.Equal(t, int64(4), detail.LikeCount)
	require.True(t, toggler.Pending("c1"))
	require.False(t, toggler.Pending("c2"))

	offline := errors.New("network unreachable")
	client.results <- offline
	result := <-done
	require.ErrorIs(t, result.err, offline)
	require.False(t, result.liked)

	restored := feedCard(t, cache, "c1")
	require.False(t, restored.LikedByViewer)
	require.Equal(t, int64(3), restored.LikeCount)
	detail, _ = querycache.Value[api.Card](cache, querycache.CardKey("c1"))
	require.Equal(t, int64(3), detail.LikeCount)
	require.Equal(t, int64(7), feedCard(t, cache, "c2").LikeCount)
	require.False(t, toggler.Pending("c1"))
	require.Equal(t, 1, logs.FilterMessage("optimistic mutation rolled back").Len())
}

func TestToggleLikeTwiceReturnsToOriginalState(t *testing.T) {
	cache := seededCache(api.Card{ID: "c1", LikeCount: 3})
	client := newGatedLikeAPI()
	toggler := NewLikeToggler(cache, client, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = toggler.ToggleLike(context.Background(), "c1")
	}()
	require.Equal(t, "like", (<-client.calls).method)
	go func() {
		defer wg.Done()
		_, _ = toggler.ToggleLike(context.Background(), "c1")
	}()
	require.Equal(t, "unlike", (<-client.calls).method)

	card := feedCard(t, cache, "c1")
	require.False(t, card.LikedByViewer)
	require.Equal(t, int64(3), card.LikeCount)

	client.results <- nil
	client.results <- nil
	wg.Wait()
	require.False(t, toggler.Pending("c1"))
}

func TestToggleLikeSuccessRefetchesServerState(t *testing.T) {
	cache := querycache.New(querycache.Config{})
	server := api.Card{ID: "c1", LikeCount: 10, LikedByViewer: true}
	_, err := cache.Fetch(context.Background(), querycache.FeedKey, func(context.Context) (any, error) {
		return querycache.FeedData{Pages: [][]api.Card{{server}}}, nil
	})
	require.NoError(t, err)
	cache.Update(querycache.FeedKey, func(any) (any, bool) {
		return querycache.FeedData{Pages: [][]api.Card{{{ID: "c1", LikeCount: 8}}}}, true
	})

	client := newGatedLikeAPI()
	client.results <- nil
	toggler := NewLikeToggler(cache, client, nil)
	liked, err := toggler.ToggleLike(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, liked)
	<-client.calls

	card := feedCard(t, cache, "c1")
	require.Equal(t, int64(10), card.LikeCount, "refetch should replace the optimistic count")
}

func TestToggleLikeUnknownCard(t *testing.T) {
	toggler := NewLikeToggler(seededCache(api.Card{ID: "c1"}), newGatedLikeAPI(), nil)
	_, err := toggler.ToggleLike(context.Background(), "nope")
	require.ErrorIs(t, err, ErrCardNotCached)
}

func TestToggleLikeDifferentCardsRunConcurrently(t *testing.T) {
	cache := seededCache(api.Card{ID: "c1", LikeCount: 1}, api.Card{ID: "c2", LikeCount: 2, LikedByViewer: true})
	client := newGatedLikeAPI()
	toggler := NewLikeToggler(cache, client, nil)

	var wg sync.WaitGroup
	for _, id := range []string{"c1", "c2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = toggler.ToggleLike(context.Background(), id)
		}(id)
	}
	seen := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case c := <-client.calls:
			seen[c.cardID] = c.method
		case <-time.After(2 * time.Second):
			t.Fatal("expected both toggles to reach the server")
		}
	}
	require.Equal(t, map[string]string{"c1": "like", "c2": "unlike"}, seen)
	require.True(t, toggler.Pending("c1"))
	require.True(t, toggler.Pending("c2"))

	client.results <- nil
	client.results <- nil
	wg.Wait()
	require.Equal(t, int64(2), feedCard(t, cache, "c1").LikeCount)
	require.Equal(t, int64(1), feedCard(t, cache, "c2").LikeCount)
}

// keyedLikeAPI answers each card from its own result channel.
type keyedLikeAPI struct {
	calls   chan call
	results map[string]chan error
}

func newKeyedLikeAPI(ids ...string) *keyedLikeAPI {
	fake := &keyedLikeAPI{calls: make(chan call, 8), results: make(map[string]chan error, len(ids))}
	for _, id := range ids {
		fake.results[id] = make(chan error, 1)
	}
	return fake
}

func (k *keyedLikeAPI) LikeCard(ctx context.Context, id string) (api.LikeResult, error) {
	k.calls <- call{method: "like", cardID: id}
	err := <-k.results[id]
	return api.LikeResult{CardID: id, Liked: err == nil}, err
}

func (k *keyedLikeAPI) UnlikeCard(ctx context.Context, id string) (api.LikeResult, error) {
	k.calls <- call{method: "unlike", cardID: id}
	err := <-k.results[id]
	return api.LikeResult{CardID: id}, err
}

func TestToggleLikeFailureKeepsConcurrentSuccess(t *testing.T) {
	cache := seededCache(api.Card{ID: "c1", LikeCount: 1}, api.Card{ID: "c2", LikeCount: 2})
	cache.Set(querycache.CardKey("c2"), api.Card{ID: "c2", LikeCount: 2})
	client := newKeyedLikeAPI("c1", "c2")
	toggler := NewLikeToggler(cache, client, nil)

	failed := make(chan error, 1)
	go func() {
		_, err := toggler.ToggleLike(context.Background(), "c1")
		failed <- err
	}()
	require.Equal(t, call{method: "like", cardID: "c1"}, <-client.calls)

	succeeded := make(chan error, 1)
	go func() {
		_, err := toggler.ToggleLike(context.Background(), "c2")
		succeeded <- err
	}()
	require.Equal(t, call{method: "like", cardID: "c2"}, <-client.calls)

	client.results["c2"] <- nil
	require.NoError(t, <-succeeded)
	client.results["c1"] <- errors.New("server error")
	require.Error(t, <-failed)

	first := feedCard(t, cache, "c1")
	require.False(t, first.LikedByViewer)
	require.Equal(t, int64(1), first.LikeCount)

	second := feedCard(t, cache, "c2")
	require.True(t, second.LikedByViewer, "rollback of c1 must not undo the committed like on c2")
	require.Equal(t, int64(3), second.LikeCount)
	detail, ok := querycache.Value[api.Card](cache, querycache.CardKey("c2"))
	require.True(t, ok)
	require.True(t, detail.LikedByViewer)
	require.Equal(t, int64(3), detail.LikeCount)
}

func TestRunRequiresCommit(t *testing.T) {
	err := Run(context.Background(), querycache.New(querycache.Config{}), Mutation{}, nil)
	require.ErrorIs(t, err, errMissingCommit)
}
