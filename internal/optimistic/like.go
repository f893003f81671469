package optimistic

import (
	"context"
	"errors"
	"sync"

	"github.com/cafecursor/cafecursor/internal/api"
	"github.com/cafecursor/cafecursor/internal/querycache"
	"go.uber.org/zap"
)

// ErrCardNotCached reports a toggle for a card that no cached view contains.
var ErrCardNotCached = errors.New("optimistic: card not cached")

// LikeAPI is the subset of the API client used for like toggles.
type LikeAPI interface {
	LikeCard(ctx context.Context, id string) (api.LikeResult, error)
	UnlikeCard(ctx context.Context, id string) (api.LikeResult, error)
}

// LikeToggler flips the viewer's like on a card with no perceived latency.
type LikeToggler struct {
	cache  *querycache.Cache
	client LikeAPI
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]int
}

func NewLikeToggler(cache *querycache.Cache, client LikeAPI, logger *zap.Logger) *LikeToggler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LikeToggler{
		cache:   cache,
		client:  client,
		logger:  logger,
		pending: make(map[string]int),
	}
}

// ToggleLike flips the like flag and adjusts the count of cardID in every cached view, then
// issues exactly one like or unlike call. It returns the liked state that was requested.
func (t *LikeToggler) ToggleLike(ctx context.Context, cardID string) (bool, error) {
	current, ok := t.cachedCard(cardID)
	if !ok {
		return false, ErrCardNotCached
	}
	liked := !current.LikedByViewer

	t.begin(cardID)
	defer t.finish(cardID)

	detailKey := querycache.CardKey(cardID)
	err := Run(ctx, t.cache, Mutation{
		Name: "toggle_like",
		Keys: []string{querycache.FeedKey, detailKey},
		Apply: func(cache *querycache.Cache) {
			flip := func(card api.Card) api.Card {
				return flipLike(card, liked)
			}
			querycache.UpdateValue(cache, querycache.FeedKey, func(feed querycache.FeedData) (querycache.FeedData, bool) {
				return feed.PatchCards(cardID, flip)
			})
			querycache.UpdateValue(cache, detailKey, func(card api.Card) (api.Card, bool) {
				return flip(card), true
			})
		},
		Commit: func(ctx context.Context) error {
			if liked {
				_, err := t.client.LikeCard(ctx, cardID)
				return err
			}
			_, err := t.client.UnlikeCard(ctx, cardID)
			return err
		},
		Rollback: func(cache *querycache.Cache, saved querycache.Snapshot) {
			restoreLike(cache, saved, cardID)
		},
		Refetch: []string{querycache.FeedKey, detailKey},
	}, t.logger)
	if err != nil {
		return current.LikedByViewer, err
	}
	return liked, nil
}

// Pending reports whether a toggle on cardID is in flight.
func (t *LikeToggler) Pending(cardID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending[cardID] > 0
}

func (t *LikeToggler) begin(cardID string) {
	t.mu.Lock()
	t.pending[cardID]++
	t.mu.Unlock()
}

func (t *LikeToggler) finish(cardID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[cardID]--
	if t.pending[cardID] <= 0 {
		delete(t.pending, cardID)
	}
}

// cachedCard prefers the detail entry and falls back to the feed.
func (t *LikeToggler) cachedCard(cardID string) (api.Card, bool) {
	if card, ok := querycache.Value[api.Card](t.cache, querycache.CardKey(cardID)); ok {
		return card, true
	}
	feed, ok := querycache.Value[querycache.FeedData](t.cache, querycache.FeedKey)
	if !ok {
		return api.Card{}, false
	}
	return findCard(feed, cardID)
}

// restoreLike puts back the like fields cardID had in saved. Other cards, and other fields of
// cardID, keep whatever concurrent writes left there.
func restoreLike(cache *querycache.Cache, saved querycache.Snapshot, cardID string) {
	if feed, ok := querycache.SnapshotValue[querycache.FeedData](saved, querycache.FeedKey); ok {
		if before, found := findCard(feed, cardID); found {
			querycache.UpdateValue(cache, querycache.FeedKey, func(current querycache.FeedData) (querycache.FeedData, bool) {
				return current.PatchCards(cardID, func(card api.Card) api.Card {
					return withLikeOf(card, before)
				})
			})
		}
	}
	detailKey := querycache.CardKey(cardID)
	if before, ok := querycache.SnapshotValue[api.Card](saved, detailKey); ok {
		querycache.UpdateValue(cache, detailKey, func(card api.Card) (api.Card, bool) {
			return withLikeOf(card, before), true
		})
	}
}

func findCard(feed querycache.FeedData, cardID string) (api.Card, bool) {
	for _, card := range feed.Cards() {
		if card.ID == cardID {
			return card, true
		}
	}
	return api.Card{}, false
}

func withLikeOf(card api.Card, before api.Card) api.Card {
	card.LikedByViewer = before.LikedByViewer
	card.LikeCount = before.LikeCount
	return card
}

func flipLike(card api.Card, liked bool) api.Card {
	if card.LikedByViewer == liked {
		return card
	}
	card.LikedByViewer = liked
	if liked {
		card.LikeCount++
	} else if card.LikeCount > 0 {
		card.LikeCount--
	}
	return card
}
