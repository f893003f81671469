package feed

import (
	"context"

	"github.com/cafecursor/cafecursor/internal/api"
	"github.com/cafecursor/cafecursor/internal/querycache"
)

// LoadFirstPage returns the cached feed, fetching the first page when nothing fresh is cached.
func (r *Reconciler) LoadFirstPage(ctx context.Context) (querycache.FeedData, error) {
	return querycache.FetchValue(ctx, r.cache, querycache.FeedKey, r.reloadPages)
}

// LoadMore appends the next page to the cached feed. Cards already visible are skipped, since
// merged inserts shift server offsets.
func (r *Reconciler) LoadMore(ctx context.Context) (querycache.FeedData, error) {
	current, ok := querycache.Value[querycache.FeedData](r.cache, querycache.FeedKey)
	if !ok {
		return r.LoadFirstPage(ctx)
	}
	if !current.HasMore {
		return current, nil
	}
	page, err := r.pages.ListFeed(ctx, current.NextOffset, r.pageSize)
	if err != nil {
		return current, err
	}

	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	querycache.UpdateValue(r.cache, querycache.FeedKey, func(feed querycache.FeedData) (querycache.FeedData, bool) {
		return appendUnique(feed, page), true
	})
	next, _ := querycache.Value[querycache.FeedData](r.cache, querycache.FeedKey)
	return next, nil
}

// reloadPages refetches as many pages as are currently cached so a refetch keeps the reader's
// scroll depth. Cards still waiting in the pending buffer are held back until MergePending,
// and the result is stored under applyMu so no insert can slip between filter and store.
func (r *Reconciler) reloadPages(ctx context.Context) (querycache.FeedData, error) {
	pages := 1
	if current, ok := querycache.Value[querycache.FeedData](r.cache, querycache.FeedKey); ok && len(current.Pages) > pages {
		pages = len(current.Pages)
	}
	var feed querycache.FeedData
	offset := 0
	for index := 0; index < pages; index++ {
		page, err := r.pages.ListFeed(ctx, offset, r.pageSize)
		if err != nil {
			return querycache.FeedData{}, err
		}
		feed = appendUnique(feed, page)
		offset = page.NextOffset
		if !page.HasMore {
			break
		}
	}

	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	feed = withoutPending(feed, r.pending)
	r.cache.Set(querycache.FeedKey, feed)
	return feed, nil
}

// withoutPending drops buffered ids from feed. NextOffset moves back by the number dropped so
// the merge that later adds them keeps the server offset aligned.
func withoutPending(feed querycache.FeedData, pending []api.Card) querycache.FeedData {
	removed := 0
	for _, card := range pending {
		var ok bool
		if feed, ok = feed.RemoveCard(card.ID); ok {
			removed++
		}
	}
	feed.NextOffset -= removed
	return feed
}

func appendUnique(feed querycache.FeedData, page api.FeedPage) querycache.FeedData {
	filtered := api.FeedPage{NextOffset: page.NextOffset, HasMore: page.HasMore}
	for _, card := range page.Cards {
		if !feed.Contains(card.ID) {
			filtered.Cards = append(filtered.Cards, card)
		}
	}
	return feed.AppendPage(filtered)
}
