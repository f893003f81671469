package feed

import (
	"github.com/cafecursor/cafecursor/internal/api"
	"github.com/cafecursor/cafecursor/internal/cards"
	"github.com/cafecursor/cafecursor/internal/changefeed"
	"github.com/cafecursor/cafecursor/internal/querycache"
	"go.uber.org/zap"
)

// Apply folds one change event into the pending buffer and the cached views and reports
// whether anything changed. Events for cards not known locally are dropped, so an UPDATE or
// DELETE that arrives before its INSERT is lost.
func (r *Reconciler) Apply(event changefeed.Event) bool {
	r.applyMu.Lock()
	var changed bool
	switch event.Type {
	case cards.ChangeInsert:
		changed = r.applyInsert(event)
	case cards.ChangeUpdate:
		changed = r.applyUpdate(event)
	case cards.ChangeDelete:
		changed = r.applyDelete(event)
	default:
		r.logger.Debug("ignoring change event", zap.String("type", string(event.Type)))
	}
	r.applyMu.Unlock()

	if changed {
		r.flash()
	}
	return changed
}

func (r *Reconciler) applyInsert(event changefeed.Event) bool {
	if event.Record == nil || event.Record.ID == "" {
		return false
	}
	record := *event.Record
	if !record.Complete() {
		return false
	}
	if r.patchVisible(record) {
		return true
	}
	for index := range r.pending {
		if r.pending[index].ID == record.ID {
			r.pending[index] = withViewerFlag(record, r.pending[index])
			return true
		}
	}
	r.pending = append(r.pending, record)
	return true
}

func (r *Reconciler) applyUpdate(event changefeed.Event) bool {
	if event.Record == nil || event.Record.ID == "" {
		return false
	}
	record := *event.Record
	changed := false
	for index := range r.pending {
		if r.pending[index].ID == record.ID {
			r.pending[index] = withViewerFlag(record, r.pending[index])
			changed = true
		}
	}
	if r.patchVisible(record) {
		changed = true
	}
	return changed
}

func (r *Reconciler) applyDelete(event changefeed.Event) bool {
	id := event.RecordID()
	if id == "" {
		return false
	}
	changed := false
	kept := r.pending[:0]
	for _, card := range r.pending {
		if card.ID == id {
			changed = true
			continue
		}
		kept = append(kept, card)
	}
	r.pending = kept

	if querycache.UpdateValue(r.cache, querycache.FeedKey, func(feed querycache.FeedData) (querycache.FeedData, bool) {
		return feed.RemoveCard(id)
	}) {
		changed = true
	}
	if r.cache.Remove(querycache.CardKey(id)) {
		changed = true
	}
	return changed
}

// patchVisible replaces every cached view of record, keeping the local viewer flag.
func (r *Reconciler) patchVisible(record api.Card) bool {
	patch := func(local api.Card) api.Card {
		return withViewerFlag(record, local)
	}
	changed := querycache.UpdateValue(r.cache, querycache.FeedKey, func(feed querycache.FeedData) (querycache.FeedData, bool) {
		return feed.PatchCards(record.ID, patch)
	})
	if querycache.UpdateValue(r.cache, querycache.CardKey(record.ID), func(local api.Card) (api.Card, bool) {
		return patch(local), true
	}) {
		changed = true
	}
	return changed
}

// MergePending moves the buffered cards to the top of the first page, newest first, skipping
// ids already visible. It returns how many cards were inserted; callers shift their scroll
// offset by that many items.
func (r *Reconciler) MergePending() int {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	if len(r.pending) == 0 {
		return 0
	}
	buffered := r.pending
	r.pending = nil

	inserted := 0
	merge := func(feed querycache.FeedData) querycache.FeedData {
		next := feed.Clone()
		fresh := make([]api.Card, 0, len(buffered))
		seen := make(map[string]bool, len(buffered))
		for index := len(buffered) - 1; index >= 0; index-- {
			card := buffered[index]
			if seen[card.ID] || feed.Contains(card.ID) {
				continue
			}
			seen[card.ID] = true
			fresh = append(fresh, card)
		}
		inserted = len(fresh)
		if inserted == 0 {
			return feed
		}
		if len(next.Pages) == 0 {
			next.Pages = [][]api.Card{fresh}
		} else {
			next.Pages[0] = append(fresh, next.Pages[0]...)
		}
		next.NextOffset += inserted
		return next
	}

	if !querycache.UpdateValue(r.cache, querycache.FeedKey, func(feed querycache.FeedData) (querycache.FeedData, bool) {
		next := merge(feed)
		return next, inserted > 0
	}) {
		if _, cached := r.cache.Get(querycache.FeedKey); !cached {
			r.cache.Set(querycache.FeedKey, merge(querycache.FeedData{}))
		}
	}
	return inserted
}

// Pending returns a copy of the buffered cards in arrival order.
func (r *Reconciler) Pending() []api.Card {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	return append([]api.Card(nil), r.pending...)
}

// Visible returns the cached feed in display order.
func (r *Reconciler) Visible() []api.Card {
	feed, ok := querycache.Value[querycache.FeedData](r.cache, querycache.FeedKey)
	if !ok {
		return nil
	}
	return feed.Cards()
}

func withViewerFlag(record api.Card, local api.Card) api.Card {
	record.LikedByViewer = local.LikedByViewer
	return record
}
