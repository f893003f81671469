package querycache

import (
	"fmt"

	"github.com/cafecursor/cafecursor/internal/api"
)

// FeedData is the cached paginated feed. Pages are stored in fetch order.
type FeedData struct {
	Pages      [][]api.Card
	NextOffset int
	HasMore    bool
}

// Clone copies the page structure so a patch never mutates a value a snapshot still holds.
func (f FeedData) Clone() FeedData {
	pages := make([][]api.Card, len(f.Pages))
	for index, page := range f.Pages {
		pages[index] = append([]api.Card(nil), page...)
	}
	return FeedData{Pages: pages, NextOffset: f.NextOffset, HasMore: f.HasMore}
}

// Cards flattens the pages in display order.
func (f FeedData) Cards() []api.Card {
	total := 0
	for _, page := range f.Pages {
		total += len(page)
	}
	all := make([]api.Card, 0, total)
	for _, page := range f.Pages {
		all = append(all, page...)
	}
	return all
}

func (f FeedData) Contains(id string) bool {
	for _, page := range f.Pages {
		for _, card := range page {
			if card.ID == id {
				return true
			}
		}
	}
	return false
}

// AppendPage returns a copy with page added at the end.
func (f FeedData) AppendPage(page api.FeedPage) FeedData {
	next := f.Clone()
	next.Pages = append(next.Pages, append([]api.Card(nil), page.Cards...))
	next.NextOffset = page.NextOffset
	next.HasMore = page.HasMore
	return next
}

// PatchCards returns a copy with fn applied to every occurrence of id and whether any matched.
func (f FeedData) PatchCards(id string, fn func(api.Card) api.Card) (FeedData, bool) {
	if !f.Contains(id) {
		return f, false
	}
	next := f.Clone()
	for _, page := range next.Pages {
		for index := range page {
			if page[index].ID == id {
				page[index] = fn(page[index])
			}
		}
	}
	return next, true
}

// RemoveCard returns a copy without id and whether it was present.
func (f FeedData) RemoveCard(id string) (FeedData, bool) {
	if !f.Contains(id) {
		return f, false
	}
	next := f.Clone()
	for pageIndex, page := range next.Pages {
		kept := page[:0]
		for _, card := range page {
			if card.ID != id {
				kept = append(kept, card)
			}
		}
		next.Pages[pageIndex] = kept
	}
	return next, true
}

func errWrongType(key string) error {
	return fmt.Errorf("querycache: unexpected value type under %q", key)
}
