package repo

import (
	"context"
	"sort"
	"sync"

	"eventcal/internal/kv"
)

// SavedEvents persists the set of saved event SourceIDs. Saved ids may
// refer to events that are no longer in the feed.
type SavedEvents struct {
	doc document[[]string]
	mu  sync.Mutex
}

func NewSavedEvents(store kv.Store) *SavedEvents {
	return &SavedEvents{
		doc: document[[]string]{
			store: store,
			key:   KeySavedEvents,
			def:   func() []string { return []string{} },
		},
	}
}

// Load returns the saved ids as a set.
func (r *SavedEvents) Load(ctx context.Context) map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return toSet(r.doc.load(ctx))
}

func (r *SavedEvents) Save(ctx context.Context, ids map[string]struct{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.save(ctx, fromSet(ids))
}

// IsSaved reports whether id is saved.
func (r *SavedEvents) IsSaved(ctx context.Context, id string) bool {
	_, ok := r.Load(ctx)[id]
	return ok
}

// Toggle flips membership of id and returns the new state.
func (r *SavedEvents) Toggle(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := toSet(r.doc.load(ctx))
	_, saved := set[id]
	if saved {
		delete(set, id)
	} else {
		set[id] = struct{}{}
	}
	if err := r.doc.save(ctx, fromSet(set)); err != nil {
		return saved, err
	}
	return !saved, nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func fromSet(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
