package repo

import (
	"context"
	"strings"
	"sync"

	"eventcal/internal/kv"
)

// Notes persists free-text notes keyed by event SourceID. An empty note is
// not stored; setting one removes the entry.
type Notes struct {
	doc document[map[string]string]
	mu  sync.Mutex
}

func NewNotes(store kv.Store) *Notes {
	return &Notes{
		doc: document[map[string]string]{
			store: store,
			key:   KeyNotes,
			def:   func() map[string]string { return map[string]string{} },
		},
	}
}

func (r *Notes) Load(ctx context.Context) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	notes := r.doc.load(ctx)
	if notes == nil {
		notes = map[string]string{}
	}
	return notes
}

func (r *Notes) Save(ctx context.Context, notes map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.save(ctx, notes)
}

// Get returns the note for id and whether one exists.
func (r *Notes) Get(ctx context.Context, id string) (string, bool) {
	text, ok := r.Load(ctx)[id]
	return text, ok
}

// Set stores text for id; blank text deletes the note.
func (r *Notes) Set(ctx context.Context, id, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	notes := r.doc.load(ctx)
	if notes == nil {
		notes = map[string]string{}
	}
	if strings.TrimSpace(text) == "" {
		if _, ok := notes[id]; !ok {
			return nil
		}
		delete(notes, id)
	} else {
		notes[id] = text
	}
	return r.doc.save(ctx, notes)
}
