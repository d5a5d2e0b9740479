package repo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"eventcal/internal/kv"
	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

// CustomEvents persists user-authored events.
type CustomEvents struct {
	doc   document[[]model.CustomEvent]
	mu    sync.Mutex
	newID func() string
}

func NewCustomEvents(store kv.Store) *CustomEvents {
	return &CustomEvents{
		doc: document[[]model.CustomEvent]{
			store: store,
			key:   KeyCustomEvents,
			def:   func() []model.CustomEvent { return []model.CustomEvent{} },
		},
		newID: uuid.NewString,
	}
}

// ValidateCustom reports why ce cannot be stored, if anything.
func ValidateCustom(ce model.CustomEvent) error {
	if strings.TrimSpace(ce.Title) == "" {
		return fmt.Errorf("%w: title is required", model.ErrInvalidEvent)
	}
	if ce.Start.IsZero() || ce.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", model.ErrInvalidEvent)
	}
	if ce.End.Before(ce.Start) {
		return fmt.Errorf("%w: end before start", model.ErrInvalidEvent)
	}
	if !ce.Repeat.Valid() {
		return fmt.Errorf("%w: unknown repeat %q", model.ErrInvalidEvent, ce.Repeat)
	}
	if ce.RepeatCount < 0 {
		return fmt.Errorf("%w: negative repeat_count", model.ErrInvalidEvent)
	}
	return nil
}

func (r *CustomEvents) Load(ctx context.Context) []model.CustomEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.load(ctx)
}

func (r *CustomEvents) Save(ctx context.Context, events []model.CustomEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.save(ctx, events)
}

// Get returns the custom event with the given ID.
func (r *CustomEvents) Get(ctx context.Context, id string) (model.CustomEvent, error) {
	for _, ce := range r.Load(ctx) {
		if ce.ID == id {
			return ce, nil
		}
	}
	return model.CustomEvent{}, model.ErrNotFound
}

// Add stores ce under a freshly generated ID and returns the stored value.
func (r *CustomEvents) Add(ctx context.Context, ce model.CustomEvent) (model.CustomEvent, error) {
	if err := ValidateCustom(ce); err != nil {
		return model.CustomEvent{}, err
	}
	ce.ID = r.newID()
	ce.Start = ce.Start.UTC()
	ce.End = ce.End.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.doc.load(ctx)
	events = append(events, ce)
	if err := r.doc.save(ctx, events); err != nil {
		return model.CustomEvent{}, err
	}
	appLog.Info("custom event added", "id", ce.ID, "title", ce.Title)
	return ce, nil
}

// Update replaces the stored event carrying ce.ID.
func (r *CustomEvents) Update(ctx context.Context, ce model.CustomEvent) (model.CustomEvent, error) {
	if err := ValidateCustom(ce); err != nil {
		return model.CustomEvent{}, err
	}
	ce.Start = ce.Start.UTC()
	ce.End = ce.End.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.doc.load(ctx)
	updated := make([]model.CustomEvent, len(events))
	found := false
	for i, existing := range events {
		if existing.ID == ce.ID {
			updated[i] = ce
			found = true
			continue
		}
		updated[i] = existing
	}
	if !found {
		return model.CustomEvent{}, model.ErrNotFound
	}
	if err := r.doc.save(ctx, updated); err != nil {
		return model.CustomEvent{}, err
	}
	return ce, nil
}

// Remove deletes exactly the event with the given ID.
func (r *CustomEvents) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.doc.load(ctx)
	kept := make([]model.CustomEvent, 0, len(events))
	removed := false
	for _, ce := range events {
		if !removed && ce.ID == id {
			removed = true
			continue
		}
		kept = append(kept, ce)
	}
	if !removed {
		return model.ErrNotFound
	}
	if err := r.doc.save(ctx, kept); err != nil {
		return err
	}
	appLog.Info("custom event removed", "id", id)
	return nil
}
