// Package repo holds the persisted local collections: custom events, saved
// event ids, notes, filter state and settings. Each lives as one JSON blob
// under a fixed key of a kv.Store and is always written in full.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"eventcal/internal/kv"
	appLog "eventcal/internal/log"
	"eventcal/internal/metrics"
	"eventcal/internal/model"
)

// Keys of the persisted documents.
const (
	KeyCustomEvents = "eventcal:custom-events"
	KeySavedEvents  = "eventcal:saved-events"
	KeyNotes        = "eventcal:event-notes"
	KeyFilters      = "eventcal:filters"
	KeySettings     = "eventcal:settings"
)

// document is a typed JSON value stored under key. Loading never fails:
// missing, unreadable or corrupt values degrade to def().
type document[T any] struct {
	store kv.Store
	key   string
	def   func() T
	// check rejects decoded values that break invariants; optional.
	check func(T) error
}

func (d document[T]) load(ctx context.Context) T {
	data, err := d.store.Get(ctx, d.key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			appLog.Error("repo: load failed, using default", err, "key", d.key)
		}
		return d.def()
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		d.recover(fmt.Errorf("%w: %v", model.ErrPersistenceCorrupt, err))
		return d.def()
	}
	if d.check != nil {
		if err := d.check(v); err != nil {
			d.recover(fmt.Errorf("%w: %v", model.ErrPersistenceCorrupt, err))
			return d.def()
		}
	}
	return v
}

func (d document[T]) recover(err error) {
	appLog.Error("repo: corrupt value replaced by default", err, "key", d.key)
	metrics.PersistenceRecoveries.WithLabelValues(d.key).Inc()
}

func (d document[T]) save(ctx context.Context, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("repo: encode %s: %w", d.key, err)
	}
	if err := d.store.Set(ctx, d.key, data); err != nil {
		return fmt.Errorf("repo: save %s: %w", d.key, err)
	}
	return nil
}
