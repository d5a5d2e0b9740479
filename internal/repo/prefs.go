package repo

import (
	"context"
	"fmt"
	"time"

	"eventcal/internal/kv"
	"eventcal/internal/model"
)

// FilterState persists the last used filters.
type FilterState struct {
	doc document[model.Filters]
}

func NewFilterState(store kv.Store) *FilterState {
	return &FilterState{
		doc: document[model.Filters]{
			store: store,
			key:   KeyFilters,
			def:   model.DefaultFilters,
			check: model.Filters.Validate,
		},
	}
}

func (r *FilterState) Load(ctx context.Context) model.Filters {
	f := r.doc.load(ctx)
	if f.SelectedCategories == nil {
		f.SelectedCategories = []string{}
	}
	return f
}

func (r *FilterState) Save(ctx context.Context, f model.Filters) error {
	if err := f.Validate(); err != nil {
		return err
	}
	return r.doc.save(ctx, f)
}

// SettingsRepo persists application settings.
type SettingsRepo struct {
	doc      document[model.Settings]
	defaults model.Settings
}

// NewSettings returns a SettingsRepo falling back to defaults, which are
// normalized first.
func NewSettings(store kv.Store, defaults model.Settings) *SettingsRepo {
	defaults.Normalize()
	return &SettingsRepo{
		doc: document[model.Settings]{
			store: store,
			key:   KeySettings,
			def:   func() model.Settings { return defaults },
		},
		defaults: defaults,
	}
}

// Load returns the normalized settings. Zones that no longer resolve fall
// back to the defaults.
func (r *SettingsRepo) Load(ctx context.Context) model.Settings {
	s := r.doc.load(ctx)
	s.Normalize()
	if _, err := time.LoadLocation(s.TimeZone); err != nil {
		s.TimeZone = r.defaults.TimeZone
	}
	if _, err := time.LoadLocation(s.SourceTimeZone); err != nil {
		s.SourceTimeZone = r.defaults.SourceTimeZone
	}
	return s
}

// Save validates zone names and stores s.
func (r *SettingsRepo) Save(ctx context.Context, s model.Settings) error {
	s.Normalize()
	if _, err := time.LoadLocation(s.TimeZone); err != nil {
		return fmt.Errorf("%w: time_zone %q: %v", model.ErrInvalidInput, s.TimeZone, err)
	}
	if _, err := time.LoadLocation(s.SourceTimeZone); err != nil {
		return fmt.Errorf("%w: source_time_zone %q: %v", model.ErrInvalidInput, s.SourceTimeZone, err)
	}
	return r.doc.save(ctx, s)
}
