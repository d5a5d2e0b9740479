package model

import (
	"fmt"
	"math"
	"time"
)

// Filters is the user-controlled filter state evaluated by the filter engine.
type Filters struct {
	SearchTerm         string     `json:"search_term"`
	SelectedCategories []string   `json:"selected_categories"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	// TimeRange is a [from, to) window of hours of the day.
	TimeRange      [2]float64 `json:"time_range"`
	ShowActiveOnly bool       `json:"show_active_only"`
}

// DefaultFilters returns filters that let every event through.
func DefaultFilters() Filters {
	return Filters{
		SelectedCategories: []string{},
		TimeRange:          [2]float64{0, 24},
	}
}

// Validate checks the time range invariant 0 <= from <= to <= 24.
func (f Filters) Validate() error {
	from, to := f.TimeRange[0], f.TimeRange[1]
	if !finite(from) || !finite(to) || from < 0 || to > 24 || from > to {
		return fmt.Errorf("%w: time range [%v, %v] must satisfy 0 <= from <= to <= 24", ErrInvalidInput, from, to)
	}
	return nil
}

// FullDay reports whether the time-of-day window covers the whole day.
func (f Filters) FullDay() bool {
	return f.TimeRange[0] <= 0 && f.TimeRange[1] >= 24
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
