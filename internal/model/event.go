package model

import "time"

// Synthetic categories that never come from the remote feed.
const (
	CategorySaved  = "Saved"
	CategoryCustom = "Custom Event"
)

// CalendarEvent is the canonical, timezone-resolved unit every other package
// works with. Values are never mutated once built; edits produce a new value
// carrying the same SourceID.
type CalendarEvent struct {
	// SourceID is the stable identity used for saves, notes, export and
	// de-duplication. Remote events use their article URL, custom events a
	// generated UUID.
	SourceID string `json:"source_id"`

	// SeriesID is set on occurrences expanded from a repeating custom event
	// and holds the custom event ID they came from.
	SeriesID string `json:"series_id,omitempty"`

	Title    string `json:"title"`
	Category string `json:"category"`

	// Start / End are absolute instants, stored in UTC.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	ArticleURL  string `json:"article_url,omitempty"`
	BannerURL   string `json:"banner_url,omitempty"`
	Description string `json:"description,omitempty"`

	// Details carries arbitrary named string lists (Pokémon, bonuses, ...)
	// exactly as the feed delivered them.
	Details map[string][]string `json:"details,omitempty"`

	Custom bool `json:"custom,omitempty"`
}

// Duration returns End - Start.
func (e CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// RepeatType enumerates supported recurrence patterns for custom events.
type RepeatType string

const (
	RepeatNone    RepeatType = ""
	RepeatDaily   RepeatType = "daily"
	RepeatWeekly  RepeatType = "weekly"
	RepeatMonthly RepeatType = "monthly"
	RepeatYearly  RepeatType = "yearly"
)

// Valid reports whether r is a known repeat type.
func (r RepeatType) Valid() bool {
	switch r {
	case RepeatNone, RepeatDaily, RepeatWeekly, RepeatMonthly, RepeatYearly:
		return true
	}
	return false
}

// CustomEvent is a user-authored event as persisted in the local store.
type CustomEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description,omitempty"`
	BannerURL   string    `json:"banner_url,omitempty"`

	Repeat RepeatType `json:"repeat,omitempty"`
	// RepeatCount limits the number of occurrences; zero means until the
	// expansion horizon.
	RepeatCount int `json:"repeat_count,omitempty"`
}

// TimeZoneOption is one entry of the selectable timezone list.
type TimeZoneOption struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}
