package model

// Settings are the persisted application preferences.
type Settings struct {
	// Theme is one of "light", "dark" or "system".
	Theme string `json:"theme"`
	// WeekStart is "monday" or "sunday".
	WeekStart string `json:"week_start"`
	// TimeZone is the IANA zone events are displayed (and time-of-day
	// filtered) in.
	TimeZone string `json:"time_zone"`
	// SourceTimeZone is the IANA zone floating feed times are interpreted in.
	SourceTimeZone string `json:"source_time_zone"`
	Use24Hour      bool   `json:"use_24_hour"`
}

// DefaultSettings returns the settings used when nothing is persisted.
func DefaultSettings() Settings {
	return Settings{
		Theme:          "system",
		WeekStart:      "monday",
		TimeZone:       "UTC",
		SourceTimeZone: "UTC",
		Use24Hour:      true,
	}
}

// Normalize replaces unknown or empty values with defaults.
func (s *Settings) Normalize() {
	def := DefaultSettings()
	switch s.Theme {
	case "light", "dark", "system":
	default:
		s.Theme = def.Theme
	}
	switch s.WeekStart {
	case "monday", "sunday":
	default:
		s.WeekStart = def.WeekStart
	}
	if s.TimeZone == "" {
		s.TimeZone = def.TimeZone
	}
	if s.SourceTimeZone == "" {
		s.SourceTimeZone = def.SourceTimeZone
	}
}
