package ics

import (
	"errors"
	"strconv"
	"time"

	"github.com/teambition/rrule-go"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how custom event recurrence is expanded.
type ExpandConfig struct {
	// Location is the zone recurrences keep their wall-clock time in, so a
	// daily 18:00 event stays at 18:00 across DST changes. If nil, UTC.
	Location *time.Location

	// RangeStart / RangeEnd bound the occurrences of repeating events.
	// Non-repeating events are always returned.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single series. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps expanded events and the series that hit the cap.
type ExpandResult struct {
	Events []model.CalendarEvent
	// TruncatedEvents records IDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandCustom turns persisted custom events into CalendarEvents.
//
//   - A non-repeating event becomes one CalendarEvent whose SourceID is the
//     custom event ID.
//   - A repeating event becomes one CalendarEvent per occurrence inside
//     [RangeStart, RangeEnd], with SeriesID set to the custom event ID and
//     SourceID "<id>@<unix start>". Each occurrence keeps the original
//     duration.
//
// Series with an invalid rule are logged and skipped.
func ExpandCustom(events []model.CustomEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	out := make([]model.CalendarEvent, 0, len(events))
	for _, ce := range events {
		if ce.Repeat == model.RepeatNone {
			out = append(out, makeEvent(ce, ce.ID, "", ce.Start, ce.End))
			continue
		}

		occ, hitCap, err := expandSeries(ce, cfg)
		if err != nil {
			appLog.Error("expand: failed to build recurrence", err, "id", ce.ID, "repeat", string(ce.Repeat))
			continue
		}
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ce.ID)
			appLog.Error("expand: truncated occurrences for series due to cap",
				errors.New("max occurrences reached"),
				"id", ce.ID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
		out = append(out, occ...)
	}

	result.Events = out
	return result, nil
}

func expandSeries(ce model.CustomEvent, cfg ExpandConfig) ([]model.CalendarEvent, bool, error) {
	freq, err := frequency(ce.Repeat)
	if err != nil {
		return nil, false, err
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     freq,
		Interval: 1,
		Count:    ce.RepeatCount,
		Dtstart:  ce.Start.In(cfg.Location),
	})
	if err != nil {
		return nil, false, err
	}

	dur := ce.End.Sub(ce.Start)
	// Include occurrences that started before the range but still overlap it.
	from := cfg.RangeStart.Add(-dur).In(cfg.Location)
	to := cfg.RangeEnd.In(cfg.Location)

	starts := r.Between(from, to, true)
	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.CalendarEvent, 0, len(starts))
	for _, s := range starts {
		id := ce.ID + "@" + strconv.FormatInt(s.Unix(), 10)
		out = append(out, makeEvent(ce, id, ce.ID, s, s.Add(dur)))
	}
	return out, hitCap, nil
}

func frequency(r model.RepeatType) (rrule.Frequency, error) {
	switch r {
	case model.RepeatDaily:
		return rrule.DAILY, nil
	case model.RepeatWeekly:
		return rrule.WEEKLY, nil
	case model.RepeatMonthly:
		return rrule.MONTHLY, nil
	case model.RepeatYearly:
		return rrule.YEARLY, nil
	default:
		return 0, errors.New("unknown repeat type: " + string(r))
	}
}

func makeEvent(ce model.CustomEvent, sourceID, seriesID string, start, end time.Time) model.CalendarEvent {
	return model.CalendarEvent{
		SourceID:    sourceID,
		SeriesID:    seriesID,
		Title:       ce.Title,
		Category:    model.CategoryCustom,
		Start:       start.UTC(),
		End:         end.UTC(),
		BannerURL:   ce.BannerURL,
		Description: ce.Description,
		Custom:      true,
	}
}
