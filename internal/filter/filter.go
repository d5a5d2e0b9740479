// Package filter evaluates the user's filter state against the merged
// event list.
package filter

import (
	"strings"
	"time"

	"eventcal/internal/model"
	"eventcal/internal/status"
)

const allDay = 24 * time.Hour

// Apply returns the events satisfying every predicate of f, in input order.
//
//  1. SearchTerm is a case-insensitive substring of the title (or empty).
//  2. Category is selected, or "Saved" is selected and the event is saved
//     (or nothing is selected).
//  3. Date range: [StartDate, EndDate) overlaps [Start, End); a single bound
//     is a one-sided check.
//  4. Time of day: for windows narrower than the full day, the start hour of
//     events shorter than 24h, seen in loc, is within [from, to).
//  5. ShowActiveOnly keeps events that are active at now.
//
// Apply is pure and O(n); inputs are pre-parsed instants.
func Apply(events []model.CalendarEvent, f model.Filters, saved map[string]struct{}, now time.Time, loc *time.Location) []model.CalendarEvent {
	if loc == nil {
		loc = time.UTC
	}
	p := compile(f, saved, now, loc)

	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if p.match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Match reports whether a single event passes f.
func Match(ev model.CalendarEvent, f model.Filters, saved map[string]struct{}, now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	return compile(f, saved, now, loc).match(ev)
}

// predicate is Filters prepared once per Apply call.
type predicate struct {
	term       string
	categories map[string]struct{}
	wantSaved  bool
	saved      map[string]struct{}

	start, end *time.Time

	window   bool
	from, to float64
	loc      *time.Location

	activeOnly bool
	now        time.Time
}

func compile(f model.Filters, saved map[string]struct{}, now time.Time, loc *time.Location) predicate {
	p := predicate{
		term:       strings.ToLower(strings.TrimSpace(f.SearchTerm)),
		saved:      saved,
		start:      f.StartDate,
		end:        f.EndDate,
		window:     !f.FullDay(),
		from:       f.TimeRange[0],
		to:         f.TimeRange[1],
		loc:        loc,
		activeOnly: f.ShowActiveOnly,
		now:        now,
	}
	if len(f.SelectedCategories) > 0 {
		p.categories = make(map[string]struct{}, len(f.SelectedCategories))
		for _, c := range f.SelectedCategories {
			p.categories[c] = struct{}{}
		}
		_, p.wantSaved = p.categories[model.CategorySaved]
	}
	return p
}

func (p predicate) match(ev model.CalendarEvent) bool {
	return p.matchSearch(ev) &&
		p.matchCategory(ev) &&
		p.matchDates(ev) &&
		p.matchTimeOfDay(ev) &&
		p.matchActive(ev)
}

func (p predicate) matchSearch(ev model.CalendarEvent) bool {
	return p.term == "" || strings.Contains(strings.ToLower(ev.Title), p.term)
}

func (p predicate) matchCategory(ev model.CalendarEvent) bool {
	if p.categories == nil {
		return true
	}
	if _, ok := p.categories[ev.Category]; ok {
		return true
	}
	if p.wantSaved {
		_, ok := p.saved[ev.SourceID]
		return ok
	}
	return false
}

func (p predicate) matchDates(ev model.CalendarEvent) bool {
	switch {
	case p.start != nil && p.end != nil:
		return ev.Start.Before(*p.end) && ev.End.After(*p.start)
	case p.start != nil:
		return ev.End.After(*p.start)
	case p.end != nil:
		return ev.Start.Before(*p.end)
	default:
		return true
	}
}

func (p predicate) matchTimeOfDay(ev model.CalendarEvent) bool {
	if !p.window || ev.Duration() >= allDay {
		return true
	}
	local := ev.Start.In(p.loc)
	hour := float64(local.Hour()) + float64(local.Minute())/60 + float64(local.Second())/3600
	return hour >= p.from && hour < p.to
}

func (p predicate) matchActive(ev model.CalendarEvent) bool {
	return !p.activeOnly || status.Evaluate(p.now, ev.Start, ev.End) == status.Active
}
