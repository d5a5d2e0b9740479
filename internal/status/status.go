// Package status derives the live upcoming/active/finished state of events
// and the relative-time text shown next to them.
package status

import (
	"strconv"
	"strings"
	"time"

	"eventcal/internal/model"
)

type Status string

const (
	Upcoming Status = "upcoming"
	Active   Status = "active"
	Finished Status = "finished"
)

// Evaluate returns the status of [start, end] at now. Both boundaries
// belong to Active.
func Evaluate(now, start, end time.Time) Status {
	switch {
	case now.Before(start):
		return Upcoming
	case now.After(end):
		return Finished
	default:
		return Active
	}
}

// Describe returns the status together with its display text:
// "starts in <d>", "ends in <d>" or "ended <d> ago".
func Describe(now, start, end time.Time) (Status, string) {
	st := Evaluate(now, start, end)
	switch st {
	case Upcoming:
		return st, "starts in " + FormatDuration(start.Sub(now))
	case Active:
		return st, "ends in " + FormatDuration(end.Sub(now))
	default:
		return st, "ended " + FormatDuration(now.Sub(end)) + " ago"
	}
}

type unit struct {
	name string
	size time.Duration
}

const day = 24 * time.Hour

// Month and year lengths are calendar averages.
var units = []unit{
	{"year", time.Duration(365.25 * float64(day))},
	{"month", time.Duration(30.44 * float64(day))},
	{"week", 7 * day},
	{"day", day},
	{"hour", time.Hour},
	{"minute", time.Minute},
	{"second", time.Second},
}

// MaxUnits is the number of units FormatDuration emits.
const MaxUnits = 2

// FormatDuration renders d with the two largest non-zero units, largest
// first ("1 month 2 days", "3 hours 5 minutes", "45 seconds"). Lower-order
// remainders are truncated, never rounded up. Negative durations are
// formatted by magnitude.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	parts := make([]string, 0, MaxUnits)
	rest := d
	for _, u := range units {
		if len(parts) == MaxUnits {
			break
		}
		n := rest / u.size
		if n == 0 {
			continue
		}
		rest -= n * u.size
		parts = append(parts, plural(int64(n), u.name))
	}

	if len(parts) == 0 {
		return plural(0, "second")
	}
	return strings.Join(parts, " ")
}

func plural(n int64, name string) string {
	s := strconv.FormatInt(n, 10) + " " + name
	if n != 1 {
		s += "s"
	}
	return s
}

// Annotated pairs an event with its status at a moment.
type Annotated struct {
	model.CalendarEvent
	Status     Status `json:"status"`
	StatusText string `json:"status_text"`
}

// Annotate computes the status of every event at now.
func Annotate(events []model.CalendarEvent, now time.Time) []Annotated {
	out := make([]Annotated, len(events))
	for i, ev := range events {
		st, text := Describe(now, ev.Start, ev.End)
		out[i] = Annotated{CalendarEvent: ev, Status: st, StatusText: text}
	}
	return out
}
