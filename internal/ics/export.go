package ics

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	ical "github.com/arran4/golang-ical"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

const (
	localTimestampFormat = "20060102T150405"
	maxFilenameLength    = 60
	multiEventFilename   = "events.ics"
	productID            = "eventcal"
)

// ExportOptions controls how events are written.
type ExportOptions struct {
	// Location is the zone DTSTART/DTEND are written in, as local
	// broken-down times with a TZID parameter. If nil or UTC, times are
	// written in UTC form.
	Location *time.Location
	// BaseURL is used to build back-links for custom events, which have no
	// article URL.
	BaseURL string
	// Now stamps DTSTAMP. Zero means time.Now().
	Now time.Time
}

// Skipped is an event left out of an export.
type Skipped struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	Reason   string `json:"reason"`
}

// ExportResult is a rendered .ics document.
type ExportResult struct {
	Data     []byte
	Filename string
	Exported int
	Skipped  []Skipped
}

// Export renders events as one VCALENDAR with a VEVENT per event.
//
// Events without a usable start/end are skipped and reported; the rest are
// still exported. If nothing is left the error wraps ErrExport.
func Export(events []model.CalendarEvent, opts ExportOptions) (ExportResult, error) {
	var result ExportResult

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendarFor(productID)
	cal.SetMethod(ical.MethodPublish)

	var exported []model.CalendarEvent
	for _, ev := range events {
		if err := exportable(ev); err != nil {
			result.Skipped = append(result.Skipped, Skipped{
				SourceID: ev.SourceID,
				Title:    ev.Title,
				Reason:   err.Error(),
			})
			appLog.Warn("ics export: skipping event", "id", ev.SourceID, "reason", err.Error())
			continue
		}
		addVEvent(cal, ev, loc, opts.BaseURL, now)
		exported = append(exported, ev)
	}

	if len(exported) == 0 {
		return result, fmt.Errorf("%w: no exportable events (%d skipped)", model.ErrExport, len(result.Skipped))
	}

	result.Data = []byte(cal.Serialize())
	result.Exported = len(exported)
	if len(exported) == 1 {
		result.Filename = Filename(exported[0].Title)
	} else {
		result.Filename = multiEventFilename
	}
	return result, nil
}

func exportable(ev model.CalendarEvent) error {
	if ev.Start.IsZero() {
		return fmt.Errorf("%w: missing start", model.ErrExport)
	}
	if ev.End.IsZero() {
		return fmt.Errorf("%w: missing end", model.ErrExport)
	}
	if ev.End.Before(ev.Start) {
		return fmt.Errorf("%w: end before start", model.ErrExport)
	}
	return nil
}

func addVEvent(cal *ical.Calendar, ev model.CalendarEvent, loc *time.Location, baseURL string, now time.Time) {
	ve := cal.AddEvent(ev.SourceID)
	ve.SetDtStampTime(now)
	ve.SetSummary(ev.Title)

	if loc == time.UTC {
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
	} else {
		tzid := &ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{loc.String()}}
		ve.SetProperty(ical.ComponentPropertyDtStart, ev.Start.In(loc).Format(localTimestampFormat), tzid)
		ve.SetProperty(ical.ComponentPropertyDtEnd, ev.End.In(loc).Format(localTimestampFormat), tzid)
	}

	link := backLink(ev, baseURL)
	desc := strings.TrimSpace(ev.Description)
	if link != "" {
		ve.SetProperty(ical.ComponentPropertyUrl, link)
		if desc != "" {
			desc += "\n\n"
		}
		desc += link
	}
	if desc != "" {
		ve.SetDescription(desc)
	}
	if ev.Category != "" {
		ve.AddProperty(ical.ComponentPropertyCategories, ev.Category)
	}
}

func backLink(ev model.CalendarEvent, baseURL string) string {
	if ev.ArticleURL != "" {
		return ev.ArticleURL
	}
	if baseURL == "" {
		return ""
	}
	id := ev.SourceID
	if ev.SeriesID != "" {
		id = ev.SeriesID
	}
	return strings.TrimRight(baseURL, "/") + "/events/" + id
}

// Filename derives a download name from an event title. Diacritics are
// folded away ("Pokémon" becomes "pokemon"); anything that is still not an
// ASCII letter or digit collapses into single dashes.
func Filename(title string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	name := strings.Trim(b.String(), "-")
	if len(name) > maxFilenameLength {
		name = strings.TrimRight(name[:maxFilenameLength], "-")
	}
	if name == "" {
		name = "event"
	}
	return name + ".ics"
}
