package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

// ImportResult contains custom events read from an uploaded .ics file.
type ImportResult struct {
	Events []model.CustomEvent
	// Skipped maps VEVENT UIDs (or positions) to the reason they were left out.
	Skipped map[string]string
}

// ParseICS reads a calendar document into custom events ready to be added.
//
//   - It relies on the underlying library's VTIMEZONE/TZID handling to
//     construct proper time.Time values (with Location set).
//   - It detects all-day events by inspecting the DTSTART value format and
//     gives them a 24h span when DTEND is missing. Timed events without DTEND
//     last one hour.
//   - Plain FREQ=DAILY|WEEKLY|MONTHLY|YEARLY rules (optionally with COUNT)
//     become the event's repeat settings; anything richer imports the first
//     occurrence only.
//
// IDs are left empty; the repository assigns them on Add.
func ParseICS(body []byte) (ImportResult, error) {
	result := ImportResult{Skipped: map[string]string{}}
	if len(body) == 0 {
		return result, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return result, err
	}

	for i, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			key := "#" + strconv.Itoa(i)
			if p := comp.GetProperty(ical.ComponentPropertyUniqueId); p != nil && p.Value != "" {
				key = p.Value
			}
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "uid", key)
			result.Skipped[key] = perr.Error()
			continue
		}
		result.Events = append(result.Events, ev)
	}

	appLog.Info("ics parse completed", "event_count", len(result.Events), "skipped", len(result.Skipped))
	return result, nil
}

func parseVEvent(ve *ical.VEvent) (model.CustomEvent, error) {
	var out model.CustomEvent

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = strings.TrimSpace(p.Value)
	}
	if out.Title == "" {
		return out, errors.New("missing SUMMARY")
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}

	// Detect all-day: if DTSTART has VALUE=DATE or is in YYYYMMDD form
	allDay := false
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if params := dtStartProp.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				allDay = true
			}
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			allDay = true
		}
	}

	end, err := ve.GetEndAt()
	if err != nil || end.IsZero() {
		if allDay {
			end = start.Add(24 * time.Hour)
		} else {
			end = start.Add(time.Hour)
		}
	}

	out.Start = start.UTC()
	out.End = end.UTC()

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		repeat, count, ok := simpleRule(rruleProp.Value)
		if ok {
			out.Repeat = repeat
			out.RepeatCount = count
		} else {
			appLog.Info("ics import: unsupported RRULE, importing first occurrence only", "rrule", rruleProp.Value)
		}
	}

	return out, nil
}

// simpleRule maps a single-part RRULE onto a RepeatType.
func simpleRule(rule string) (model.RepeatType, int, bool) {
	var repeat model.RepeatType
	count := 0
	for _, part := range strings.Split(rule, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return "", 0, false
		}
		switch strings.ToUpper(key) {
		case "FREQ":
			switch strings.ToUpper(val) {
			case "DAILY":
				repeat = model.RepeatDaily
			case "WEEKLY":
				repeat = model.RepeatWeekly
			case "MONTHLY":
				repeat = model.RepeatMonthly
			case "YEARLY":
				repeat = model.RepeatYearly
			default:
				return "", 0, false
			}
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return "", 0, false
			}
			count = n
		case "INTERVAL":
			if val != "1" {
				return "", 0, false
			}
		default:
			return "", 0, false
		}
	}
	if repeat == model.RepeatNone {
		return "", 0, false
	}
	return repeat, count, true
}
