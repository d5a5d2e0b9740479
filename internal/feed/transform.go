package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

// DefaultDuration is used for raw events that carry no end time.
const DefaultDuration = time.Hour

// Fields of a raw event that are not carried into Details.
var knownFields = map[string]struct{}{
	"title":         {},
	"category":      {},
	"is_local_time": {},
	"start_time":    {},
	"end_time":      {},
	"article_url":   {},
	"banner_url":    {},
	"description":   {},
	"details":       {},
}

// SkippedRecord describes a raw event that could not be transformed.
type SkippedRecord struct {
	Category string `json:"category"`
	Index    int    `json:"index"`
	Title    string `json:"title,omitempty"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

// Result is the outcome of a Transform call.
type Result struct {
	Events  []model.CalendarEvent
	Skipped []SkippedRecord
}

// Transform converts the raw feed payload (a JSON object of category ->
// array of raw events) into CalendarEvents.
//
// Floating times are interpreted in loc. Individual bad records (and
// buckets that are not arrays) are logged, recorded in Result.Skipped and
// left out; only a payload that is not a JSON object is an error. The order
// of Result.Events is unspecified.
func Transform(raw []byte, loc *time.Location) (Result, error) {
	var result Result

	var buckets map[string]json.RawMessage
	if err := json.Unmarshal(raw, &buckets); err != nil {
		return result, fmt.Errorf("%w: %v", model.ErrInvalidPayload, err)
	}
	if buckets == nil {
		return result, fmt.Errorf("%w: payload is null", model.ErrInvalidPayload)
	}
	if loc == nil {
		loc = time.UTC
	}

	events := make([]model.CalendarEvent, 0)

	for category, body := range buckets {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			result.Skipped = append(result.Skipped, skip(category, -1, "", fmt.Errorf("%w: bucket is not an array", model.ErrInvalidPayload)))
			continue
		}

		for i, item := range items {
			ev, title, err := transformOne(category, item, loc)
			if err != nil {
				result.Skipped = append(result.Skipped, skip(category, i, title, err))
				continue
			}
			events = append(events, ev)
		}
	}

	if len(result.Skipped) > 0 {
		appLog.Warn("feed transform: some events could not be loaded",
			"skipped", len(result.Skipped),
			"loaded", len(events),
		)
	}
	appLog.Debug("feed transform completed", "event_count", len(events), "category_count", len(buckets))

	result.Events = events
	return result, nil
}

func skip(category string, index int, title string, err error) SkippedRecord {
	appLog.Warn("feed transform: skipping event",
		"category", category,
		"index", index,
		"title", title,
		"reason", err.Error(),
	)
	return SkippedRecord{
		Category: category,
		Index:    index,
		Title:    title,
		Reason:   err.Error(),
		Err:      err,
	}
}

// rawEvent mirrors the fixed part of a feed record. Times stay raw so both
// floating strings and epoch numbers survive decoding.
type rawEvent struct {
	Title       string                     `json:"title"`
	Category    string                     `json:"category"`
	IsLocalTime bool                       `json:"is_local_time"`
	StartTime   json.RawMessage            `json:"start_time"`
	EndTime     json.RawMessage            `json:"end_time"`
	ArticleURL  string                     `json:"article_url"`
	BannerURL   string                     `json:"banner_url"`
	Description string                     `json:"description"`
	Details     map[string]json.RawMessage `json:"details"`
}

func transformOne(bucket string, item json.RawMessage, loc *time.Location) (model.CalendarEvent, string, error) {
	var ev model.CalendarEvent

	var re rawEvent
	if err := json.Unmarshal(item, &re); err != nil {
		return ev, "", fmt.Errorf("%w: %v", model.ErrInvalidEvent, err)
	}

	if re.Title == "" {
		return ev, "", fmt.Errorf("%w: missing title", model.ErrInvalidEvent)
	}
	if re.ArticleURL == "" {
		return ev, re.Title, fmt.Errorf("%w: missing article_url", model.ErrInvalidEvent)
	}
	if isAbsent(re.StartTime) {
		return ev, re.Title, fmt.Errorf("%w: missing start_time", model.ErrInvalidEvent)
	}

	start, err := normalizeRaw(re.StartTime, re.IsLocalTime, loc)
	if err != nil {
		return ev, re.Title, fmt.Errorf("start_time: %w", err)
	}

	end := start.Add(DefaultDuration)
	if !isAbsent(re.EndTime) {
		end, err = normalizeRaw(re.EndTime, re.IsLocalTime, loc)
		if err != nil {
			return ev, re.Title, fmt.Errorf("end_time: %w", err)
		}
	}
	if end.Before(start) {
		return ev, re.Title, fmt.Errorf("%w: end_time before start_time", model.ErrInvalidEvent)
	}

	category := re.Category
	if category == "" {
		category = bucket
	}

	details, err := collectDetails(item, re.Details)
	if err != nil {
		return ev, re.Title, err
	}

	ev = model.CalendarEvent{
		SourceID:    re.ArticleURL,
		Title:       re.Title,
		Category:    category,
		Start:       start,
		End:         end,
		ArticleURL:  re.ArticleURL,
		BannerURL:   re.BannerURL,
		Description: re.Description,
		Details:     details,
	}
	return ev, re.Title, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func normalizeRaw(raw json.RawMessage, isLocal bool, loc *time.Location) (time.Time, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		if isLocal {
			return time.Time{}, fmt.Errorf("%w: %v", model.ErrInvalidTimeFormat, err)
		}
		return time.Time{}, fmt.Errorf("%w: %v", model.ErrInvalidTimestamp, err)
	}
	return Normalize(v, isLocal, loc)
}

// collectDetails merges the nested "details" object and any unknown
// top-level string-array fields into one map. Values that are not string
// arrays are ignored; they are not part of the detail contract.
func collectDetails(item json.RawMessage, nested map[string]json.RawMessage) (map[string][]string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(item, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidEvent, err)
	}

	var details map[string][]string
	add := func(key string, raw json.RawMessage) {
		var values []string
		if err := json.Unmarshal(raw, &values); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				appLog.Debug("feed transform: ignoring non string-array detail", "field", key)
			}
			return
		}
		if values == nil {
			return
		}
		if details == nil {
			details = make(map[string][]string)
		}
		details[key] = values
	}

	for key, raw := range top {
		if _, known := knownFields[key]; known {
			continue
		}
		add(key, raw)
	}
	for key, raw := range nested {
		add(key, raw)
	}
	return details, nil
}
