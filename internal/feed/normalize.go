package feed

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"eventcal/internal/model"
)

// MaxEpochSeconds is the sanity bound for UTC timestamps in the feed. Values
// beyond a signed 32-bit seconds counter are treated as garbage.
const MaxEpochSeconds = math.MaxInt32

// Normalize converts a raw feed time into an absolute instant (in UTC).
//
//   - isLocal == true: value must be a floating "YYYY-MM-DDTHH:mm:ss" string.
//     It is read as a wall clock in loc using the zone's IANA rules. A wall
//     clock that falls into a DST gap does not exist and is rejected with
//     ErrInvalidTimeFormat; an ambiguous one (DST overlap) resolves to the
//     earlier instant.
//   - isLocal == false: value must be numeric epoch seconds within
//     [0, MaxEpochSeconds]; loc is ignored.
//
// value may be a string, any Go integer/float type or a json.Number.
func Normalize(value any, isLocal bool, loc *time.Location) (time.Time, error) {
	if isLocal {
		s, ok := value.(string)
		if !ok {
			return time.Time{}, fmt.Errorf("%w: floating time must be a string, got %T", model.ErrInvalidTimeFormat, value)
		}
		if loc == nil {
			loc = time.UTC
		}
		return normalizeFloating(s, loc)
	}
	return normalizeEpoch(value)
}

// NormalizeIn is Normalize with the zone given by IANA name.
func NormalizeIn(value any, isLocal bool, zone string) (time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return Normalize(value, isLocal, loc)
}

type wallClock struct {
	year                      int
	month                     time.Month
	day, hour, minute, second int
}

func (w wallClock) matches(t time.Time) bool {
	y, m, d := t.Date()
	h, mi, s := t.Clock()
	return y == w.year && m == w.month && d == w.day && h == w.hour && mi == w.minute && s == w.second
}

func normalizeFloating(s string, loc *time.Location) (time.Time, error) {
	wc, err := parseWallClock(s)
	if err != nil {
		return time.Time{}, err
	}

	// Seconds since epoch if the wall clock were UTC; subtracting a zone
	// offset gives a candidate instant for that offset.
	naive := time.Date(wc.year, wc.month, wc.day, wc.hour, wc.minute, wc.second, 0, time.UTC)

	var best time.Time
	found := false
	for _, off := range candidateOffsets(naive, loc) {
		cand := naive.Add(-time.Duration(off) * time.Second).In(loc)
		if !wc.matches(cand) {
			continue
		}
		if !found || cand.Before(best) {
			best = cand
			found = true
		}
	}
	if !found {
		return time.Time{}, fmt.Errorf("%w: %q does not exist in %s", model.ErrInvalidTimeFormat, s, loc)
	}
	return best.UTC(), nil
}

// candidateOffsets returns the distinct UTC offsets in effect around the
// naive instant. Any real transition is less than a day away from one of
// the probes, which covers every DST rule in the IANA database.
func candidateOffsets(naive time.Time, loc *time.Location) []int {
	offsets := make([]int, 0, 3)
	for _, probe := range []time.Duration{-24 * time.Hour, 0, 24 * time.Hour} {
		_, off := naive.Add(probe).In(loc).Zone()
		dup := false
		for _, o := range offsets {
			if o == off {
				dup = true
				break
			}
		}
		if !dup {
			offsets = append(offsets, off)
		}
	}
	return offsets
}

// parseWallClock validates "YYYY-MM-DDTHH:mm:ss". Fractional seconds are
// not part of the feed format and are rejected like any other deviation.
func parseWallClock(s string) (wallClock, error) {
	var wc wallClock
	bad := func(reason string) (wallClock, error) {
		return wallClock{}, fmt.Errorf("%w: %q: %s", model.ErrInvalidTimeFormat, s, reason)
	}

	s = strings.TrimSpace(s)
	date, clock, ok := strings.Cut(s, "T")
	if !ok {
		return bad("missing 'T' separator")
	}

	dparts := strings.Split(date, "-")
	if len(dparts) != 3 || len(dparts[0]) != 4 || len(dparts[1]) != 2 || len(dparts[2]) != 2 {
		return bad("date must be YYYY-MM-DD")
	}
	cparts := strings.Split(clock, ":")
	if len(cparts) != 3 || len(cparts[0]) != 2 || len(cparts[1]) != 2 || len(cparts[2]) != 2 {
		return bad("time must be HH:mm:ss")
	}

	nums := make([]int, 0, 6)
	for _, p := range append(dparts, cparts...) {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || strings.ContainsAny(p, "+-") {
			return bad("non-numeric component " + strconv.Quote(p))
		}
		nums = append(nums, n)
	}

	wc = wallClock{
		year:   nums[0],
		month:  time.Month(nums[1]),
		day:    nums[2],
		hour:   nums[3],
		minute: nums[4],
		second: nums[5],
	}

	if wc.month < time.January || wc.month > time.December {
		return bad("month out of range")
	}
	if wc.day < 1 || wc.day > daysIn(wc.year, wc.month) {
		return bad("day out of range")
	}
	if wc.hour > 23 {
		return bad("hour out of range")
	}
	if wc.minute > 59 {
		return bad("minute out of range")
	}
	if wc.second > 59 {
		return bad("second out of range")
	}
	return wc, nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func normalizeEpoch(value any) (time.Time, error) {
	var secs float64
	switch v := value.(type) {
	case int:
		secs = float64(v)
	case int32:
		secs = float64(v)
	case int64:
		secs = float64(v)
	case uint32:
		secs = float64(v)
	case uint64:
		secs = float64(v)
	case float32:
		secs = float64(v)
	case float64:
		secs = v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q is not numeric", model.ErrInvalidTimestamp, v.String())
		}
		secs = f
	default:
		return time.Time{}, fmt.Errorf("%w: epoch seconds must be numeric, got %T", model.ErrInvalidTimestamp, value)
	}

	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs != math.Trunc(secs) {
		return time.Time{}, fmt.Errorf("%w: %v is not a whole number of seconds", model.ErrInvalidTimestamp, secs)
	}
	if secs < 0 || secs > MaxEpochSeconds {
		return time.Time{}, fmt.Errorf("%w: %v outside [0, %d]", model.ErrInvalidTimestamp, secs, MaxEpochSeconds)
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}
