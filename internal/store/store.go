// Package store owns the merged event view: the latest remote snapshot plus
// the user's custom events.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"eventcal/internal/feed"
	"eventcal/internal/ics"
	appLog "eventcal/internal/log"
	"eventcal/internal/metrics"
	"eventcal/internal/model"
)

// Fetcher retrieves a remote document.
type Fetcher interface {
	FetchOne(ctx context.Context, src feed.Source) (feed.FetchResult, error)
}

// CustomRepository is the persisted collection of custom events.
type CustomRepository interface {
	Load(ctx context.Context) []model.CustomEvent
	Add(ctx context.Context, ce model.CustomEvent) (model.CustomEvent, error)
	Update(ctx context.Context, ce model.CustomEvent) (model.CustomEvent, error)
	Remove(ctx context.Context, id string) error
}

// LocationFunc resolves a zone at call time, so settings changes apply to
// the next refetch without rebuilding the store.
type LocationFunc func(ctx context.Context) *time.Location

// Options configures a Store.
type Options struct {
	// EventsURL is the remote feed endpoint.
	EventsURL string
	// SourceLocation is the zone floating feed times are read in.
	SourceLocation LocationFunc
	// DisplayLocation is the zone repeating custom events keep their wall
	// clock in.
	DisplayLocation LocationFunc
	// CustomHorizon bounds repeating custom event expansion on both sides
	// of now.
	CustomHorizon time.Duration
	// Now is the clock; time.Now if nil.
	Now func() time.Time
}

// State describes the outcome of the most recent refetches.
type State struct {
	RemoteEvents int       `json:"remote_events"`
	LastAttempt  time.Time `json:"last_attempt,omitempty"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
	// LastError is set when the latest refetch failed; stale data stays.
	LastError string               `json:"last_error,omitempty"`
	FromCache bool                 `json:"from_cache"`
	Skipped   []feed.SkippedRecord `json:"skipped,omitempty"`
}

// Store merges remote and custom events.
type Store struct {
	fetcher Fetcher
	customs CustomRepository
	opts    Options

	mu        sync.RWMutex
	remote    []model.CalendarEvent
	state     State
	initiated uint64
	applied   uint64
	cancel    context.CancelFunc

	customMu sync.Mutex
	custom   customCache
}

// customCacheTTL bounds how long expanded custom events are reused before
// the repository is read again.
const customCacheTTL = time.Minute

type customCache struct {
	valid    bool
	zone     string
	loadedAt time.Time
	events   []model.CalendarEvent
}

func New(fetcher Fetcher, customs CustomRepository, opts Options) *Store {
	utc := func(context.Context) *time.Location { return time.UTC }
	if opts.SourceLocation == nil {
		opts.SourceLocation = utc
	}
	if opts.DisplayLocation == nil {
		opts.DisplayLocation = utc
	}
	if opts.CustomHorizon <= 0 {
		opts.CustomHorizon = 365 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		fetcher: fetcher,
		customs: customs,
		opts:    opts,
		remote:  []model.CalendarEvent{},
	}
}

// Refetch reloads the remote feed and swaps the remote snapshot as a whole.
//
// A call cancels any refetch still in flight. Results are applied only if
// no later-started refetch has been applied already; stale results are
// dropped and reported with ErrSuperseded. On failure the previous snapshot
// stays visible and the error (wrapping ErrFeedFetch) is recorded in State.
func (s *Store) Refetch(ctx context.Context) error {
	s.mu.Lock()
	s.initiated++
	gen := s.initiated
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	attempt := s.opts.Now()
	res, err := s.load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if gen < s.initiated {
			metrics.Refetches.WithLabelValues("superseded").Inc()
			return fmt.Errorf("%w: %v", model.ErrSuperseded, err)
		}
		s.state.LastAttempt = attempt
		s.state.LastError = err.Error()
		metrics.Refetches.WithLabelValues("error").Inc()
		appLog.Error("store: refetch failed, keeping previous events", err, "remote_events", len(s.remote))
		return err
	}

	if gen <= s.applied {
		metrics.Refetches.WithLabelValues("superseded").Inc()
		return model.ErrSuperseded
	}

	s.applied = gen
	s.remote = res.events
	s.state = State{
		RemoteEvents: len(res.events),
		LastAttempt:  attempt,
		LastSuccess:  s.opts.Now(),
		FromCache:    res.fromCache,
		Skipped:      res.skipped,
	}
	if gen == s.initiated {
		s.cancel = nil
	}

	metrics.Refetches.WithLabelValues("ok").Inc()
	metrics.RemoteEvents.Set(float64(len(res.events)))
	metrics.SkippedRecords.Add(float64(len(res.skipped)))
	appLog.Info("store: remote events replaced", "events", len(res.events), "skipped", len(res.skipped), "from_cache", res.fromCache)
	return nil
}

type loadResult struct {
	events    []model.CalendarEvent
	skipped   []feed.SkippedRecord
	fromCache bool
}

func (s *Store) load(ctx context.Context) (loadResult, error) {
	fetched, err := s.fetcher.FetchOne(ctx, feed.Source{ID: "events", URL: s.opts.EventsURL})
	if err != nil {
		if !errors.Is(err, model.ErrFeedFetch) {
			err = fmt.Errorf("%w: %w", model.ErrFeedFetch, err)
		}
		return loadResult{}, err
	}
	if ctx.Err() != nil {
		return loadResult{}, fmt.Errorf("%w: %w", model.ErrFeedFetch, ctx.Err())
	}

	tr, err := feed.Transform(fetched.Body, s.opts.SourceLocation(ctx))
	if err != nil {
		return loadResult{}, fmt.Errorf("%w: %w", model.ErrFeedFetch, err)
	}
	return loadResult{events: tr.Events, skipped: tr.Skipped, fromCache: fetched.FromCache}, nil
}

// State returns the refetch state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Skipped = append([]feed.SkippedRecord(nil), s.state.Skipped...)
	return st
}

// Remote returns the current remote snapshot.
func (s *Store) Remote() []model.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.CalendarEvent(nil), s.remote...)
}

// Events returns remote events merged with expanded custom events. On a
// SourceID collision the custom event wins.
func (s *Store) Events(ctx context.Context) []model.CalendarEvent {
	merged := s.Remote()

	index := make(map[string]int, len(merged))
	for i, ev := range merged {
		index[ev.SourceID] = i
	}

	for _, ev := range s.expandedCustoms(ctx) {
		if i, ok := index[ev.SourceID]; ok {
			merged[i] = ev
			continue
		}
		index[ev.SourceID] = len(merged)
		merged = append(merged, ev)
	}
	return merged
}

// expandedCustoms returns the custom events expanded in the display zone.
// The result is reused until a custom event changes through the Store, the
// display zone changes or customCacheTTL passes.
func (s *Store) expandedCustoms(ctx context.Context) []model.CalendarEvent {
	loc := s.opts.DisplayLocation(ctx)
	now := s.opts.Now()

	s.customMu.Lock()
	defer s.customMu.Unlock()

	c := s.custom
	if c.valid && c.zone == loc.String() && !now.Before(c.loadedAt) && now.Sub(c.loadedAt) < customCacheTTL {
		return c.events
	}

	expanded, err := ics.ExpandCustom(s.customs.Load(ctx), ics.ExpandConfig{
		Location:   loc,
		RangeStart: now.Add(-s.opts.CustomHorizon),
		RangeEnd:   now.Add(s.opts.CustomHorizon),
	})
	if err != nil {
		appLog.Error("store: custom expansion failed", err)
		return nil
	}
	s.custom = customCache{valid: true, zone: loc.String(), loadedAt: now, events: expanded.Events}
	return expanded.Events
}

func (s *Store) invalidateCustoms() {
	s.customMu.Lock()
	s.custom = customCache{}
	s.customMu.Unlock()
}

// Find returns the merged event with the given SourceID.
func (s *Store) Find(ctx context.Context, id string) (model.CalendarEvent, bool) {
	for _, ev := range s.Events(ctx) {
		if ev.SourceID == id {
			return ev, true
		}
	}
	return model.CalendarEvent{}, false
}

// Customs returns the persisted custom events, unexpanded.
func (s *Store) Customs(ctx context.Context) []model.CustomEvent {
	return s.customs.Load(ctx)
}

func (s *Store) AddCustom(ctx context.Context, ce model.CustomEvent) (model.CustomEvent, error) {
	added, err := s.customs.Add(ctx, ce)
	if err == nil {
		s.invalidateCustoms()
	}
	return added, err
}

func (s *Store) UpdateCustom(ctx context.Context, ce model.CustomEvent) (model.CustomEvent, error) {
	updated, err := s.customs.Update(ctx, ce)
	if err == nil {
		s.invalidateCustoms()
	}
	return updated, err
}

func (s *Store) DeleteCustom(ctx context.Context, id string) error {
	err := s.customs.Remove(ctx, id)
	if err == nil {
		s.invalidateCustoms()
	}
	return err
}

// Categories returns the sorted distinct categories of the merged view.
func (s *Store) Categories(ctx context.Context) []string {
	set := make(map[string]struct{})
	for _, ev := range s.Events(ctx) {
		set[ev.Category] = struct{}{}
	}
	return sortedKeys(set)
}

// Detail fields that never feed the Pokémon bucket. The feed has no schema
// for detail fields, so bucketing is by name.
var nonPokemonFields = map[string]struct{}{
	"category":    {},
	"article_url": {},
	"banner_url":  {},
	"description": {},
	"bonuses":     {},
}

const bonusField = "bonuses"

// DetailValues are the distinct detail values across all events.
type DetailValues struct {
	Pokemon []string `json:"pokemon"`
	Bonuses []string `json:"bonuses"`
}

// Details buckets every opaque detail value into Pokémon-like or bonus
// values, sorted and de-duplicated.
func (s *Store) Details(ctx context.Context) DetailValues {
	return BucketDetails(s.Events(ctx))
}

// BucketDetails is the projection behind Store.Details.
func BucketDetails(events []model.CalendarEvent) DetailValues {
	pokemon := make(map[string]struct{})
	bonuses := make(map[string]struct{})
	for _, ev := range events {
		for field, values := range ev.Details {
			target := pokemon
			if field == bonusField {
				target = bonuses
			} else if _, excluded := nonPokemonFields[field]; excluded {
				continue
			}
			for _, v := range values {
				target[v] = struct{}{}
			}
		}
	}
	return DetailValues{Pokemon: sortedKeys(pokemon), Bonuses: sortedKeys(bonuses)}
}

// NextUpcoming returns the earliest event starting after now.
func (s *Store) NextUpcoming(ctx context.Context, now time.Time) (model.CalendarEvent, bool) {
	return NextUpcoming(s.Events(ctx), now)
}

// NextUpcoming picks the earliest event with Start after now; ties break on
// SourceID to stay deterministic.
func NextUpcoming(events []model.CalendarEvent, now time.Time) (model.CalendarEvent, bool) {
	upcoming := make([]model.CalendarEvent, 0)
	for _, ev := range events {
		if ev.Start.After(now) {
			upcoming = append(upcoming, ev)
		}
	}
	if len(upcoming) == 0 {
		return model.CalendarEvent{}, false
	}
	sort.Slice(upcoming, func(i, j int) bool {
		if upcoming[i].Start.Equal(upcoming[j].Start) {
			return upcoming[i].SourceID < upcoming[j].SourceID
		}
		return upcoming[i].Start.Before(upcoming[j].Start)
	})
	return upcoming[0], true
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
