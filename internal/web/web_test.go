package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcal/internal/config"
	"eventcal/internal/feed"
	"eventcal/internal/kv"
	"eventcal/internal/model"
	"eventcal/internal/repo"
	"eventcal/internal/status"
	"eventcal/internal/store"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const payload = `{
	"Community Day": [
		{"title": "Community Day", "start_time": 1717239600, "end_time": 1717250400, "article_url": "https://example.com/cd"}
	],
	"Raid Hour": [
		{"title": "Mewtwo Raid Hour", "start_time": 1717610400, "article_url": "https://example.com/raid"}
	]
}`

type fetchFunc func(ctx context.Context, src feed.Source) (feed.FetchResult, error)

func (f fetchFunc) FetchOne(ctx context.Context, src feed.Source) (feed.FetchResult, error) {
	return f(ctx, src)
}

type timeZonesFunc func(ctx context.Context, rawURL string) ([]model.TimeZoneOption, error)

func (f timeZonesFunc) FetchTimeZones(ctx context.Context, rawURL string) ([]model.TimeZoneOption, error) {
	return f(ctx, rawURL)
}

type testEnv struct {
	server  *Server
	store   *store.Store
	fail    bool
	tzCalls int
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	return newTestEnvOn(t, cfg, kv.NewMemory())
}

func newTestEnvOn(t *testing.T, cfg *config.Config, kvStore kv.Store) *testEnv {
	t.Helper()
	env := &testEnv{}

	env.store = store.New(fetchFunc(func(_ context.Context, src feed.Source) (feed.FetchResult, error) {
		if env.fail {
			return feed.FetchResult{}, errors.New("upstream down")
		}
		return feed.FetchResult{Source: src, Body: []byte(payload)}, nil
	}), repo.NewCustomEvents(kvStore), store.Options{
		EventsURL: "https://feed.example.com/events.json",
		Now:       func() time.Time { return now },
	})
	require.NoError(t, env.store.Refetch(context.Background()))

	if cfg == nil {
		cfg = config.DefaultConfig()
		cfg.BaseURL = "https://cal.example.com"
	}

	env.server = NewServer(Deps{
		Config:   cfg,
		Store:    env.store,
		Saved:    repo.NewSavedEvents(kvStore),
		Notes:    repo.NewNotes(kvStore),
		Filters:  repo.NewFilterState(kvStore),
		Settings: repo.NewSettings(kvStore, model.DefaultSettings()),
		TimeZones: timeZonesFunc(func(context.Context, string) ([]model.TimeZoneOption, error) {
			env.tzCalls++
			return []model.TimeZoneOption{{Text: "Tokyo", Value: "Asia/Tokyo"}}, nil
		}),
		Ticker: status.NewTicker(time.Hour, nil),
		Now:    func() time.Time { return now },
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type eventsBody struct {
	Events []struct {
		SourceID   string `json:"source_id"`
		Title      string `json:"title"`
		Status     string `json:"status"`
		StatusText string `json:"status_text"`
		Saved      bool   `json:"saved"`
		Note       string `json:"note"`
		Custom     bool   `json:"custom"`
	} `json:"events"`
	Total int `json:"total"`
}

func TestNewServerLeavesChiDefaultLoggerAlone(t *testing.T) {
	before := reflect.ValueOf(middleware.DefaultLogger).Pointer()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			NewServer(Deps{Config: config.DefaultConfig()})
		}()
	}
	wg.Wait()

	assert.Equal(t, before, reflect.ValueOf(middleware.DefaultLogger).Pointer())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	env := newTestEnv(t, cfg)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "").Code)

	rec := env.do(t, http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "secret")
	ok := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)
}

func TestListEvents(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[eventsBody](t, rec)
	assert.Equal(t, 2, body.Total)

	statuses := map[string]string{}
	for _, ev := range body.Events {
		statuses[ev.SourceID] = ev.Status
	}
	assert.Equal(t, "active", statuses["https://example.com/cd"])
	assert.Equal(t, "upcoming", statuses["https://example.com/raid"])
}

func TestListEventsWithQueryFilters(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/events?q=mewtwo", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[eventsBody](t, rec)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "https://example.com/raid", body.Events[0].SourceID)

	rec = env.do(t, http.MethodGet, "/api/events?active=true", "")
	body = decode[eventsBody](t, rec)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "https://example.com/cd", body.Events[0].SourceID)

	rec = env.do(t, http.MethodGet, "/api/events?start=2024-06-03&end=2024-06-10", "")
	body = decode[eventsBody](t, rec)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "https://example.com/raid", body.Events[0].SourceID)

	rec = env.do(t, http.MethodGet, "/api/events?category=Community+Day&category=Raid+Hour", "")
	assert.Equal(t, 2, decode[eventsBody](t, rec).Total)
}

func TestListEventsRejectsBadQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, q := range []string{"from_hour=abc", "from_hour=20&to_hour=10", "from_hour=NaN", "to_hour=Inf", "from_hour=-Inf&to_hour=5", "start=tomorrow", "active=maybe"} {
		rec := env.do(t, http.MethodGet, "/api/events?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestWriteJSONEncodeFailureIsServerError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"bad": math.NaN()})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"the server encountered a problem and could not process your request"}`, rec.Body.String())
}

func TestPersistedFiltersApplyWithoutQuery(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/api/filters", `{"search_term":"community","selected_categories":[],"time_range":[0,24],"show_active_only":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[eventsBody](t, env.do(t, http.MethodGet, "/api/events", ""))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "https://example.com/cd", body.Events[0].SourceID)

	rec = env.do(t, http.MethodPut, "/api/filters", `{"time_range":[10,5]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	got := decode[model.Filters](t, env.do(t, http.MethodGet, "/api/filters", ""))
	assert.Equal(t, "community", got.SearchTerm)
}

func TestSavedAndNotes(t *testing.T) {
	env := newTestEnv(t, nil)
	id := "https://example.com/raid"

	rec := env.do(t, http.MethodPost, "/api/saved/toggle", `{"id":"`+id+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]any](t, rec)["saved"].(bool))

	rec = env.do(t, http.MethodPut, "/api/notes", `{"id":"`+id+`","text":"bring friends"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	body := decode[eventsBody](t, env.do(t, http.MethodGet, "/api/events?saved_only=true", ""))
	require.Len(t, body.Events, 1)
	assert.Equal(t, id, body.Events[0].SourceID)
	assert.True(t, body.Events[0].Saved)
	assert.Equal(t, "bring friends", body.Events[0].Note)

	saved := decode[map[string][]string](t, env.do(t, http.MethodGet, "/api/saved", ""))
	assert.Equal(t, []string{id}, saved["ids"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/saved/toggle", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/saved/toggle", `{"id":"x","extra":1}`).Code)
}

func TestCustomEventCRUD(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/custom", `{"title":"Picnic","start":"2024-06-02T10:00:00Z","end":"2024-06-02T12:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.CustomEvent](t, rec)
	require.NotEmpty(t, created.ID)

	body := decode[eventsBody](t, env.do(t, http.MethodGet, "/api/events", ""))
	assert.Equal(t, 3, body.Total)

	rec = env.do(t, http.MethodPut, "/api/custom/"+created.ID, `{"title":"Picnic 2","start":"2024-06-02T10:00:00Z","end":"2024-06-02T12:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Picnic 2", decode[model.CustomEvent](t, rec).Title)

	rec = env.do(t, http.MethodPut, "/api/custom/unknown", `{"title":"x","start":"2024-06-02T10:00:00Z","end":"2024-06-02T12:00:00Z"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/custom", `{"title":"Backwards","start":"2024-06-02T10:00:00Z","end":"2024-06-02T09:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list := decode[map[string][]model.CustomEvent](t, env.do(t, http.MethodGet, "/api/custom", ""))
	assert.Len(t, list["events"], 1)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/custom/"+created.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/custom/"+created.ID, "").Code)
	assert.Len(t, env.store.Remote(), 2)
}

func TestImportCustom(t *testing.T) {
	env := newTestEnv(t, nil)
	ics := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
		"BEGIN:VEVENT",
		"UID:a",
		"SUMMARY:Imported",
		"DTSTART:20240603T100000Z",
		"DTEND:20240603T110000Z",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	req := httptest.NewRequest(http.MethodPost, "/api/custom/import", strings.NewReader(ics))
	req.Header.Set("Content-Type", "text/calendar")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Imported []model.CustomEvent `json:"imported"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Imported, 1)
	assert.Equal(t, "Imported", resp.Imported[0].Title)
	assert.Len(t, env.store.Customs(context.Background()), 1)
}

// failingStore accepts a fixed number of writes to one key, then fails.
type failingStore struct {
	kv.Store
	key    string
	writes int
}

func (f *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if key == f.key {
		if f.writes == 0 {
			return errors.New("disk full")
		}
		f.writes--
	}
	return f.Store.Set(ctx, key, value)
}

func TestImportCustomReportsEventsStoredBeforeFailure(t *testing.T) {
	env := newTestEnvOn(t, nil, &failingStore{Store: kv.NewMemory(), key: repo.KeyCustomEvents, writes: 1})
	vevent := func(uid, title string) []string {
		return []string{
			"BEGIN:VEVENT",
			"UID:" + uid,
			"SUMMARY:" + title,
			"DTSTART:20240603T100000Z",
			"DTEND:20240603T110000Z",
			"END:VEVENT",
		}
	}
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//test//EN"}
	lines = append(lines, vevent("a", "First")...)
	lines = append(lines, vevent("b", "Second")...)
	lines = append(lines, "END:VCALENDAR", "")

	req := httptest.NewRequest(http.MethodPost, "/api/custom/import", strings.NewReader(strings.Join(lines, "\r\n")))
	req.Header.Set("Content-Type", "text/calendar")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

	var resp struct {
		Imported []model.CustomEvent `json:"imported"`
		Error    string              `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Imported, 1)
	assert.Equal(t, "First", resp.Imported[0].Title)
	assert.NotEmpty(t, resp.Error)
	assert.Len(t, env.store.Customs(context.Background()), 1)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/export?id="+url.QueryEscape("https://example.com/cd"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="community-day.ics"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "UID:https://example.com/cd")

	rec = env.do(t, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "events.ics")
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "BEGIN:VEVENT"))

	rec = env.do(t, http.MethodGet, "/api/export?id=missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Nothing matches the filter: nothing to export.
	rec = env.do(t, http.MethodPut, "/api/filters", `{"search_term":"zzz","time_range":[0,24]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/export", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["remote_events"])

	env.fail = true
	rec = env.do(t, http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	// Stale data stays visible.
	assert.Equal(t, 2, decode[eventsBody](t, env.do(t, http.MethodGet, "/api/events", "")).Total)
	state := decode[store.State](t, env.do(t, http.MethodGet, "/api/state", ""))
	assert.Contains(t, state.LastError, "upstream down")
}

func TestProjectionEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	cats := decode[map[string][]string](t, env.do(t, http.MethodGet, "/api/categories", ""))
	assert.Equal(t, []string{"Community Day", "Raid Hour"}, cats["categories"])

	rec := env.do(t, http.MethodGet, "/api/events/next", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://example.com/raid", decode[map[string]any](t, rec)["source_id"])

	rec = env.do(t, http.MethodGet, "/api/details", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t, nil)

	got := decode[model.Settings](t, env.do(t, http.MethodGet, "/api/settings", ""))
	assert.Equal(t, model.DefaultSettings(), got)

	rec := env.do(t, http.MethodPut, "/api/settings", `{"theme":"dark","week_start":"sunday","time_zone":"Asia/Tokyo","source_time_zone":"UTC","use_24_hour":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Asia/Tokyo", decode[model.Settings](t, rec).TimeZone)

	events := decode[map[string]any](t, env.do(t, http.MethodGet, "/api/events", ""))
	assert.Equal(t, "Asia/Tokyo", events["display_timezone"])

	rec = env.do(t, http.MethodPut, "/api/settings", `{"time_zone":"Nowhere/Land"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTimeZonesAreCached(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodGet, "/api/timezones", "")
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[[]model.TimeZoneOption](t, rec)
		assert.Equal(t, "Asia/Tokyo", got[0].Value)
	}
	assert.Equal(t, 1, env.tzCalls)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodDelete, "/api/events", "").Code)
}

func TestStatusStreamSendsInitialFrame(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: status\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var frames []statusFrame
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &frames))
	assert.Len(t, frames, 2)
	assert.True(t, env.server.deps.Ticker.Running())
}
