package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"eventcal/internal/filter"
	"eventcal/internal/ics"
	appLog "eventcal/internal/log"
	"eventcal/internal/model"
	"eventcal/internal/status"
)

// eventDTO is an event as served to clients, annotated with live status and
// the user's saved/note state.
type eventDTO struct {
	status.Annotated
	Saved bool   `json:"saved"`
	Note  string `json:"note,omitempty"`
}

type eventsResponse struct {
	Events          []eventDTO    `json:"events"`
	Total           int           `json:"total"`
	Filters         model.Filters `json:"filters"`
	DisplayTimeZone string        `json:"display_timezone"`
	GeneratedAt     time.Time     `json:"generated_at"`
}

// Query parameters that, when present, replace the persisted filter state.
var filterParams = []string{"q", "category", "start", "end", "from_hour", "to_hour", "active", "saved_only"}

// filtersFromRequest builds filters from the query string, or returns the
// persisted filter state if the query names none of them.
func (s *Server) filtersFromRequest(r *http.Request, loc *time.Location) (model.Filters, error) {
	q := r.URL.Query()
	present := false
	for _, p := range filterParams {
		if q.Has(p) {
			present = true
			break
		}
	}
	if !present {
		return s.deps.Filters.Load(r.Context()), nil
	}
	return parseFilters(q, loc)
}

func parseFilters(q url.Values, loc *time.Location) (model.Filters, error) {
	f := model.DefaultFilters()
	f.SearchTerm = q.Get("q")

	for _, c := range q["category"] {
		if c = strings.TrimSpace(c); c != "" {
			f.SelectedCategories = append(f.SelectedCategories, c)
		}
	}
	if ok, _ := strconv.ParseBool(q.Get("saved_only")); ok {
		f.SelectedCategories = []string{model.CategorySaved}
	}

	var err error
	if f.StartDate, err = parseDateParam(q.Get("start"), loc); err != nil {
		return f, fmt.Errorf("start: %w", err)
	}
	if f.EndDate, err = parseDateParam(q.Get("end"), loc); err != nil {
		return f, fmt.Errorf("end: %w", err)
	}

	if v := q.Get("from_hour"); v != "" {
		if f.TimeRange[0], err = strconv.ParseFloat(v, 64); err != nil {
			return f, fmt.Errorf("from_hour: %w", err)
		}
	}
	if v := q.Get("to_hour"); v != "" {
		if f.TimeRange[1], err = strconv.ParseFloat(v, 64); err != nil {
			return f, fmt.Errorf("to_hour: %w", err)
		}
	}
	if v := q.Get("active"); v != "" {
		if f.ShowActiveOnly, err = strconv.ParseBool(v); err != nil {
			return f, fmt.Errorf("active: %w", err)
		}
	}
	return f, f.Validate()
}

// parseDateParam accepts RFC 3339 instants or plain dates, the latter read
// as midnight in loc.
func parseDateParam(v string, loc *time.Location) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, loc)
	if err != nil {
		return nil, errors.New("expected RFC 3339 or YYYY-MM-DD")
	}
	return &t, nil
}

// filtered runs the filter engine over the merged events.
func (s *Server) filtered(ctx context.Context, f model.Filters, loc *time.Location, now time.Time) []model.CalendarEvent {
	events := s.deps.Store.Events(ctx)
	saved := s.deps.Saved.Load(ctx)
	return filter.Apply(events, f, saved, now, loc)
}

func (s *Server) decorate(ctx context.Context, events []model.CalendarEvent, now time.Time) []eventDTO {
	saved := s.deps.Saved.Load(ctx)
	notes := s.deps.Notes.Load(ctx)

	annotated := status.Annotate(events, now)
	out := make([]eventDTO, len(annotated))
	for i, a := range annotated {
		_, isSaved := saved[a.SourceID]
		out[i] = eventDTO{Annotated: a, Saved: isSaved, Note: notes[a.SourceID]}
	}
	return out
}

// handleEvents returns the filtered, status-annotated event list.
//
// GET /api/events?q=&category=&category=&start=&end=&from_hour=&to_hour=&active=&saved_only=
//   - start/end: RFC 3339 or YYYY-MM-DD (midnight in the display timezone)
//   - from_hour/to_hour: [from, to) hours of the day in the display timezone
//
// Without any of these parameters the persisted filter state applies.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loc := s.displayLocation(ctx)

	f, err := s.filtersFromRequest(r, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.deps.Now()
	events := s.filtered(ctx, f, loc, now)

	writeJSON(w, http.StatusOK, eventsResponse{
		Events:          s.decorate(ctx, events, now),
		Total:           len(events),
		Filters:         f,
		DisplayTimeZone: loc.String(),
		GeneratedAt:     now,
	})
}

func (s *Server) handleNextEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.deps.Now()

	ev, ok := s.deps.Store.NextUpcoming(ctx, now)
	if !ok {
		writeError(w, http.StatusNotFound, "no upcoming events")
		return
	}
	writeJSON(w, http.StatusOK, s.decorate(ctx, []model.CalendarEvent{ev}, now)[0])
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"categories": s.deps.Store.Categories(r.Context())})
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Store.Details(r.Context()))
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Store.State())
}

// refreshTimeout bounds a manual refresh independently of the client
// connection, so a closed tab does not abort the swap.
const refreshTimeout = 2 * time.Minute

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), refreshTimeout)
	defer cancel()

	err := s.deps.Store.Refetch(ctx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.deps.Store.State())
	case errors.Is(err, model.ErrSuperseded):
		writeJSON(w, http.StatusAccepted, s.deps.Store.State())
	case errors.Is(err, model.ErrFeedFetch):
		type refreshError struct {
			Error string `json:"error"`
			State any    `json:"state"`
		}
		writeJSON(w, http.StatusBadGateway, refreshError{Error: err.Error(), State: s.deps.Store.State()})
	default:
		serverError(w, err)
	}
}

// handleExport serves an .ics download.
//
// GET /api/export?id=<source id>&id=...
// Without ids, every event matching the persisted filters is exported.
// Events that cannot be exported are listed in X-Export-Skipped.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loc := s.displayLocation(ctx)
	now := s.deps.Now()

	var events []model.CalendarEvent
	ids := r.URL.Query()["id"]
	if len(ids) == 0 {
		events = s.filtered(ctx, s.deps.Filters.Load(ctx), loc, now)
	} else {
		for _, id := range ids {
			ev, ok := s.deps.Store.Find(ctx, id)
			if !ok {
				writeError(w, http.StatusNotFound, "unknown event: "+id)
				return
			}
			events = append(events, ev)
		}
	}

	baseURL := ""
	if s.deps.Config != nil {
		baseURL = s.deps.Config.BaseURL
	}
	res, err := ics.Export(events, ics.ExportOptions{Location: loc, BaseURL: baseURL, Now: now})
	if err != nil {
		if errors.Is(err, model.ErrExport) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		serverError(w, err)
		return
	}

	if len(res.Skipped) > 0 {
		skipped := make([]string, len(res.Skipped))
		for i, sk := range res.Skipped {
			skipped[i] = url.QueryEscape(sk.SourceID)
		}
		w.Header().Set("X-Export-Skipped", strings.Join(skipped, ","))
		appLog.Info("export: some events skipped", "skipped", len(res.Skipped), "exported", res.Exported)
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, res.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}
