package web

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"eventcal/internal/model"
)

func (s *Server) handleListSaved(w http.ResponseWriter, r *http.Request) {
	set := s.deps.Saved.Load(r.Context())
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string][]string{"ids": ids})
}

type idRequest struct {
	ID string `json:"id"`
}

// handleToggleSaved flips the saved state of one event.
//
// POST /api/saved/toggle {"id": "<source id>"}
func (s *Server) handleToggleSaved(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	saved, err := s.deps.Saved.Toggle(r.Context(), req.ID)
	if err != nil {
		serverError(w, err)
		return
	}
	type toggleResponse struct {
		ID    string `json:"id"`
		Saved bool   `json:"saved"`
	}
	writeJSON(w, http.StatusOK, toggleResponse{ID: req.ID, Saved: saved})
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]map[string]string{"notes": s.deps.Notes.Load(r.Context())})
}

type noteRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// handleSetNote stores a note; blank text deletes it.
//
// PUT /api/notes {"id": "<source id>", "text": "..."}
func (s *Server) handleSetNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := s.deps.Notes.Set(r.Context(), req.ID, req.Text); err != nil {
		serverError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTimeZones serves the selectable timezone list, cached for an hour.
// A failed fetch falls back to the stale list when there is one.
func (s *Server) handleTimeZones(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	s.tzMu.RLock()
	cached := s.tzCache
	s.tzMu.RUnlock()
	if cached != nil && now.Sub(cached.updatedAt) < timeZoneCacheTTL {
		writeJSON(w, http.StatusOK, cached.options)
		return
	}

	if s.deps.TimeZones == nil || s.deps.Config == nil || s.deps.Config.Feed.TimezonesURL == "" {
		writeJSON(w, http.StatusOK, []model.TimeZoneOption{{Text: "UTC", Value: "UTC"}})
		return
	}

	options, err := s.deps.TimeZones.FetchTimeZones(r.Context(), s.deps.Config.Feed.TimezonesURL)
	if err != nil {
		if cached != nil {
			writeJSON(w, http.StatusOK, cached.options)
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.tzMu.Lock()
	s.tzCache = &timeZoneCache{options: options, updatedAt: now}
	s.tzMu.Unlock()
	writeJSON(w, http.StatusOK, options)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Load(r.Context()))
}

// handlePutSettings replaces the settings. A changed source timezone only
// affects remote events from the next refetch on.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var in model.Settings
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Settings.Save(r.Context(), in); err != nil {
		if errors.Is(err, model.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Settings.Load(r.Context()))
}

func (s *Server) handleGetFilters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Filters.Load(r.Context()))
}

func (s *Server) handlePutFilters(w http.ResponseWriter, r *http.Request) {
	var in model.Filters
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.SelectedCategories == nil {
		in.SelectedCategories = []string{}
	}
	if err := s.deps.Filters.Save(r.Context(), in); err != nil {
		if errors.Is(err, model.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}
