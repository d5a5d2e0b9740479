package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"eventcal/internal/ics"
	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

// customInput is the writable part of a custom event.
type customInput struct {
	Title       string           `json:"title"`
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	Description string           `json:"description"`
	BannerURL   string           `json:"banner_url"`
	Repeat      model.RepeatType `json:"repeat"`
	RepeatCount int              `json:"repeat_count"`
}

func (in customInput) event(id string) model.CustomEvent {
	return model.CustomEvent{
		ID:          id,
		Title:       strings.TrimSpace(in.Title),
		Start:       in.Start,
		End:         in.End,
		Description: in.Description,
		BannerURL:   in.BannerURL,
		Repeat:      in.Repeat,
		RepeatCount: in.RepeatCount,
	}
}

func (s *Server) handleListCustom(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]model.CustomEvent{"events": s.deps.Store.Customs(r.Context())})
}

func (s *Server) handleCreateCustom(w http.ResponseWriter, r *http.Request) {
	var in customInput
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ce, err := s.deps.Store.AddCustom(r.Context(), in.event(""))
	if err != nil {
		s.customError(w, err)
		return
	}
	w.Header().Set("Location", "/api/custom/"+ce.ID)
	writeJSON(w, http.StatusCreated, ce)
}

func (s *Server) handleUpdateCustom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var in customInput
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ce, err := s.deps.Store.UpdateCustom(r.Context(), in.event(id))
	if err != nil {
		s.customError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ce)
}

func (s *Server) handleDeleteCustom(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteCustom(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.customError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const maxImportBytes = 4 << 20

// handleImportCustom adds every VEVENT of an uploaded .ics body as a custom
// event. Components that cannot be read or stored are reported, not fatal.
//
// POST /api/custom/import (body: text/calendar)
func (s *Server) handleImportCustom(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("body must not be larger than %d bytes", maxImportBytes))
		return
	}

	parsed, err := ics.ParseICS(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid calendar: "+err.Error())
		return
	}

	type importResponse struct {
		Imported []model.CustomEvent `json:"imported"`
		Skipped  map[string]string   `json:"skipped"`
		Error    string              `json:"error,omitempty"`
	}
	resp := importResponse{Imported: []model.CustomEvent{}, Skipped: parsed.Skipped}
	for i, ce := range parsed.Events {
		added, err := s.deps.Store.AddCustom(r.Context(), ce)
		if err != nil {
			if !errors.Is(err, model.ErrInvalidEvent) {
				// Events stored so far stay stored; the caller learns which.
				appLog.Error("custom import stopped", err, "imported", len(resp.Imported), "remaining", len(parsed.Events)-i)
				resp.Error = "the server could not store the remaining events"
				writeJSON(w, http.StatusInternalServerError, resp)
				return
			}
			resp.Skipped[fmt.Sprintf("%s#%d", ce.Title, i)] = err.Error()
			continue
		}
		resp.Imported = append(resp.Imported, added)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) customError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "custom event not found")
	default:
		serverError(w, err)
	}
}
