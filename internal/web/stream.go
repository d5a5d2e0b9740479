package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	appLog "eventcal/internal/log"
	"eventcal/internal/status"
)

type statusFrame struct {
	SourceID   string        `json:"source_id"`
	Status     status.Status `json:"status"`
	StatusText string        `json:"status_text"`
}

// handleStatusStream pushes the live status of the currently filtered events
// as server-sent events, one frame per tick.
//
// GET /api/status/stream (same query parameters as /api/events)
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if s.deps.Ticker == nil {
		writeError(w, http.StatusServiceUnavailable, "status stream disabled")
		return
	}

	ctx := r.Context()
	loc := s.displayLocation(ctx)
	f, err := s.filtersFromRequest(r, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ticks, cancel := s.deps.Ticker.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(now time.Time) error {
		events := s.filtered(ctx, f, loc, now)
		frames := make([]statusFrame, len(events))
		for i, ev := range events {
			st, text := status.Describe(now, ev.Start, ev.End)
			frames[i] = statusFrame{SourceID: ev.SourceID, Status: st, StatusText: text}
		}
		data, err := json.Marshal(frames)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send(s.deps.Now()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			if err := send(s.deps.Now()); err != nil {
				appLog.Debug("status stream closed", "err", err.Error())
				return
			}
		}
	}
}
