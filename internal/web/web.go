package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"eventcal/internal/config"
	appLog "eventcal/internal/log"
	"eventcal/internal/metrics"
	"eventcal/internal/model"
	"eventcal/internal/repo"
	"eventcal/internal/status"
	"eventcal/internal/store"
)

// TimeZoneSource provides the selectable timezone list.
type TimeZoneSource interface {
	FetchTimeZones(ctx context.Context, rawURL string) ([]model.TimeZoneOption, error)
}

// Deps are the collaborators the HTTP API serves.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Saved     *repo.SavedEvents
	Notes     *repo.Notes
	Filters   *repo.FilterState
	Settings  *repo.SettingsRepo
	TimeZones TimeZoneSource
	Ticker    *status.Ticker
	// Now is the clock; time.Now if nil.
	Now func() time.Time
}

// Server provides the HTTP API over the event pipeline.
type Server struct {
	deps    Deps
	handler http.Handler

	// The timezone list changes rarely; cache it instead of hitting the
	// remote on every request.
	tzMu    sync.RWMutex
	tzCache *timeZoneCache
}

type timeZoneCache struct {
	options   []model.TimeZoneOption
	updatedAt time.Time
}

const timeZoneCacheTTL = time.Hour

// NewServer constructs a new Server.
func NewServer(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{deps: deps}
	s.handler = s.routes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(s.handler)
	}
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewMux()
	r.Use(requestLogger, middleware.Recoverer, middleware.StripSlashes)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "the requested resource could not be found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("the %s method is not supported for this resource", r.Method))
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Get("/events/next", s.handleNextEvent)
		r.Get("/categories", s.handleCategories)
		r.Get("/details", s.handleDetails)
		r.Get("/state", s.handleState)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/export", s.handleExport)
		r.Get("/status/stream", s.handleStatusStream)

		r.Get("/saved", s.handleListSaved)
		r.Post("/saved/toggle", s.handleToggleSaved)
		r.Get("/notes", s.handleListNotes)
		r.Put("/notes", s.handleSetNote)

		r.Route("/custom", func(r chi.Router) {
			r.Get("/", s.handleListCustom)
			r.Post("/", s.handleCreateCustom)
			r.Post("/import", s.handleImportCustom)
			r.Put("/{id}", s.handleUpdateCustom)
			r.Delete("/{id}", s.handleDeleteCustom)
		})

		r.Get("/timezones", s.handleTimeZones)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Get("/filters", s.handleGetFilters)
		r.Put("/filters", s.handlePutFilters)
	})
	return r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	cfg := s.deps.Config
	if cfg == nil || cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return cfg.BasicAuth.Username != "" && cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.deps.Config.BasicAuth.Username
	password := s.deps.Config.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="eventcal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// displayLocation is the zone events are shown in, from settings.
func (s *Server) displayLocation(ctx context.Context) *time.Location {
	return resolveLocationOrUTC(s.deps.Settings.Load(ctx).TimeZone)
}

func resolveLocationOrUTC(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", name)
		return time.UTC
	}
	return loc
}

// requestLogger logs every request at debug level through appLog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appLog.Debug(r.URL.RequestURI(),
			"addr", r.RemoteAddr,
			"protocol", r.Proto,
			"method", r.Method,
		)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		appLog.Error("failed to encode JSON response", err)
		status = http.StatusInternalServerError
		data = []byte(`{"error":"the server encountered a problem and could not process your request"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

func serverError(w http.ResponseWriter, err error) {
	appLog.Error("server error", err)
	writeError(w, http.StatusInternalServerError, "the server encountered a problem and could not process your request")
}

const maxBodyBytes = 1 << 20

// readJSON decodes a single JSON value from the body into dst.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxError):
			return fmt.Errorf("body contains badly-formed JSON (at character %d)", syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("body contains badly-formed JSON")
		case errors.As(err, &unmarshalTypeError):
			if unmarshalTypeError.Field != "" {
				return fmt.Errorf("body contains incorrect JSON type for field %q", unmarshalTypeError.Field)
			}
			return fmt.Errorf("body contains incorrect JSON type (at character %d)", unmarshalTypeError.Offset)
		case errors.Is(err, io.EOF):
			return errors.New("body must not be empty")
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return fmt.Errorf("body contains unknown key %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
		case errors.As(err, &maxBytesError):
			return fmt.Errorf("body must not be larger than %d bytes", maxBodyBytes)
		default:
			return err
		}
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("body must only contain a single JSON value")
	}
	return nil
}
