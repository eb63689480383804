package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"agenda/internal/calendar"
	"agenda/internal/config"
	"agenda/internal/ics"
	appLog "agenda/internal/log"
	"agenda/internal/model"
	"agenda/internal/store"
)

// maxJSONBody caps request bodies of the JSON endpoints.
const maxJSONBody = 1 << 20

// freshnessWait bounds how long a read waits for the live feed to catch
// up with the latest write.
const freshnessWait = 2 * time.Second

// Server provides the HTTP API over storage and the live calendar feeds.
type Server struct {
	cfg     *config.Config
	loc     *time.Location
	store   *store.Storage
	cal     *calendar.Service
	fetcher *ics.Fetcher
	mux     *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, loc *time.Location, st *store.Storage, cal *calendar.Service, fetcher *ics.Fetcher) *Server {
	s := &Server{
		cfg:     cfg,
		loc:     loc,
		store:   st,
		cal:     cal,
		fetcher: fetcher,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := s.logRequests(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          appLog.StdLogger(appLog.LevelError),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Agenda", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
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

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start).String())
	})
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/users/{uid}/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/users/{uid}/events/stream", s.handleEventsStream)
	s.mux.HandleFunc("GET /api/users/{uid}/events/days", s.handleEventDays)
	s.mux.HandleFunc("GET /api/users/{uid}/calendar.ics", s.handleCalendarICS)
	s.mux.HandleFunc("GET /api/users/{uid}/series.ics", s.handleSeriesICS)
	s.mux.HandleFunc("POST /api/users/{uid}/import", s.handleImport)

	s.mux.HandleFunc("GET /api/users/{uid}/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/users/{uid}/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/users/{uid}/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("PUT /api/users/{uid}/tasks/{id}", s.handleUpdateTask)
	s.mux.HandleFunc("DELETE /api/users/{uid}/tasks/{id}", s.handleDeleteTask)

	s.mux.HandleFunc("GET /api/users/{uid}/tags", s.handleListTags)
	s.mux.HandleFunc("POST /api/users/{uid}/tags", s.handleCreateTag)
	s.mux.HandleFunc("PUT /api/users/{uid}/tags/{id}", s.handleUpdateTag)
	s.mux.HandleFunc("DELETE /api/users/{uid}/tags/{id}", s.handleDeleteTag)

	s.mux.HandleFunc("GET /api/users/{uid}/reminders", s.handleListReminders)
	s.mux.HandleFunc("GET /api/users/{uid}/reminders/completed", s.handleListCompletedReminders)
	s.mux.HandleFunc("POST /api/users/{uid}/reminders", s.handleCreateReminder)
	s.mux.HandleFunc("PUT /api/users/{uid}/reminders/{id}", s.handleUpdateReminder)
	s.mux.HandleFunc("POST /api/users/{uid}/reminders/{id}/complete", s.handleCompleteReminder)
	s.mux.HandleFunc("DELETE /api/users/{uid}/reminders/{id}", s.handleDeleteReminder)

	s.mux.HandleFunc("GET /api/users/{uid}/pomodoro/settings", s.handleGetPomodoroSettings)
	s.mux.HandleFunc("PUT /api/users/{uid}/pomodoro/settings", s.handlePutPomodoroSettings)
	s.mux.HandleFunc("GET /api/users/{uid}/pomodoro/sessions", s.handleListPomodoroSessions)
	s.mux.HandleFunc("POST /api/users/{uid}/pomodoro/sessions", s.handleCreatePomodoroSession)

	s.mux.HandleFunc("GET /api/admin/users", s.handleListUsers)
	s.mux.HandleFunc("POST /api/admin/users", s.handleCreateUser)
	s.mux.HandleFunc("PUT /api/admin/users/{id}", s.handleUpdateUser)
	s.mux.HandleFunc("DELETE /api/admin/users/{id}", s.handleDeleteUser)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// feed returns the user's live feed, caught up with the latest write.
func (s *Server) feed(r *http.Request, userID string) (*calendar.Feed, error) {
	f, err := s.cal.Feed(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(r.Context(), freshnessWait)
	defer cancel()
	if err := f.WaitVersion(ctx, s.store.Version(userID)); err != nil {
		appLog.Error("feed behind latest write; serving current snapshot", err, "user", userID)
	}
	return f, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", model.ErrInvalid, err)
	}
	return nil
}

// writeStoreError maps domain errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("request failed", err, "entity", what)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
