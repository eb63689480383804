package web

import (
	"net/http"
	"strconv"
	"time"

	"agenda/internal/model"
)

const (
	defaultHistoryDays = 30
	maxHistoryDays     = 366
)

func (s *Server) handleGetPomodoroSettings(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPomodoroSettings(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeStoreError(w, err, "pomodoro settings")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutPomodoroSettings(w http.ResponseWriter, r *http.Request) {
	var p model.PomodoroSettings
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SavePomodoroSettings(r.Context(), r.PathValue("uid"), p); err != nil {
		writeStoreError(w, err, "pomodoro settings")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreatePomodoroSession(w http.ResponseWriter, r *http.Request) {
	var p model.PomodoroSession
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.Normalize()
	if err := s.store.AddPomodoroSession(r.Context(), r.PathValue("uid"), &p); err != nil {
		writeStoreError(w, err, "pomodoro session")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleListPomodoroSessions returns the focus history of the last ?days=
// days (default 30), oldest first.
func (s *Server) handleListPomodoroSessions(w http.ResponseWriter, r *http.Request) {
	days := defaultHistoryDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryDays {
			writeError(w, http.StatusBadRequest, "days must be a number between 1 and 366")
			return
		}
		days = n
	}
	since := time.Now().AddDate(0, 0, -days)
	list, err := s.store.ListPomodoroSessions(r.Context(), r.PathValue("uid"), since)
	if err != nil {
		writeStoreError(w, err, "pomodoro sessions")
		return
	}
	writeJSON(w, http.StatusOK, list)
}
