package web

import (
	"net/http"
	"time"

	"agenda/internal/model"
)

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListReminders(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeStoreError(w, err, "reminders")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleListCompletedReminders(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListCompletedReminders(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeStoreError(w, err, "reminders")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// decodeReminder validates the body and resolves its date to an instant.
func (s *Server) decodeReminder(w http.ResponseWriter, r *http.Request) (model.Reminder, time.Time, bool) {
	var rem model.Reminder
	if err := decodeJSON(w, r, &rem); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return rem, time.Time{}, false
	}
	if err := rem.Validate(s.loc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return rem, time.Time{}, false
	}
	due, err := model.ParseTime(rem.Date, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return rem, time.Time{}, false
	}
	return rem, due, true
}

func (s *Server) handleCreateReminder(w http.ResponseWriter, r *http.Request) {
	rem, due, ok := s.decodeReminder(w, r)
	if !ok {
		return
	}
	if err := s.store.CreateReminder(r.Context(), r.PathValue("uid"), &rem, due); err != nil {
		writeStoreError(w, err, "reminder")
		return
	}
	writeJSON(w, http.StatusCreated, rem)
}

func (s *Server) handleUpdateReminder(w http.ResponseWriter, r *http.Request) {
	rem, due, ok := s.decodeReminder(w, r)
	if !ok {
		return
	}
	rem.ID = r.PathValue("id")
	if err := s.store.UpdateReminder(r.Context(), r.PathValue("uid"), &rem, due); err != nil {
		writeStoreError(w, err, "reminder")
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleCompleteReminder(w http.ResponseWriter, r *http.Request) {
	rem, err := s.store.CompleteReminder(r.Context(), r.PathValue("uid"), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "pending reminder")
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleDeleteReminder(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteReminder(r.Context(), r.PathValue("uid"), r.PathValue("id")); err != nil {
		writeStoreError(w, err, "reminder")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
