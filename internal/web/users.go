package web

import (
	"net/http"
	"strings"

	"agenda/internal/model"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeStoreError(w, err, "users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var u model.User
	if err := decodeJSON(w, r, &u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if err := u.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateUser(r.Context(), &u); err != nil {
		writeStoreError(w, err, "user")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// handleUpdateUser changes name and admin flag; email is immutable.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var u model.User
	if err := decodeJSON(w, r, &u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u.ID = r.PathValue("id")
	if err := s.store.UpdateUser(r.Context(), &u); err != nil {
		writeStoreError(w, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteUser(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err, "user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
