package web

import (
	"net/http"

	"agenda/internal/model"
)

// Only raw task ids are addressable. An occurrence id ("<id>-<start>")
// does not name a stored task and yields 404.

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeStoreError(w, err, "tasks")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) decodeTask(w http.ResponseWriter, r *http.Request) (model.Task, bool) {
	var t model.Task
	if err := decodeJSON(w, r, &t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return t, false
	}
	t.Normalize()
	if err := t.Validate(s.loc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return t, false
	}
	return t, true
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.decodeTask(w, r)
	if !ok {
		return
	}
	if err := s.store.CreateTask(r.Context(), r.PathValue("uid"), &t); err != nil {
		writeStoreError(w, err, "task")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), r.PathValue("uid"), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "task")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.decodeTask(w, r)
	if !ok {
		return
	}
	t.ID = r.PathValue("id")
	if err := s.store.UpdateTask(r.Context(), r.PathValue("uid"), &t); err != nil {
		writeStoreError(w, err, "task")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTask(r.Context(), r.PathValue("uid"), r.PathValue("id")); err != nil {
		writeStoreError(w, err, "task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeStoreError(w, err, "tags")
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func decodeTag(w http.ResponseWriter, r *http.Request) (model.Tag, bool) {
	var t model.Tag
	if err := decodeJSON(w, r, &t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return t, false
	}
	if err := t.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return t, false
	}
	return t, true
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	t, ok := decodeTag(w, r)
	if !ok {
		return
	}
	if err := s.store.CreateTag(r.Context(), r.PathValue("uid"), &t); err != nil {
		writeStoreError(w, err, "tag")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTag(w http.ResponseWriter, r *http.Request) {
	t, ok := decodeTag(w, r)
	if !ok {
		return
	}
	t.ID = r.PathValue("id")
	if err := s.store.UpdateTag(r.Context(), r.PathValue("uid"), &t); err != nil {
		writeStoreError(w, err, "tag")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTag(r.Context(), r.PathValue("uid"), r.PathValue("id")); err != nil {
		writeStoreError(w, err, "tag")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
