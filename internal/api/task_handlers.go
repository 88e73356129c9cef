package api

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/colmb/taskchat/internal/auth"
	"github.com/colmb/taskchat/internal/store"
)

const maxTaskTitleLen = 500

// validTaskTitle trims and checks a title. The second return is a
// client-facing rejection message when the title is unusable.
func validTaskTitle(raw string) (string, string) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", "Task title is required"
	}
	if utf8.RuneCountInString(title) > maxTaskTitleLen {
		return "", "Task title must be at most 500 characters"
	}
	return title, ""
}

type createTaskRequest struct {
	Title string `json:"title"`
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	IsCompleted *bool   `json:"is_completed"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	filter := store.TaskFilter(r.URL.Query().Get("status"))
	tasks, err := s.store.ListTasks(r.Context(), userID, filter)
	if err != nil {
		s.logger.Error("list tasks failed", "user", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req createTaskRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	title, msg := validTaskTitle(req.Title)
	if msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}

	task, err := s.store.CreateTask(r.Context(), userID, title)
	if err != nil {
		s.logger.Error("create task failed", "user", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}
	s.writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	task, err := s.store.GetTask(r.Context(), userID, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task failed", "user", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load task")
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req updateTaskRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Title != nil {
		title, msg := validTaskTitle(*req.Title)
		if msg != "" {
			s.writeError(w, http.StatusBadRequest, msg)
			return
		}
		req.Title = &title
	}

	task, err := s.store.UpdateTask(r.Context(), userID, r.PathValue("id"), req.Title, req.IsCompleted)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		s.logger.Error("update task failed", "user", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to update task")
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	title, err := s.store.DeleteTask(r.Context(), userID, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		s.logger.Error("delete task failed", "user", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to delete task")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted", "title": title})
}
