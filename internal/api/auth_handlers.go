package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/colmb/taskchat/internal/auth"
	"github.com/colmb/taskchat/internal/store"
)

const minPasswordLen = 8

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		s.writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if len(req.Password) < minPasswordLen {
		s.writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("password hash failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	user, err := s.store.CreateUser(r.Context(), email, hash)
	if errors.Is(err, store.ErrEmailTaken) {
		s.writeError(w, http.StatusConflict, "Email already registered")
		return
	}
	if err != nil {
		s.logger.Error("create user failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	s.logger.Info("user registered", "user", user.ID)
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))

	// A missing user and a wrong password produce the same response so
	// login cannot be used to probe which emails exist.
	user, err := s.store.GetUserByEmail(r.Context(), email)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !auth.CheckPassword(req.Password, user.PasswordHash)) {
		s.writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		s.logger.Error("login lookup failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	token, err := s.tokens.Create(user.ID, user.Email)
	if err != nil {
		s.logger.Error("token create failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	s.logger.Info("user logged in", "user", user.ID)
	s.writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// handleLogout exists for client symmetry. Tokens are stateless, so
// there is nothing to revoke server-side; clients discard the token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}
