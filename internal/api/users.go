package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/blink/internal/auth"
	"github.com/MrWong99/blink/internal/store"
)

const minPasswordLen = 6

type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func newUserResponse(u store.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Email: u.Email}
}

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s, "@")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.Name == "" || !validEmail(in.Email) || utf8.RuneCountInString(in.Password) < minPasswordLen {
		writeError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	hash, err := s.auth.HashPassword(in.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		writeError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}
	if err != nil {
		serverError(w, r, msgServerError, err)
		return
	}
	u, err := s.store.CreateUser(r.Context(), in.Name, in.Email, hash)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, "Email already in use")
		return
	case err != nil:
		serverError(w, r, msgServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(u))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(w, r, &in); err != nil || in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	u, err := s.store.UserByEmail(r.Context(), strings.TrimSpace(in.Email))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	case err != nil:
		serverError(w, r, msgServerError, err)
		return
	}
	if err := s.auth.CheckPassword(u.HashedPassword, in.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, exp, err := s.auth.Issue(u.ID)
	if err != nil {
		serverError(w, r, msgServerError, err)
		return
	}
	s.auth.SetCookie(w, token, exp)
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.auth.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.UserByID(r.Context(), userID(r))
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.auth.ClearCookie(w)
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	case err != nil:
		serverError(w, r, msgServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(u))
}
