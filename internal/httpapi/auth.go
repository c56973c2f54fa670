package httpapi

import (
	"net/http"

	"github.com/antoniostano/confidant/internal/auth"
)

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	user, err := s.auth.Signup(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, err, "Internal server error")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "User created successfully",
		"user":    user,
	})
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}
	sess, err := s.auth.Signin(r.Context(), req.Email, req.Password)
	if err != nil {
		s.respondServiceError(w, err, "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Signout(r.Context(), auth.TokenFromRequest(r)); err != nil {
		s.respondServiceError(w, err, "Failed to sign out")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}
