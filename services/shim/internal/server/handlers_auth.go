package server

import (
	"net/http"
	"strings"

	"fieldsync/pkg/domain"
	"fieldsync/services/shim/internal/app"
)

type googleLoginRequest struct {
	IDToken    string `json:"id_token"`
	Credential string `json:"credential"`
}

type forgotPasswordRequest struct {
	Action   string `json:"action"`
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "Too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req app.LoginInput
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "auth.login", "fail", "reason", "invalid_json")
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.app.Login(r.Context(), req)
	if err != nil {
		s.audit(r, "auth.login", "fail", "reason", string(domain.KindOf(err)))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", res.User.ID)
	success(w, map[string]any{"user": res.User, "token": res.Token})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "Too many signup attempts") {
		s.audit(r, "auth.register", "rate_limited")
		return
	}
	var req app.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "auth.register", "fail", "reason", "invalid_json")
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.app.Register(r.Context(), req)
	if err != nil {
		s.audit(r, "auth.register", "fail", "reason", string(domain.KindOf(err)))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.register", "success", "user_id", res.User.ID)
	success(w, map[string]any{"user": res.User, "token": res.Token, "message": "Registration successful"})
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "Too many login attempts") {
		s.audit(r, "auth.google", "rate_limited")
		return
	}
	var req googleLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	token := req.IDToken
	if strings.TrimSpace(token) == "" {
		token = req.Credential
	}
	res, err := s.app.GoogleLogin(r.Context(), token)
	if err != nil {
		s.audit(r, "auth.google", "fail", "reason", string(domain.KindOf(err)))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.google", "success", "user_id", res.User.ID)
	success(w, map[string]any{"user": res.User, "token": res.Token})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "Too many password reset attempts") {
		s.audit(r, "auth.password_reset", "rate_limited")
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "", "request":
		if err := s.app.RequestPasswordReset(r.Context(), req.Email); err != nil {
			s.audit(r, "auth.password_reset", "fail", "stage", "request")
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "auth.password_reset", "success", "stage", "request")
		success(w, map[string]any{"message": "If the email is registered, a reset code has been sent"})
	case "reset":
		if err := s.app.ResetPassword(r.Context(), req.Email, req.Code, req.Password); err != nil {
			s.audit(r, "auth.password_reset", "fail", "stage", "reset")
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "auth.password_reset", "success", "stage", "reset")
		success(w, map[string]any{"message": "Password updated"})
	default:
		s.writeAppError(w, r, domain.Validation("action must be request or reset"))
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "auth.logout", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "Unauthorized", domain.KindUnauthorized, nil)
		return
	}
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.audit(r, "auth.logout", "fail", "reason", string(domain.KindOf(err)))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.logout", "success")
	success(w, map[string]any{"message": "Logged out"})
}
