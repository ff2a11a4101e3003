package backendtest

import (
	"net/http"
	"time"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(r, &req) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[req.Username]
	if !ok || acct.Password != req.Password {
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	token := newToken()
	s.sessions[token] = acct.Username
	omit := s.omitToken
	user := map[string]string{"id": "u-" + acct.Username, "username": acct.Username, "email": acct.Email}
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(24 * time.Hour),
	})

	body := map[string]any{"user": user}
	if !omit {
		body["accessToken"] = token
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(r, &req) || req.Username == "" || req.Password == "" || !plausibleEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "username, email and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Username]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "User already exists"})
		return
	}
	s.accounts[req.Username] = &account{Username: req.Username, Email: req.Email, Password: req.Password}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "registered"})
}

func (s *Server) handleForgotOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decode(r, &req) || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountByEmailLocked(req.Email) == nil {
		writeError(w, http.StatusNotFound, "No account with that email")
		return
	}
	s.otps[req.Email] = newOTP()
	writeJSON(w, http.StatusOK, map[string]string{"message": "OTP sent"})
}

func (s *Server) handleForgot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		OTP      string `json:"otp"`
		Password string `json:"password"`
	}
	if !decode(r, &req) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	want, ok := s.otps[req.Email]
	if !ok || want != req.OTP {
		writeError(w, http.StatusBadRequest, "Invalid or expired OTP")
		return
	}
	acct := s.accountByEmailLocked(req.Email)
	if acct == nil {
		writeError(w, http.StatusNotFound, "No account with that email")
		return
	}
	acct.Password = req.Password
	delete(s.otps, req.Email)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	username := UsernameFromContext(r.Context())

	s.mu.Lock()
	acct := s.accounts[username]
	s.mu.Unlock()
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]string{"id": "u-" + acct.Username, "username": acct.Username, "email": acct.Email},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := tokenFromContext(r.Context())

	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleAsked(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input string `json:"input"`
	}
	if !decode(r, &req) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	replier := s.replier
	s.mu.Unlock()

	text, sender := replier(req.Input)
	body := map[string]string{"text": text}
	if sender != "" {
		body["sender"] = sender
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) accountByEmailLocked(email string) *account {
	for _, a := range s.accounts {
		if a.Email == email {
			return a
		}
	}
	return nil
}
