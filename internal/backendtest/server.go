// Package backendtest provides an in-process Chatify backend for tests.
//
// The server implements the seven endpoints the client consumes, accepts
// credentials either as a bearer token or as a session cookie, and exposes
// hooks to inject failures, hold requests in flight and take the whole
// backend offline.
package backendtest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// CookieName is the session cookie the fake backend issues.
const CookieName = "token"

type account struct {
	Username string
	Email    string
	Password string
}

// Server is a fake Chatify backend.
type Server struct {
	srv *httptest.Server

	mu           sync.Mutex
	accounts     map[string]*account // username -> account
	sessions     map[string]string   // token -> username
	otps         map[string]string   // email -> otp
	failures     map[string][]int    // path -> queued status codes
	holds        map[string]*hold
	offline      bool
	omitToken    bool
	calls        map[string]int
	requestIDs   []string
	lastAuthType string
	replier      func(input string) (text, sender string)
	origins      []string
}

// NewServer starts a fake backend. Close it with Close.
func NewServer() *Server {
	s := &Server{
		accounts: make(map[string]*account),
		sessions: make(map[string]string),
		otps:     make(map[string]string),
		failures: make(map[string][]int),
		holds:    make(map[string]*hold),
		calls:    make(map[string]int),
		replier: func(input string) (string, string) {
			return "echo: " + input, "bot"
		},
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.cors)
	r.Use(s.record)
	r.Use(s.faults)

	r.Post("/login", s.handleLogin)
	r.Post("/register", s.handleRegister)
	r.Post("/forgot/otp", s.handleForgotOTP)
	r.Post("/forgot", s.handleForgot)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/me", s.handleMe)
		r.Post("/logout", s.handleLogout)
		r.Post("/asked", s.handleAsked)
	})

	s.srv = httptest.NewServer(r)
	return s
}

// URL returns the base URL of the server.
func (s *Server) URL() string { return s.srv.URL }

// Client returns an HTTP client wired to the server.
func (s *Server) Client() *http.Client { return s.srv.Client() }

// Close shuts the server down, releasing any held requests first.
func (s *Server) Close() {
	s.mu.Lock()
	held := make([]*hold, 0, len(s.holds))
	for path, h := range s.holds {
		held = append(held, h)
		delete(s.holds, path)
	}
	s.mu.Unlock()
	for _, h := range held {
		h.release()
	}
	s.srv.Close()
}

// AddUser registers an account directly.
func (s *Server) AddUser(username, email, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[username] = &account{Username: username, Email: email, Password: password}
}

// HasUser reports whether username is registered.
func (s *Server) HasUser(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.accounts[username]
	return ok
}

// Password returns the current password for username.
func (s *Server) Password(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[username]; ok {
		return a.Password
	}
	return ""
}

// OTP returns the last OTP issued for email.
func (s *Server) OTP(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.otps[email]
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// FailNext makes the next request to path answer with status.
// Calls queue up; each failure is consumed by one request.
func (s *Server) FailNext(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = append(s.failures[path], status)
}

// SetOffline makes every request fail at the transport level.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// OmitAccessToken stops /login from returning a token in its body.
func (s *Server) OmitAccessToken(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitToken = omit
}

// SetReplier overrides how /asked answers.
func (s *Server) SetReplier(fn func(input string) (text, sender string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replier = fn
}

type hold struct {
	ch   chan struct{}
	once sync.Once
}

func (h *hold) release() {
	h.once.Do(func() { close(h.ch) })
}

// Hold blocks requests to path until the returned release func is called.
func (s *Server) Hold(path string) (release func()) {
	h := &hold{ch: make(chan struct{})}
	s.mu.Lock()
	s.holds[path] = h
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if s.holds[path] == h {
			delete(s.holds, path)
		}
		s.mu.Unlock()
		h.release()
	}
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// RequestIDs returns the request IDs seen so far, in arrival order.
func (s *Server) RequestIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requestIDs...)
}

// LastAuthType returns "bearer", "cookie" or "" for the last authorized call.
func (s *Server) LastAuthType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuthType
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.requestIDs = append(s.requestIDs, chiMiddleware.GetReqID(r.Context()))
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		offline := s.offline
		h := s.holds[r.URL.Path]
		var status int
		if q := s.failures[r.URL.Path]; len(q) > 0 {
			status = q[0]
			s.failures[r.URL.Path] = q[1:]
		}
		s.mu.Unlock()

		if h != nil {
			select {
			case <-h.ch:
			case <-r.Context().Done():
				return
			}
		}

		if offline {
			dropConnection(w)
			return
		}
		if status != 0 {
			writeError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// dropConnection closes the TCP connection without writing a response.
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("backendtest: response writer cannot hijack")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func newToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func newOTP() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	n := (int(buf[0])<<16 | int(buf[1])<<8 | int(buf[2])) % 1000000
	return leftPad(n)
}

func leftPad(n int) string {
	digits := []byte("000000")
	for i := 5; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits)
}

func decode(r *http.Request, v any) bool {
	return json.NewDecoder(r.Body).Decode(v) == nil
}

func plausibleEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at:], ".")
}
