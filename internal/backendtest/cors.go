package backendtest

import (
	"net/http"
	"strings"
)

var corsAllowHeaders = strings.Join([]string{"Content-Type", "Authorization", "X-Request-ID"}, ", ")

// cors answers like the hosted backend does for its browser client:
// credentialed requests from an explicitly allowed origin only.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AllowOrigins sets the origins that receive CORS headers.
func (s *Server) AllowOrigins(origins ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origins = append([]string(nil), origins...)
}

func (s *Server) originAllowed(origin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.origins {
		if o == origin {
			return true
		}
	}
	return false
}
