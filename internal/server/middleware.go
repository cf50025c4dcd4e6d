package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"veilleur/internal/logger"
)

// requireOperator guards mutating routes with the operator bearer token.
// No configured token means the mutating surface is off: 503, so a probe
// cannot distinguish a wrong key from a disabled deployment by brute force.
func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.AdminToken
		if token == "" {
			respondError(w, http.StatusServiceUnavailable, "administration désactivée : aucun jeton opérateur configuré")
			return
		}

		auth := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			logger.Warn("Admin auth rejected", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			respondError(w, http.StatusUnauthorized, "jeton opérateur invalide")
			return
		}
		next.ServeHTTP(w, r)
	})
}
