package api

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AdminAuth verifies the bearer token staff tools present against a
// bcrypt hash from config. The plaintext token is never stored.
type AdminAuth struct {
	tokenHash []byte
}

// NewAdminAuth creates an authenticator. hash is the bcrypt hash of
// the admin token; empty disables all admin endpoints.
func NewAdminAuth(hash string) *AdminAuth {
	return &AdminAuth{tokenHash: []byte(hash)}
}

// Check verifies a presented token.
func (a *AdminAuth) Check(token string) bool {
	if a == nil || len(a.tokenHash) == 0 || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.tokenHash, []byte(token)) == nil
}

// HashToken produces a bcrypt hash suitable for the config file.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// requireAdmin guards a handler behind the admin bearer token.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil {
			s.errorResponse(w, http.StatusServiceUnavailable, "persistence not configured")
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !s.auth.Check(token) {
			s.errorResponse(w, http.StatusUnauthorized, "admin token required")
			return
		}
		next(w, r)
	}
}
