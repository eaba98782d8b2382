package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mind-engage/bitacora/internal/rbac"
)

// Middleware requires a valid bearer token and stores its subject and role
// in the request context for rbac.
func (a *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			unauthorized(w, "missing bearer token")
			return
		}
		c, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			unauthorized(w, "invalid token")
			return
		}
		ctx := rbac.WithSubject(rbac.WithRole(r.Context(), c.Role), c.Sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="bitacora"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": "Unauthorized"})
}
