package middleware

import (
	"context"
	"net/http"
	"strings"

	"payledger/internal/auth"
)

const (
	AdminKeyHeader   = "X-Admin-Key"
	AdminActorHeader = "X-Admin-Actor"
)

// AdminActorFromContext names who performed an admin call, for audit rows.
func AdminActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(adminKey).(string)
	return actor
}

// RequireAdminKey checks X-Admin-Key against a bcrypt hash. An empty hash
// disables the admin surface.
func RequireAdminKey(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				http.Error(w, "admin api disabled", http.StatusForbidden)
				return
			}
			key := r.Header.Get(AdminKeyHeader)
			if key == "" {
				http.Error(w, "missing admin key", http.StatusUnauthorized)
				return
			}
			if !auth.CheckKey(keyHash, key) {
				http.Error(w, "invalid admin key", http.StatusForbidden)
				return
			}
			actor := strings.TrimSpace(r.Header.Get(AdminActorHeader))
			if actor == "" {
				actor = "admin"
			}
			ctx := context.WithValue(r.Context(), adminKey, "admin:"+actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
