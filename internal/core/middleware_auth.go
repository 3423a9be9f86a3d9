package core

import (
	"crypto/subtle"
	"net/http"

	"habitly/internal/types"
)

// AdminKeyHeader carries the shared admin key.
const AdminKeyHeader = "X-Admin-Key"

// AdminKeyMiddleware rejects requests whose X-Admin-Key does not match key.
// An unset key disables the check, which LoadConfig only permits locally.
func AdminKeyMiddleware(key types.SecretString) func(http.Handler) http.Handler {
	expected := []byte(key.Unmask())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get(AdminKeyHeader)
			if got == "" {
				Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "X-Admin-Key header is required", nil))
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				Error(w, r, types.NewAppError(types.ErrCodeAuthKeyInvalid, "invalid admin key", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
