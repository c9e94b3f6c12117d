package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"backjob/internal/auth"
	"backjob/pkg/api"
)

// RequireInternalAuth ensures the request carries the system secret as a
// bearer token. Both sides are hashed first so the comparison runs over
// equal-length inputs.
func RequireInternalAuth(systemSecret string) func(http.Handler) http.Handler {
	want := []byte(auth.HashKey(systemSecret))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				unauthorized(w, "Invalid authorization header")
				return
			}

			got := []byte(auth.HashKey(parts[1]))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				unauthorized(w, "Invalid authorization token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: msg,
		Code:  strconv.Itoa(code),
	})
}
