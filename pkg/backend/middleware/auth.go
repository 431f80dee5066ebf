package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"os"
	"strings"
)

type AuthConfig struct {
	Enabled     bool
	APIKey      string
	APIKeyEnv   string
	PublicPaths []string
}

// Auth requires "Authorization: Bearer <key>" on every non-public path. With no
// key configured the check is skipped.
func Auth(config AuthConfig) func(http.Handler) http.Handler {
	expectedKey := config.APIKey
	if expectedKey == "" && config.APIKeyEnv != "" {
		expectedKey = os.Getenv(config.APIKeyEnv)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled || expectedKey == "" || isPublic(r.URL.Path, config.PublicPaths) {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(expectedKey)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"success":    false,
					"request_id": GetRequestID(r.Context()),
					"error": map[string]string{
						"code":    "UNAUTHORIZED",
						"message": "Invalid or missing API key",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}
