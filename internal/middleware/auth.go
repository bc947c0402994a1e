package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/opsdesk/patternd/internal/api"
)

// APIKeyAuth authenticates machine clients such as the helpdesk ticket feed
type APIKeyAuth struct {
	keys [][]byte
}

// NewAPIKeyAuth accepts any of keys. With no keys every request is rejected.
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	a := &APIKeyAuth{}
	for _, k := range keys {
		if k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	if len(a.keys) == 0 {
		log.Printf("APIKeyAuth: No ingest API keys configured, ticket ingestion is closed")
	}
	return a
}

// Wrap wraps an http.Handler with API key authentication
func (a *APIKeyAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			a.unauthorized(w, "Missing API key")
			return
		}
		if !a.valid(key) {
			log.Printf("APIKeyAuth: Invalid API key attempt from %s", r.RemoteAddr)
			a.unauthorized(w, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WrapFunc wraps an http.HandlerFunc with API key authentication
func (a *APIKeyAuth) WrapFunc(next http.HandlerFunc) http.HandlerFunc {
	return a.Wrap(next).ServeHTTP
}

func (a *APIKeyAuth) valid(provided string) bool {
	ok := false
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(provided), k) == 1 {
			ok = true
		}
	}
	return ok
}

func (a *APIKeyAuth) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "ApiKey realm=\"ingest\"")
	api.RespondError(w, http.StatusUnauthorized, message)
}

// extractAPIKey supports "Authorization: Bearer|ApiKey <key>" and X-API-Key
func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for _, scheme := range []string{"Bearer ", "ApiKey "} {
		if key, ok := strings.CutPrefix(auth, scheme); ok {
			return key
		}
	}
	return r.Header.Get("X-API-Key")
}
