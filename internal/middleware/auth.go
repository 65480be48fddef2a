package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const (
	PublisherKey contextKey = "publisher"
	APIKeyKey    contextKey = "api_key"
)

// APIKeyAuth resolves the publisher behind the Authorization header.
// validKeys maps publisher id to API key.
func APIKeyAuth(validKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "missing Authorization header")
				return
			}

			// Support both "Bearer <key>" and "<key>" formats
			apiKey := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid Authorization header format")
				return
			}

			// constant-time comparison
			var publisher string
			for p, key := range validKeys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					publisher = p
					break
				}
			}
			if publisher == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), PublisherKey, publisher)
			ctx = context.WithValue(ctx, APIKeyKey, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithPublisher stores an already-resolved publisher id, e.g. from a trusted
// gateway header when API keys are not configured.
func WithPublisher(ctx context.Context, publisher string) context.Context {
	return context.WithValue(ctx, PublisherKey, publisher)
}

// PublisherFromContext returns the authenticated publisher, or "".
func PublisherFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(PublisherKey).(string); ok {
		return p
	}
	return ""
}

// RequirePublisher rejects requests that carry no valid publisher identity.
func RequirePublisher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PublisherFromContext(r.Context())
		if p == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "publisher identity required")
			return
		}
		if err := ValidatePublisherID(p); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/") || path == "/metrics"
}
