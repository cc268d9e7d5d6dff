package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mailpilot/mailpilot/internal/auth"
)

// Context keys for authenticated user data
const (
	UserIDKey contextKey = "user_id"
	EmailKey  contextKey = "email"
)

// Auth creates an authentication middleware that validates bearer JWTs
func (m *Middleware) Auth(tokenSvc *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tokenString string

			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
					tokenString = strings.TrimSpace(parts[1])
				}
			}

			if tokenString == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			claims, err := tokenSvc.ValidateAccessToken(tokenString)
			if err != nil {
				m.log.Debug().Err(err).Msg("token validation failed")
				writeJSONError(w, http.StatusUnauthorized, "token_expired", "The access token is invalid or expired")
				return
			}

			if t := traceFrom(r.Context()); t != nil {
				t.setCaller(claims.Subject, r.PathValue("id"))
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, EmailKey, claims.Email)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID retrieves the authenticated user ID from context
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"}}`))
}
