package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pizza-nz/print-agent/internal/api"
	"github.com/pizza-nz/print-agent/internal/service"
)

// contextKey is a type for context keys
type contextKey string

// Context keys
const (
	UserIDKey   contextKey = "userID"
	UserRoleKey contextKey = "userRole"
)

// TokenValidator checks a bearer token
type TokenValidator interface {
	ValidateToken(tokenString string) (*service.Claims, error)
}

// Auth middleware for authenticating requests. The token is taken from the
// Authorization header, or from the token query parameter for websocket
// upgrades where browsers cannot set headers.
func Auth(auth TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.URL.Query().Get("token")
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					api.RespondError(w, http.StatusUnauthorized, "Invalid Authorization header format")
					return
				}
				tokenString = parts[1]
			}
			if tokenString == "" {
				api.RespondError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			claims, err := auth.ValidateToken(tokenString)
			if err != nil {
				api.RespondError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, UserRoleKey, claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole middleware for checking token roles
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := GetUserRole(r.Context())
			if !ok {
				api.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			api.RespondError(w, http.StatusForbidden, "Forbidden")
		})
	}
}

// Helper functions for extracting values from context
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok
}

func GetUserRole(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(UserRoleKey).(string)
	return role, ok
}
