/**
 * @description
 * This file contains custom middleware for the HTTP router. The engine
 * itself does not issue tokens; an external identity layer mints HS256 JWTs
 * carrying the caller's subject and role, and this middleware validates them
 * and stashes the caller identity on the request context.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// callerContextKey is a custom type for context keys to avoid collisions.
type callerContextKey string

const (
	callerIDKey   callerContextKey = "callerID"
	callerRoleKey callerContextKey = "callerRole"
)

// Caller roles recognized by the route guards.
const (
	RoleAdmin    = "admin"
	RoleMarketer = "marketer"
)

// AuthMiddleware creates a middleware that validates HS256 JWTs and places
// the caller's subject and role on the request context.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			subject, _ := claims["sub"].(string)
			if subject == "" {
				http.Error(w, "Token missing subject", http.StatusUnauthorized)
				return
			}
			role, _ := claims["role"].(string)

			ctx := context.WithValue(r.Context(), callerIDKey, subject)
			ctx = context.WithValue(ctx, callerRoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole guards a route group so only callers with the given role pass.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if callerRole, _ := r.Context().Value(callerRoleKey).(string); callerRole != role {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetCallerID retrieves the authenticated caller's subject from the context.
func GetCallerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerIDKey).(string)
	return id, ok && id != ""
}
