// Package middlewares carries the identity of the current actor from the
// external identity provider (a signed JWT) into request context. Roles map
// onto the state machine's actor variants.
package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"campus-eats/internal/state"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	UserID       int64  `json:"user_id"`
	Role         string `json:"role"`
	RestaurantID int64  `json:"restaurant_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Actor() state.Actor {
	switch strings.ToLower(c.Role) {
	case "student":
		return state.ActorStudent
	case "restaurant":
		return state.ActorRestaurant
	case "courier":
		return state.ActorCourier
	case "system":
		// Trusted collaborators (the payment provider's callback client).
		return state.ActorSystem
	default:
		return state.Actor("")
	}
}

type contextKey string

const userContextKey contextKey = "user"

func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, err := extractToken(r)
			if err != nil {
				http.Error(w, "unauthorized: missing token", http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "unauthorized: invalid token", http.StatusUnauthorized)
				return
			}
			if claims.Actor() == state.Actor("") {
				http.Error(w, "unauthorized: unknown role", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetAuthenticatedUser(r *http.Request) (*Claims, error) {
	claims, ok := r.Context().Value(userContextKey).(*Claims)
	if !ok {
		return nil, errors.New("no user in context")
	}
	return claims, nil
}

// extractToken reads the bearer header, falling back to the token query
// parameter which browser websocket clients cannot avoid.
func extractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return "", errors.New("invalid authorization format")
		}
		return parts[1], nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", errors.New("authorization missing")
}

func RequireRoles(allowedRoles ...state.Actor) func(http.Handler) http.Handler {
	allowed := make(map[state.Actor]bool)
	for _, role := range allowedRoles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetAuthenticatedUser(r)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !allowed[claims.Actor()] {
				http.Error(w, "forbidden: insufficient role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
