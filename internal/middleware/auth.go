package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cassiomorais/newsletters/internal/service"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const actorKey contextKey = "actor"

type Claims struct {
	UserID   string `json:"user_id"`
	Mail     string `json:"mail,omitempty"`
	Langcode string `json:"langcode,omitempty"`
	jwt.RegisteredClaims
}

// IdentifyActor attaches the actor behind the request. Requests without an
// Authorization header are anonymous; a header that does not verify is
// rejected.
func IdentifyActor(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || jwtSecret == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, ok := parseBearer(w, authHeader, jwtSecret)
			if !ok {
				return
			}
			ctx := WithActor(r.Context(), service.Actor{
				UserID:   claims.UserID,
				Mail:     claims.Mail,
				Langcode: claims.Langcode,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests whose actor is anonymous. It must run after
// IdentifyActor.
func RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ActorFrom(r.Context()).IsAuthenticated() {
				writeAuthError(w, "missing authorization header", "auth_required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseBearer(w http.ResponseWriter, authHeader, jwtSecret string) (*Claims, bool) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		writeAuthError(w, "invalid authorization scheme", "auth_invalid_scheme")
		return nil, false
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(jwtSecret), nil
	})

	if err != nil || !token.Valid || claims.UserID == "" {
		writeAuthError(w, "invalid token", "auth_invalid")
		return nil, false
	}
	return claims, true
}

func WithActor(ctx context.Context, actor service.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the request actor, anonymous when none was attached.
func ActorFrom(ctx context.Context) service.Actor {
	actor, _ := ctx.Value(actorKey).(service.Actor)
	return actor
}

func writeAuthError(w http.ResponseWriter, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  code,
	})
}
