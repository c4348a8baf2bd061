package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"sozuri-connect/internal/db"
	"sozuri-connect/internal/models"
)

const tokenTTL = 24 * time.Hour

type contextKey string

const (
	claimsContextKey contextKey = "claims"
	apiKeyContextKey contextKey = "api_key"
)

// Claims identifies the agent behind a request.
type Claims struct {
	Subject string
	AgentID string
	Role    models.AgentRole
}

func issueToken(secret []byte, agent *models.Agent, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      agent.Email,
		"agent_id": agent.ID,
		"role":     string(agent.Role),
		"iat":      now.Unix(),
		"exp":      now.Add(tokenTTL).Unix(),
	})
	return token.SignedString(secret)
}

func parseToken(secret []byte, raw string) (Claims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, errors.New("invalid token")
	}

	var c Claims
	c.Subject, _ = claims["sub"].(string)
	c.AgentID, _ = claims["agent_id"].(string)
	role, _ := claims["role"].(string)
	c.Role = models.AgentRole(role)
	if c.AgentID == "" {
		return Claims{}, errors.New("token without agent_id")
	}
	return c, nil
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter browsers use for WebSocket upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func claimsFrom(ctx context.Context) Claims {
	c, _ := ctx.Value(claimsContextKey).(Claims)
	return c
}

// AuthMiddleware rejects requests without a valid agent token.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			claims, err := parseToken(secret, raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RoleMiddleware only lets the listed roles through.
func RoleMiddleware(roles ...models.AgentRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := claimsFrom(r.Context()).Role
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
		})
	}
}

// APIKeyMiddleware authenticates widget traffic with the X-API-Key header.
func APIKeyMiddleware(database *db.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := database.VerifyAPIKey(r.Header.Get("X-API-Key"))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}
			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
