package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

var ErrTokenExpired = errors.New("token expired")

// Claims is what the console needs to know about a token without holding
// the signing secret.
type Claims struct {
	Subject   string
	AgentID   string
	Role      string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now. Tokens with
// no expiry never expire.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Inspect decodes a JWT's claims without verifying its signature.
func Inspect(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}

	var out Claims
	out.Subject, _ = claims["sub"].(string)
	out.AgentID, _ = claims["agent_id"].(string)
	out.Role, _ = claims["role"].(string)
	if out.AgentID == "" {
		out.AgentID = out.Subject
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return out, nil
}

// Check returns the claims of token, or ErrTokenExpired when it can no longer
// authenticate.
func Check(token string, now time.Time) (Claims, error) {
	c, err := Inspect(token)
	if err != nil {
		return Claims{}, err
	}
	if c.Expired(now) {
		return c, ErrTokenExpired
	}
	return c, nil
}
