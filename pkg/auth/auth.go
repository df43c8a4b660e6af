// Package auth verifies the session tokens that peers present when they connect.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Verifier interface {
	// Verify returns the user id carried by token, or an error wrapping ErrUnauthenticated.
	Verify(ctx context.Context, token string) (string, error)
}

type claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// HMAC verifies HS256 tokens carrying a userId claim.
type HMAC struct {
	secret []byte
}

func NewHMAC(secret string) *HMAC {
	return &HMAC{secret: []byte(secret)}
}

func (h *HMAC) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	c := new(claims)
	if _, err := jwt.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return h.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if c.UserID == "" {
		return "", fmt.Errorf("%w: token has no userId", ErrUnauthenticated)
	}
	return c.UserID, nil
}

// Issue signs a token for userID. A zero ttl produces a token without expiry.
func (h *HMAC) Issue(userID string, ttl time.Duration) (string, error) {
	c := claims{UserID: userID, RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(time.Now())}}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(h.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// FromHeader reads the Authorization header, with or without a Bearer prefix.
func FromHeader(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return v
}
