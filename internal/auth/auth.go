// Package auth resolves the requester of a gateway call from its bearer
// credential.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/franckalain/glowscan/internal/models"
)

// Strategy names the credential kind that resolved a requester.
type Strategy string

const (
	StrategyWorkerSecret Strategy = "worker_secret"
	StrategyJWT          Strategy = "jwt"
)

// Identity is a resolved requester.
type Identity struct {
	UserID   string
	Strategy Strategy
}

// Authenticator verifies bearer tokens. Either secret may be empty, which
// disables that strategy.
type Authenticator struct {
	workerSecret []byte
	jwtSecret    []byte
	now          func() time.Time
}

// New returns an Authenticator. now is used for token expiry checks.
func New(workerSecret, jwtSecret string, now func() time.Time) *Authenticator {
	if now == nil {
		now = time.Now
	}
	return &Authenticator{
		workerSecret: []byte(workerSecret),
		jwtSecret:    []byte(jwtSecret),
		now:          now,
	}
}

// Configured reports whether at least one strategy can verify tokens.
func (a *Authenticator) Configured() bool {
	return len(a.workerSecret) > 0 || len(a.jwtSecret) > 0
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Authenticate resolves the requester for token. bodyUserID is only trusted
// when token is the static worker secret.
func (a *Authenticator) Authenticate(token, bodyUserID string) (Identity, error) {
	if !a.Configured() {
		return Identity{}, fmt.Errorf("%w: no authentication strategy configured", models.ErrMisconfigured)
	}
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing bearer token", models.ErrUnauthenticated)
	}

	if len(a.workerSecret) > 0 && subtle.ConstantTimeCompare([]byte(token), a.workerSecret) == 1 {
		if bodyUserID == "" {
			return Identity{}, fmt.Errorf("%w: worker call without user_id", models.ErrUnauthenticated)
		}
		return Identity{UserID: bodyUserID, Strategy: StrategyWorkerSecret}, nil
	}

	if len(a.jwtSecret) == 0 {
		return Identity{}, fmt.Errorf("%w: token rejected", models.ErrUnauthenticated)
	}

	sub, err := a.verifyJWT(token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", models.ErrUnauthenticated, err)
	}
	return Identity{UserID: sub, Strategy: StrategyJWT}, nil
}

func (a *Authenticator) verifyJWT(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return a.jwtSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}
