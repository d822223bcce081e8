// Package auth resolves participant identity from signed bearer tokens.
//
// Identity is issued elsewhere; this package only verifies HS256 signatures
// and extracts the participant id.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken indicates no token was presented.
	ErrMissingToken = errors.New("auth token is required")
	// ErrInvalidToken indicates a token that failed verification.
	ErrInvalidToken = errors.New("invalid auth token")
)

type tokenClaims struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a verifier for the given shared secret.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// VerifyToken checks the token signature and returns the participant id. The
// id is read from the user claim, falling back to the subject.
func (v *Verifier) VerifyToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	participantID := strings.TrimSpace(claims.User.ID)
	if participantID == "" {
		participantID = strings.TrimSpace(claims.Subject)
	}
	if participantID == "" {
		return "", ErrInvalidToken
	}
	return participantID, nil
}
