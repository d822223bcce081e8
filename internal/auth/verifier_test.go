package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("   "); err == nil {
		t.Fatal("expected error for blank secret")
	}
}

func TestVerifyTokenUserClaim(t *testing.T) {
	verifier, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	token := signToken(t, testSecret, jwt.MapClaims{
		"user": map[string]any{"id": "alice"},
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	participantID, err := verifier.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if participantID != "alice" {
		t.Fatalf("expected alice, got %s", participantID)
	}
}

func TestVerifyTokenSubjectFallback(t *testing.T) {
	verifier, _ := NewVerifier(testSecret)

	token := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "bob",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	participantID, err := verifier.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if participantID != "bob" {
		t.Fatalf("expected bob, got %s", participantID)
	}
}

func TestVerifyTokenRejections(t *testing.T) {
	verifier, _ := NewVerifier(testSecret)

	if _, err := verifier.VerifyToken(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := verifier.VerifyToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}

	wrongKey := signToken(t, "other-secret", jwt.RegisteredClaims{Subject: "alice"})
	if _, err := verifier.VerifyToken(wrongKey); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong key, got %v", err)
	}

	expired := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	if _, err := verifier.VerifyToken(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	noIdentity := signToken(t, testSecret, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if _, err := verifier.VerifyToken(noIdentity); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without identity, got %v", err)
	}
}
