package authvalidator

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStaticTokenValidator(t *testing.T) {
	v := NewStaticTokenValidator(map[string]string{"tok-a": "agent-1"})

	agentID, err := v.Validate("tok-a")
	if err != nil {
		t.Fatalf("expected valid token, got error: %v", err)
	}
	if agentID != "agent-1" {
		t.Fatalf("expected agent-1, got %q", agentID)
	}

	if _, err := v.Validate("tok-b"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := v.Validate(""); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestJWTValidator(t *testing.T) {
	secret := "test-secret"
	claims := agentClaims{
		AgentID: "agent-7",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	v := NewJWTValidator(secret)
	agentID, err := v.Validate(signed)
	if err != nil {
		t.Fatalf("expected valid token, got error: %v", err)
	}
	if agentID != "agent-7" {
		t.Fatalf("expected agent-7, got %q", agentID)
	}

	other := NewJWTValidator("wrong-secret")
	if _, err := other.Validate(signed); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for bad secret, got %v", err)
	}
}
